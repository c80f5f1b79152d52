package natskv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	jltesting "github.com/arloliu/jobline/testing"
	"github.com/arloliu/jobline/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	_, nc := jltesting.StartEmbeddedNATS(t)
	js := jltesting.NewJetStream(t, nc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := New(ctx, js, Config{Bucket: "test-jobs"})
	require.NoError(t, err)

	return s
}

func TestStore_UpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	job := &types.Job{ID: "job-1", Owner: "u1", Status: types.StatusQueued, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.Upsert(ctx, job))

	require.NoError(t, job.Transition(types.StatusRunning, now))
	require.NoError(t, job.Transition(types.StatusFailed, now))
	job.Error = "generator unavailable"
	require.NoError(t, s.Upsert(ctx, job))

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, got.Status)
	require.Equal(t, "generator unavailable", got.Error)
	require.Equal(t, 1, got.Attempts)
	require.True(t, got.CreatedAt.Equal(now))
}

func TestStore_UnsafeIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"owner/42:report", "a b", "dots.in.id"} {
		require.NoError(t, s.Upsert(ctx, &types.Job{ID: id, Status: types.StatusQueued}))
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, id, got.ID)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, types.ErrJobNotFound)
}

func TestJobKey(t *testing.T) {
	require.Equal(t, "job.abc-123", jobKey("abc-123"))
	require.Equal(t, "job.b64.YS9i", jobKey("a/b"))
	require.NotEqual(t, jobKey("a.b"), jobKey("a_b"))
}
