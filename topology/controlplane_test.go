package topology

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	jltesting "github.com/arloliu/jobline/testing"
)

func TestJetStreamControlPlane_ReconcileIsIdempotent(t *testing.T) {
	_, nc := jltesting.StartEmbeddedNATS(t)
	js := jltesting.NewJetStream(t, nc)
	cp := NewJetStreamControlPlane(js)
	r := NewReconciler(cp)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report, err := r.Reconcile(ctx, testDesired(), Options{})
	require.NoError(t, err)
	require.Equal(t, map[Action]int{ActionCreate: 3}, report.Counts())

	report, err = r.Reconcile(ctx, testDesired(), Options{})
	require.NoError(t, err)
	require.Equal(t, map[Action]int{ActionNoop: 3}, report.Counts())

	stream, err := js.Stream(ctx, "JOBS")
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"jobs.request", "jobs.ingest"}, info.Config.Subjects)
	require.Equal(t, 24*time.Hour, info.Config.MaxAge)

	consumer, err := js.Consumer(ctx, "JOBS", "jobs-worker")
	require.NoError(t, err)
	cinfo, err := consumer.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, "jobs.request", cinfo.Config.FilterSubject)
	require.Equal(t, -1, cinfo.Config.MaxDeliver)
}

func TestJetStreamControlPlane_UpdateInPlaceKeepsMessages(t *testing.T) {
	_, nc := jltesting.StartEmbeddedNATS(t)
	js := jltesting.NewJetStream(t, nc)
	r := NewReconciler(NewJetStreamControlPlane(js))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := r.Reconcile(ctx, testDesired(), Options{})
	require.NoError(t, err)

	_, err = js.Publish(ctx, "jobs.request", []byte("keep me"))
	require.NoError(t, err)

	changed := testDesired()
	changed.Streams[0].Subjects = append(changed.Streams[0].Subjects, "jobs.replay")
	changed.Streams[0].Consumers[0].AckWait = time.Minute

	dry, err := r.Reconcile(ctx, changed, Options{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, map[Action]int{ActionUpdate: 2, ActionNoop: 1}, dry.Counts())

	stream, err := js.Stream(ctx, "JOBS")
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	require.Len(t, info.Config.Subjects, 2)

	report, err := r.Reconcile(ctx, changed, Options{})
	require.NoError(t, err)
	require.Equal(t, map[Action]int{ActionUpdate: 2, ActionNoop: 1}, report.Counts())

	info, err = stream.Info(ctx)
	require.NoError(t, err)
	require.Len(t, info.Config.Subjects, 3)
	require.Equal(t, uint64(1), info.State.Msgs)

	consumer, err := js.Consumer(ctx, "JOBS", "jobs-worker")
	require.NoError(t, err)
	require.Equal(t, time.Minute, consumer.CachedInfo().Config.AckWait)

	report, err = r.Reconcile(ctx, changed, Options{})
	require.NoError(t, err)
	require.False(t, report.Changed())
}

func TestJetStreamControlPlane_NotFound(t *testing.T) {
	_, nc := jltesting.StartEmbeddedNATS(t)
	cp := NewJetStreamControlPlane(jltesting.NewJetStream(t, nc))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := cp.StreamConfig(ctx, "MISSING")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = cp.ConsumerConfig(ctx, "MISSING", "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJetStreamControlPlane_ShortMaxAge(t *testing.T) {
	_, nc := jltesting.StartEmbeddedNATS(t)
	js := jltesting.NewJetStream(t, nc)
	r := NewReconciler(NewJetStreamControlPlane(js))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	desired := Desired{Streams: []StreamSpec{
		{Name: "SHORT", Subjects: []string{"short.>"}, MaxAge: 30 * time.Second},
	}}

	report, err := r.Reconcile(ctx, desired, Options{})
	require.NoError(t, err)
	require.Equal(t, map[Action]int{ActionCreate: 1}, report.Counts())

	report, err = r.Reconcile(ctx, desired, Options{})
	require.NoError(t, err)
	require.Equal(t, map[Action]int{ActionNoop: 1}, report.Counts())

	stream, err := js.Stream(ctx, "SHORT")
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, stream.CachedInfo().Config.Duplicates)
}

func TestJetStreamControlPlane_ExistingShortMaxAgeIsNoop(t *testing.T) {
	_, nc := jltesting.StartEmbeddedNATS(t)
	js := jltesting.NewJetStream(t, nc)
	jltesting.CreateStream(t, js, jetstream.StreamConfig{
		Name:     "SHORT",
		Subjects: []string{"short.>"},
		MaxAge:   45 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report, err := NewReconciler(NewJetStreamControlPlane(js)).Reconcile(ctx, Desired{Streams: []StreamSpec{
		{Name: "SHORT", Subjects: []string{"short.>"}, MaxAge: 45 * time.Second},
	}}, Options{})
	require.NoError(t, err)
	require.Equal(t, map[Action]int{ActionNoop: 1}, report.Counts())
}

func TestJetStreamControlPlane_MultipleFilterSubjects(t *testing.T) {
	_, nc := jltesting.StartEmbeddedNATS(t)
	js := jltesting.NewJetStream(t, nc)
	r := NewReconciler(NewJetStreamControlPlane(js))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	desired := testDesired()
	desired.Streams[0].Subjects = append(desired.Streams[0].Subjects, "jobs.audit")
	desired.Streams[0].Consumers[0].FilterSubject = ""
	desired.Streams[0].Consumers[0].FilterSubjects = []string{"jobs.request", "jobs.ingest"}

	report, err := r.Reconcile(ctx, desired, Options{})
	require.NoError(t, err)
	require.Equal(t, map[Action]int{ActionCreate: 3}, report.Counts())

	report, err = r.Reconcile(ctx, desired, Options{})
	require.NoError(t, err)
	require.Equal(t, map[Action]int{ActionNoop: 3}, report.Counts())

	consumer, err := js.Consumer(ctx, "JOBS", "jobs-worker")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"jobs.request", "jobs.ingest"}, consumer.CachedInfo().Config.FilterSubjects)

	desired.Streams[0].Consumers[0].FilterSubjects = []string{"jobs.request"}
	report, err = r.Reconcile(ctx, desired, Options{})
	require.NoError(t, err)
	require.Equal(t, map[Action]int{ActionUpdate: 1, ActionNoop: 2}, report.Counts())

	consumer, err = js.Consumer(ctx, "JOBS", "jobs-worker")
	require.NoError(t, err)
	require.Equal(t, "jobs.request", consumer.CachedInfo().Config.FilterSubject)
}
