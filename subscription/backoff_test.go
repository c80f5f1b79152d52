package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJitterBackoff_Bounds(t *testing.T) {
	base := 200 * time.Millisecond
	capDur := 500 * time.Millisecond
	rng := newRetryRNG(42)

	prev := time.Duration(0)
	for range 20 {
		next := jitterBackoff(prev, base, 1.6, capDur, rng)
		require.GreaterOrEqual(t, next, base)
		require.LessOrEqual(t, next, capDur)
		prev = next
	}
}

func TestJitterBackoff_Guards(t *testing.T) {
	require.Equal(t, 50*time.Millisecond, jitterBackoff(0, 0, 2, 0, nil))
	require.Equal(t, 10*time.Millisecond, jitterBackoff(time.Second, 100*time.Millisecond, 2, 10*time.Millisecond, nil))
	require.Equal(t, 100*time.Millisecond, jitterBackoff(0, 100*time.Millisecond, 0.5, time.Second, nil))
}

func TestJitterBackoff_DeterministicWithSeed(t *testing.T) {
	a := newFetchBackoff(10*time.Millisecond, time.Second, 7)
	b := newFetchBackoff(10*time.Millisecond, time.Second, 7)

	for range 10 {
		require.Equal(t, a.Next(), b.Next())
	}
}

func TestFetchBackoff_Reset(t *testing.T) {
	b := newFetchBackoff(10*time.Millisecond, time.Second, 1)
	require.Equal(t, 10*time.Millisecond, b.Next())
	for range 5 {
		b.Next()
	}

	b.Reset()
	require.Equal(t, 10*time.Millisecond, b.Next())
}

func TestNewRetryRNG_ZeroSeed(t *testing.T) {
	require.Nil(t, newRetryRNG(0))
	require.NotNil(t, newRetryRNG(3))
}
