package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/jobline/internal/logger"
	"github.com/arloliu/jobline/types"
)

func TestExecute_AllTasksRunAndSlotsDrain(t *testing.T) {
	g := New(WithDefaultMaxConcurrency(2), WithLogger(logger.NewTest(t)))

	var running, peak atomic.Int32
	var done atomic.Int32
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Execute(context.Background(), "owner-1", func(context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				running.Add(-1)
				done.Add(1)

				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(5), done.Load())
	require.LessOrEqual(t, peak.Load(), int32(2))
	require.Equal(t, Status{Current: 0, Max: 2, Queued: 0}, g.Status("owner-1"))
}

func TestExecute_FIFOOrder(t *testing.T) {
	g := New()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	task := func(name string, d time.Duration) func(context.Context) error {
		return func(context.Context) error {
			record(name + ":start")
			time.Sleep(d)
			record(name + ":end")

			return nil
		}
	}

	var wg sync.WaitGroup
	start := func(name string, d time.Duration) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Execute(context.Background(), "u", task(name, d)))
		}()
	}

	start("T1", 100*time.Millisecond)
	require.Eventually(t, func() bool { return g.Status("u").Current == 1 }, time.Second, time.Millisecond)
	start("T2", 50*time.Millisecond)
	require.Eventually(t, func() bool { return g.Status("u").Queued == 1 }, time.Second, time.Millisecond)
	start("T3", 50*time.Millisecond)
	require.Eventually(t, func() bool { return g.Status("u").Queued == 2 }, time.Second, time.Millisecond)

	wg.Wait()

	require.Equal(t, []string{
		"T1:start", "T1:end",
		"T2:start", "T2:end",
		"T3:start", "T3:end",
	}, order)
}

func TestExecute_KeysAreIndependent(t *testing.T) {
	g := New()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Execute(context.Background(), "a", func(context.Context) error {
			close(started)
			<-release

			return nil
		})
	}()
	<-started

	ran := false
	err := g.Execute(context.Background(), "b", func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)

	close(release)
	require.Eventually(t, func() bool { return g.Status("a").Current == 0 }, time.Second, time.Millisecond)
}

func TestExecute_FailureReleasesSlot(t *testing.T) {
	g := New()
	boom := errors.New("boom")

	err := g.Execute(context.Background(), "u", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, g.Status("u").Current)

	err = g.Execute(context.Background(), "u", func(context.Context) error { return nil })
	require.NoError(t, err)
}

func TestExecute_PanicReleasesSlotAndPropagates(t *testing.T) {
	g := New()

	require.PanicsWithValue(t, "kaboom", func() {
		_ = g.Execute(context.Background(), "u", func(context.Context) error {
			panic("kaboom")
		})
	})
	require.Equal(t, 0, g.Status("u").Current)

	require.NoError(t, g.Execute(context.Background(), "u", func(context.Context) error { return nil }))
}

func TestExecute_FailureDoesNotBlockQueuedTasks(t *testing.T) {
	g := New()

	release := make(chan struct{})
	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Execute(context.Background(), "u", func(context.Context) error {
			close(started)
			<-release

			return errors.New("first failed")
		})
	}()
	<-started

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- g.Execute(context.Background(), "u", func(context.Context) error { return nil })
	}()
	require.Eventually(t, func() bool { return g.Status("u").Queued == 1 }, time.Second, time.Millisecond)

	close(release)
	require.Error(t, <-errCh)
	require.NoError(t, <-secondDone)
}

func TestExecute_CancelledWaiterIsRemoved(t *testing.T) {
	g := New()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Execute(context.Background(), "u", func(context.Context) error {
			close(started)
			<-release

			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	ran := atomic.Bool{}
	go func() {
		errCh <- g.Execute(ctx, "u", func(context.Context) error {
			ran.Store(true)
			return nil
		})
	}()
	require.Eventually(t, func() bool { return g.Status("u").Queued == 1 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	require.Equal(t, 0, g.Status("u").Queued)

	close(release)
	require.Eventually(t, func() bool { return g.Status("u").Current == 0 }, time.Second, time.Millisecond)
	require.False(t, ran.Load())
}

func TestExecute_CancelledContextBeforeAcquire(t *testing.T) {
	g := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.Execute(ctx, "u", func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecuteValue(t *testing.T) {
	g := New()

	v, err := ExecuteValue(context.Background(), g, "u", func(context.Context) (string, error) {
		return "artifact", nil
	})
	require.NoError(t, err)
	require.Equal(t, "artifact", v)
}

func TestSetMaxConcurrency_RaiseAdmitsWaiters(t *testing.T) {
	g := New()

	release := make(chan struct{})
	var started atomic.Int32
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Execute(context.Background(), "u", func(context.Context) error {
				started.Add(1)
				<-release

				return nil
			})
		}()
	}
	require.Eventually(t, func() bool { return g.Status("u").Queued == 2 }, time.Second, time.Millisecond)
	require.Equal(t, int32(1), started.Load())

	g.SetMaxConcurrency("u", 3)
	require.Eventually(t, func() bool { return started.Load() == 3 }, time.Second, time.Millisecond)

	close(release)
	wg.Wait()
}

func TestSetMaxConcurrency_LowerDoesNotOvershoot(t *testing.T) {
	g := New(WithDefaultMaxConcurrency(3))

	release := make(chan struct{})
	var running, peakAfterLower atomic.Int32
	lowered := atomic.Bool{}
	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Execute(context.Background(), "u", func(context.Context) error {
				n := running.Add(1)
				if lowered.Load() && n > peakAfterLower.Load() {
					peakAfterLower.Store(n)
				}
				<-release
				running.Add(-1)

				return nil
			})
		}()
	}
	require.Eventually(t, func() bool { return g.Status("u").Queued == 3 }, time.Second, time.Millisecond)

	lowered.Store(true)
	g.SetMaxConcurrency("u", 1)
	require.Equal(t, 3, g.Status("u").Current)

	close(release)
	wg.Wait()

	// The three running tasks finish; the queued ones then run one at a time.
	require.LessOrEqual(t, peakAfterLower.Load(), int32(1))
	require.Equal(t, Status{Current: 0, Max: 1, Queued: 0}, g.Status("u"))
}

func TestSetMaxConcurrency_ClampsToOne(t *testing.T) {
	g := New()
	g.SetMaxConcurrency("u", 0)
	require.Equal(t, 1, g.Status("u").Max)

	g.SetMaxConcurrency("u", -5)
	require.Equal(t, 1, g.Status("u").Max)
}

func TestStatusAndKeys(t *testing.T) {
	g := New(WithDefaultMaxConcurrency(4))
	require.Equal(t, Status{Max: 4}, g.Status("missing"))
	require.Empty(t, g.Keys())

	require.NoError(t, g.Execute(context.Background(), "b", func(context.Context) error { return nil }))
	g.SetMaxConcurrency("a", 2)

	require.Equal(t, []string{"a", "b"}, g.Keys())
}

func TestReset_ReleasesWaiters(t *testing.T) {
	g := New()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Execute(context.Background(), "u", func(context.Context) error {
			close(started)
			<-release

			return nil
		})
	}()
	<-started

	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Execute(context.Background(), "u", func(context.Context) error { return nil })
	}()
	require.Eventually(t, func() bool { return g.Status("u").Queued == 1 }, time.Second, time.Millisecond)

	g.Reset()
	require.ErrorIs(t, <-errCh, types.ErrGateReset)
	require.Empty(t, g.Keys())

	close(release)
}

func TestExecute_InvariantUnderLoad(t *testing.T) {
	const maxPerKey = 3
	g := New(WithDefaultMaxConcurrency(maxPerKey))

	var violations atomic.Int32
	counters := map[string]*atomic.Int32{"a": {}, "b": {}, "c": {}}

	var wg sync.WaitGroup
	for i := range 60 {
		key := []string{"a", "b", "c"}[i%3]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Execute(context.Background(), key, func(context.Context) error {
				if counters[key].Add(1) > maxPerKey {
					violations.Add(1)
				}
				time.Sleep(time.Millisecond)
				counters[key].Add(-1)

				return nil
			})
		}()
	}
	wg.Wait()

	require.Zero(t, violations.Load())
	for _, key := range []string{"a", "b", "c"} {
		require.Equal(t, 0, g.Status(key).Current)
	}
}
