package gate

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/jobline/types"
)

// Status is a point-in-time snapshot of one key.
type Status struct {
	// Current is the number of tasks running for the key.
	Current int
	// Max is the configured concurrency limit for the key.
	Max int
	// Queued is the number of tasks waiting for a slot.
	Queued int
}

// Gate bounds concurrent task execution per key.
//
// Gate is safe for concurrent use. The zero value is not usable; create
// instances with New.
type Gate struct {
	keys       *xsync.Map[string, *keyGate]
	defaultMax int
	queued     atomic.Int64
	metrics    types.GateMetrics
	logger     types.Logger
}

// keyGate holds the state of a single key. All fields are guarded by mu.
type keyGate struct {
	mu      sync.Mutex
	current int
	max     int
	waiters []*waiter
}

type waiter struct {
	ready    chan struct{}
	admitted bool
	err      error
}

// New creates a Gate.
//
// Parameters:
//   - opts: Optional configuration (default limit, metrics, logger)
//
// Returns:
//   - *Gate: Gate with no keys
//
// Example:
//
//	g := gate.New(gate.WithDefaultMaxConcurrency(2), gate.WithLogger(logger))
func New(opts ...Option) *Gate {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.defaultMax < 1 {
		o.defaultMax = 1
	}

	return &Gate{
		keys:       xsync.NewMap[string, *keyGate](),
		defaultMax: o.defaultMax,
		metrics:    o.metrics,
		logger:     o.logger,
	}
}

// Execute runs task once a slot for key is available.
//
// The task runs in the calling goroutine. When the key is at its limit the
// call waits in FIFO order behind earlier callers for the same key. The slot
// is released when the task returns, fails or panics; a panic is re-raised
// after the release.
//
// If ctx is cancelled while the call is still waiting, the waiter is removed
// from the queue and ctx.Err() is returned without running task. A task that
// has started is never interrupted by the gate.
//
// Parameters:
//   - ctx: Context for the wait (also passed to task)
//   - key: Gating key, usually the job owner
//   - task: Work to run under the key's limit
//
// Returns:
//   - error: The task's error, ctx.Err() if cancelled while waiting, or
//     types.ErrGateReset if the gate was reset while waiting
func (g *Gate) Execute(ctx context.Context, key string, task func(context.Context) error) error {
	kg, err := g.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer g.release(kg)

	return task(ctx)
}

// ExecuteValue is Execute for tasks that produce a value.
func ExecuteValue[T any](ctx context.Context, g *Gate, key string, task func(context.Context) (T, error)) (T, error) {
	var result T
	err := g.Execute(ctx, key, func(ctx context.Context) error {
		var err error
		result, err = task(ctx)

		return err
	})

	return result, err
}

// SetMaxConcurrency sets the limit for key, creating the key if needed.
//
// Values below 1 are clamped to 1. Raising the limit admits queued tasks
// immediately. Lowering it below the running count does not stop running
// tasks; no new task starts until the count drops under the new limit.
func (g *Gate) SetMaxConcurrency(key string, n int) {
	if n < 1 {
		n = 1
	}

	kg := g.key(key)
	kg.mu.Lock()
	kg.max = n
	g.admitLocked(kg)
	kg.mu.Unlock()
}

// Status returns a snapshot of key. Unknown keys report the default limit.
func (g *Gate) Status(key string) Status {
	kg, ok := g.keys.Load(key)
	if !ok {
		return Status{Max: g.defaultMax}
	}

	kg.mu.Lock()
	defer kg.mu.Unlock()

	return Status{Current: kg.current, Max: kg.max, Queued: len(kg.waiters)}
}

// Keys returns the known keys in sorted order.
func (g *Gate) Keys() []string {
	keys := make([]string, 0, g.keys.Size())
	g.keys.Range(func(key string, _ *keyGate) bool {
		keys = append(keys, key)
		return true
	})
	sort.Strings(keys)

	return keys
}

// Reset drops the state of every key.
//
// Tasks still waiting are released with types.ErrGateReset. Running tasks
// complete normally but no longer count against the fresh key state.
func (g *Gate) Reset() {
	released := 0
	g.keys.Range(func(key string, kg *keyGate) bool {
		g.keys.Delete(key)

		kg.mu.Lock()
		for _, w := range kg.waiters {
			w.err = types.ErrGateReset
			close(w.ready)
		}
		released += len(kg.waiters)
		kg.waiters = nil
		kg.mu.Unlock()

		return true
	})

	if released > 0 {
		g.queued.Add(-int64(released))
		g.logger.Warn("gate reset released waiting tasks", "count", released)
	}
	g.metrics.RecordGateQueueDepth(int(g.queued.Load()))
}

func (g *Gate) key(key string) *keyGate {
	kg, _ := g.keys.LoadOrCompute(key, func() (*keyGate, bool) {
		return &keyGate{max: g.defaultMax}, false
	})

	return kg
}

func (g *Gate) acquire(ctx context.Context, key string) (*keyGate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kg := g.key(key)

	kg.mu.Lock()
	if kg.current < kg.max && len(kg.waiters) == 0 {
		kg.current++
		kg.mu.Unlock()
		g.metrics.RecordGateAdmission(false, 0)

		return kg, nil
	}

	w := &waiter{ready: make(chan struct{})}
	kg.waiters = append(kg.waiters, w)
	position := len(kg.waiters)
	kg.mu.Unlock()

	g.metrics.RecordGateQueueDepth(int(g.queued.Add(1)))
	g.logger.Debug("task queued", "key", key, "position", position)

	start := time.Now()
	select {
	case <-w.ready:
		if w.err != nil {
			return nil, w.err
		}
		g.metrics.RecordGateAdmission(true, time.Since(start).Seconds())

		return kg, nil
	case <-ctx.Done():
	}

	kg.mu.Lock()
	if w.admitted {
		// Admission raced with cancellation: hand the slot on.
		kg.current--
		g.admitLocked(kg)
		kg.mu.Unlock()

		return nil, ctx.Err()
	}
	if w.err != nil {
		kg.mu.Unlock()
		return nil, w.err
	}
	kg.removeLocked(w)
	kg.mu.Unlock()

	g.metrics.RecordGateQueueDepth(int(g.queued.Add(-1)))
	g.logger.Debug("queued task cancelled", "key", key, "error", ctx.Err())

	return nil, ctx.Err()
}

func (g *Gate) release(kg *keyGate) {
	kg.mu.Lock()
	kg.current--
	g.admitLocked(kg)
	kg.mu.Unlock()
}

// admitLocked starts waiters while the key has free slots.
func (g *Gate) admitLocked(kg *keyGate) {
	admitted := 0
	for kg.current < kg.max && len(kg.waiters) > 0 {
		w := kg.waiters[0]
		kg.waiters[0] = nil
		kg.waiters = kg.waiters[1:]
		kg.current++
		w.admitted = true
		close(w.ready)
		admitted++
	}

	if admitted > 0 {
		g.metrics.RecordGateQueueDepth(int(g.queued.Add(-int64(admitted))))
	}
}

func (kg *keyGate) removeLocked(w *waiter) {
	for i, candidate := range kg.waiters {
		if candidate == w {
			kg.waiters = append(kg.waiters[:i], kg.waiters[i+1:]...)
			return
		}
	}
}
