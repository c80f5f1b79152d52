package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/jobline/eventbus"
	"github.com/arloliu/jobline/gate"
	"github.com/arloliu/jobline/internal/logger"
	"github.com/arloliu/jobline/store/memory"
	"github.com/arloliu/jobline/types"
)

// flakyStore fails Upsert for selected statuses.
type flakyStore struct {
	*memory.Store
	mu     sync.Mutex
	failOn map[types.Status]error
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memory.New(), failOn: map[types.Status]error{}}
}

func (s *flakyStore) setFail(status types.Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, status)
		return
	}
	s.failOn[status] = err
}

func (s *flakyStore) Upsert(ctx context.Context, j *types.Job) error {
	s.mu.Lock()
	err := s.failOn[j.Status]
	s.mu.Unlock()
	if err != nil {
		return err
	}

	return s.Store.Upsert(ctx, j)
}

type recordingMetrics struct {
	mu             sync.Mutex
	terminal       []types.Status
	publishFailure []types.EventType
}

func (m *recordingMetrics) RecordJobTerminal(status types.Status, _ float64) {
	m.mu.Lock()
	m.terminal = append(m.terminal, status)
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordEventPublishFailure(eventType types.EventType) {
	m.mu.Lock()
	m.publishFailure = append(m.publishFailure, eventType)
	m.mu.Unlock()
}

type fixture struct {
	store *flakyStore
	gate  *gate.Gate
	bus   *eventbus.Recorder
	orch  *Orchestrator
}

func newFixture(t *testing.T, gen types.Generator, cfg Config, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		store: newFlakyStore(),
		gate:  gate.New(),
		bus:   eventbus.NewRecorder(),
	}
	opts = append([]Option{WithLogger(logger.NewTest(t))}, opts...)
	o, err := New(f.store, f.gate, gen, f.bus, cfg, opts...)
	require.NoError(t, err)
	f.orch = o

	return f
}

func echo(_ context.Context, req types.GenerateRequest) ([]byte, error) {
	return append([]byte("artifact:"), req.Payload...), nil
}

func TestNew_RequiresDependencies(t *testing.T) {
	gen := types.GeneratorFunc(echo)
	_, err := New(nil, gate.New(), gen, eventbus.NewRecorder(), Config{})
	require.Error(t, err)
	_, err = New(memory.New(), nil, gen, eventbus.NewRecorder(), Config{})
	require.Error(t, err)
	_, err = New(memory.New(), gate.New(), nil, eventbus.NewRecorder(), Config{})
	require.Error(t, err)
	_, err = New(memory.New(), gate.New(), gen, nil, Config{})
	require.Error(t, err)
	_, err = New(memory.New(), gate.New(), gen, eventbus.NewRecorder(), Config{ComputeTimeout: -time.Second})
	require.Error(t, err)
}

func TestSubmit_Success(t *testing.T) {
	m := &recordingMetrics{}
	f := newFixture(t, types.GeneratorFunc(echo), Config{}, WithMetrics(m))

	job, err := f.orch.Submit(context.Background(), Request{JobID: "job-1", Owner: "alice", Kind: "report", Payload: []byte(`"q1"`)})
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, job.Status)
	require.Equal(t, []byte(`artifact:"q1"`), job.Result)
	require.Empty(t, job.Error)
	require.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.FinishedAt)

	stored, err := f.orch.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, job, stored)

	events := f.bus.Events()
	require.Len(t, events, 1)
	require.Equal(t, types.EventJobCompleted, events[0].Type)
	require.Equal(t, "job-1", events[0].JobID)
	require.Equal(t, "alice", events[0].Owner)
	require.Equal(t, "report", events[0].Kind)
	require.Equal(t, job.Result, events[0].Result)
	require.NotEmpty(t, events[0].ID)

	require.Equal(t, []types.Status{types.StatusCompleted}, m.terminal)
	require.Empty(t, m.publishFailure)
}

func TestSubmit_GeneratesJobID(t *testing.T) {
	f := newFixture(t, types.GeneratorFunc(echo), Config{})

	job, err := f.orch.Submit(context.Background(), Request{Owner: "alice"})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	require.Len(t, f.bus.ForJob(job.ID), 1)
}

func TestSubmit_ValidationError(t *testing.T) {
	f := newFixture(t, types.GeneratorFunc(echo), Config{})

	_, err := f.orch.Submit(context.Background(), Request{JobID: "x"})
	require.ErrorIs(t, err, types.ErrValidation)
	require.Empty(t, f.bus.Events())
	require.Empty(t, f.store.List())
}

func TestSubmit_GeneratorFailure(t *testing.T) {
	boom := errors.New("model unavailable")
	f := newFixture(t, types.GeneratorFunc(func(context.Context, types.GenerateRequest) ([]byte, error) {
		return []byte("partial"), boom
	}), Config{})

	job, err := f.orch.Submit(context.Background(), Request{JobID: "job-f", Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, job.Status)
	require.Equal(t, "model unavailable", job.Error)
	require.Nil(t, job.Result)
	require.Equal(t, 1, job.Attempts)

	events := f.bus.ForJob("job-f")
	require.Len(t, events, 1)
	require.Equal(t, types.EventJobFailed, events[0].Type)
	require.Equal(t, "model unavailable", events[0].Error)
}

func TestSubmit_GeneratorPanicFailsJob(t *testing.T) {
	f := newFixture(t, types.GeneratorFunc(func(context.Context, types.GenerateRequest) ([]byte, error) {
		panic("segfault in model")
	}), Config{})

	job, err := f.orch.Submit(context.Background(), Request{JobID: "job-p", Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, job.Status)
	require.Contains(t, job.Error, "segfault in model")
	require.Len(t, f.bus.ForJob("job-p"), 1)
	require.Equal(t, 0, f.gate.Status("alice").Current)
}

func TestSubmit_Timeout(t *testing.T) {
	f := newFixture(t, types.GeneratorFunc(func(ctx context.Context, _ types.GenerateRequest) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), Config{ComputeTimeout: 50 * time.Millisecond})

	start := time.Now()
	job, err := f.orch.Submit(context.Background(), Request{JobID: "job-t", Owner: "alice"})
	require.NoError(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, types.StatusFailed, job.Status)
	require.Contains(t, job.Error, types.ErrTimeout.Error())

	events := f.bus.ForJob("job-t")
	require.Len(t, events, 1)
	require.Equal(t, types.EventJobFailed, events[0].Type)
}

func TestSubmit_TimeoutIgnoringGenerator(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := newFixture(t, types.GeneratorFunc(func(context.Context, types.GenerateRequest) ([]byte, error) {
		<-release
		return []byte("late"), nil
	}), Config{ComputeTimeout: 30 * time.Millisecond})

	job, err := f.orch.Submit(context.Background(), Request{JobID: "job-slow", Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, job.Status)
	require.Contains(t, job.Error, types.ErrTimeout.Error())
	require.Nil(t, job.Result)
}

func TestSubmit_TerminalJobIsNotReprocessed(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, types.GeneratorFunc(func(ctx context.Context, req types.GenerateRequest) ([]byte, error) {
		calls.Add(1)
		return echo(ctx, req)
	}), Config{})

	req := Request{JobID: "job-dup", Owner: "alice"}
	first, err := f.orch.Submit(context.Background(), req)
	require.NoError(t, err)

	second, err := f.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), calls.Load())
	require.Len(t, f.bus.ForJob("job-dup"), 1)
}

func TestSubmit_InFlightDuplicate(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	f := newFixture(t, types.GeneratorFunc(func(context.Context, types.GenerateRequest) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("ok"), nil
	}), Config{})

	req := Request{JobID: "job-inflight", Owner: "alice"}
	done := make(chan *types.Job, 1)
	go func() {
		job, err := f.orch.Submit(context.Background(), req)
		require.NoError(t, err)
		done <- job
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	dup, err := f.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, types.StatusRunning, dup.Status)

	close(release)
	job := <-done
	require.Equal(t, types.StatusCompleted, job.Status)
	require.Equal(t, int32(1), calls.Load())
	require.Len(t, f.bus.ForJob("job-inflight"), 1)
}

func TestSubmit_OrphanRunningIsInterrupted(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, types.GeneratorFunc(func(ctx context.Context, req types.GenerateRequest) ([]byte, error) {
		calls.Add(1)
		return echo(ctx, req)
	}), Config{})

	now := time.Now().UTC()
	orphan := &types.Job{ID: "job-o", Owner: "alice", Status: types.StatusQueued, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, orphan.Transition(types.StatusRunning, now))
	require.NoError(t, f.store.Upsert(context.Background(), orphan))

	job, err := f.orch.Submit(context.Background(), Request{JobID: "job-o", Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, job.Status)
	require.Contains(t, job.Error, "interrupted")
	require.Equal(t, 1, job.Attempts)
	require.Zero(t, calls.Load())

	events := f.bus.ForJob("job-o")
	require.Len(t, events, 1)
	require.Equal(t, types.EventJobFailed, events[0].Type)
}

func TestSubmit_OrphanQueuedResumes(t *testing.T) {
	var got types.GenerateRequest
	f := newFixture(t, types.GeneratorFunc(func(ctx context.Context, req types.GenerateRequest) ([]byte, error) {
		got = req
		return echo(ctx, req)
	}), Config{})

	now := time.Now().UTC()
	queued := &types.Job{ID: "job-q", Owner: "alice", Kind: "k", Status: types.StatusQueued, Request: []byte("stored"), CreatedAt: now, UpdatedAt: now}
	require.NoError(t, f.store.Upsert(context.Background(), queued))

	job, err := f.orch.Submit(context.Background(), Request{JobID: "job-q", Owner: "alice", Payload: []byte(`"ignored"`)})
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, job.Status)
	require.Equal(t, []byte("stored"), got.Payload)
	require.Equal(t, "k", got.Kind)
	require.Len(t, f.bus.ForJob("job-q"), 1)
}

func TestSubmit_QueuedPersistFailure(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, types.GeneratorFunc(func(ctx context.Context, req types.GenerateRequest) ([]byte, error) {
		calls.Add(1)
		return echo(ctx, req)
	}), Config{})
	f.store.setFail(types.StatusQueued, errors.New("connection reset"))

	job, err := f.orch.Submit(context.Background(), Request{JobID: "job-pq", Owner: "alice"})
	require.ErrorIs(t, err, types.ErrPersistence)
	require.Nil(t, job)
	require.Zero(t, calls.Load())
	require.Empty(t, f.bus.Events())

	_, err = f.orch.Get(context.Background(), "job-pq")
	require.ErrorIs(t, err, types.ErrJobNotFound)
}

func TestSubmit_RunningPersistFailureFailsJob(t *testing.T) {
	f := newFixture(t, types.GeneratorFunc(echo), Config{})
	f.store.setFail(types.StatusRunning, errors.New("disk full"))

	job, err := f.orch.Submit(context.Background(), Request{JobID: "job-pr", Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, job.Status)
	require.Contains(t, job.Error, "disk full")

	stored, err := f.orch.Get(context.Background(), "job-pr")
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, stored.Status)
	require.Len(t, f.bus.ForJob("job-pr"), 1)
}

func TestSubmit_FailedPersistFailurePublishesNothing(t *testing.T) {
	var errs atomic.Int32
	f := newFixture(t, types.GeneratorFunc(func(context.Context, types.GenerateRequest) ([]byte, error) {
		return nil, errors.New("generator down")
	}), Config{PersistRetries: 2}, WithHooks(&types.Hooks{
		OnError: func(context.Context, error) error {
			errs.Add(1)
			return nil
		},
	}))
	f.store.setFail(types.StatusFailed, errors.New("connection reset"))

	job, err := f.orch.Submit(context.Background(), Request{JobID: "job-pf", Owner: "alice"})
	require.ErrorIs(t, err, types.ErrPersistence)
	require.Nil(t, job)
	require.Empty(t, f.bus.Events())
	require.Equal(t, int32(1), errs.Load())

	stored, err := f.orch.Get(context.Background(), "job-pf")
	require.NoError(t, err)
	require.Equal(t, types.StatusRunning, stored.Status)

	// A redelivery after the store recovers finishes the job with one event.
	f.store.setFail(types.StatusFailed, nil)
	job, err = f.orch.Submit(context.Background(), Request{JobID: "job-pf", Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, job.Status)
	require.Contains(t, job.Error, "interrupted")
	require.Len(t, f.bus.ForJob("job-pf"), 1)
}

func TestSubmit_PublishRetried(t *testing.T) {
	f := newFixture(t, types.GeneratorFunc(echo), Config{})
	f.bus.FailNext(errors.New("nats: timeout"))

	job, err := f.orch.Submit(context.Background(), Request{JobID: "job-r", Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, job.Status)
	require.Len(t, f.bus.ForJob("job-r"), 1)
}

func TestSubmit_PublishFailureKeepsTerminalState(t *testing.T) {
	m := &recordingMetrics{}
	var errs atomic.Int32
	f := newFixture(t, types.GeneratorFunc(echo), Config{PublishRetries: 2}, WithMetrics(m), WithHooks(&types.Hooks{
		OnError: func(context.Context, error) error {
			errs.Add(1)
			return nil
		},
	}))
	f.bus.FailNext(errors.New("down"), errors.New("down"))

	job, err := f.orch.Submit(context.Background(), Request{JobID: "job-pub", Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, job.Status)
	require.Empty(t, f.bus.Events())
	require.Equal(t, []types.EventType{types.EventJobCompleted}, m.publishFailure)
	require.Equal(t, int32(1), errs.Load())

	stored, err := f.orch.Get(context.Background(), "job-pub")
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, stored.Status)
}

func TestSubmit_TerminalHook(t *testing.T) {
	seen := make(chan *types.Job, 1)
	f := newFixture(t, types.GeneratorFunc(echo), Config{}, WithHooks(&types.Hooks{
		OnJobTerminal: func(_ context.Context, job *types.Job) error {
			seen <- job
			return errors.New("ignored")
		},
	}))

	_, err := f.orch.Submit(context.Background(), Request{JobID: "job-h", Owner: "alice"})
	require.NoError(t, err)

	select {
	case job := <-seen:
		require.Equal(t, "job-h", job.ID)
		require.Equal(t, types.StatusCompleted, job.Status)
	case <-time.After(time.Second):
		t.Fatal("terminal hook not called")
	}
}

func TestSubmit_GatedPerOwner(t *testing.T) {
	var mu sync.Mutex
	running := map[string]int{}
	peak := map[string]int{}
	f := newFixture(t, types.GeneratorFunc(func(_ context.Context, req types.GenerateRequest) ([]byte, error) {
		mu.Lock()
		running[req.Owner]++
		if running[req.Owner] > peak[req.Owner] {
			peak[req.Owner] = running[req.Owner]
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		running[req.Owner]--
		mu.Unlock()

		return []byte("ok"), nil
	}), Config{})
	f.gate.SetMaxConcurrency("bob", 2)

	var wg sync.WaitGroup
	for i := range 8 {
		owner := "alice"
		if i%2 == 1 {
			owner = "bob"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := f.orch.Submit(context.Background(), Request{Owner: owner})
			require.NoError(t, err)
			require.Equal(t, types.StatusCompleted, job.Status)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, peak["alice"])
	require.LessOrEqual(t, peak["bob"], 2)
	require.Len(t, f.bus.Events(), 8)
}

func TestSubmit_GateCancelFailsQueuedJob(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	f := newFixture(t, types.GeneratorFunc(echo), Config{})

	go func() {
		_ = f.gate.Execute(context.Background(), "alice", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *types.Job, 1)
	go func() {
		job, err := f.orch.Submit(ctx, Request{JobID: "job-c", Owner: "alice"})
		require.NoError(t, err)
		done <- job
	}()
	require.Eventually(t, func() bool { return f.gate.Status("alice").Queued == 1 }, time.Second, time.Millisecond)
	cancel()

	job := <-done
	require.Equal(t, types.StatusFailed, job.Status)
	require.Zero(t, job.Attempts)
	require.Len(t, f.bus.ForJob("job-c"), 1)
	close(release)
}

func TestDecodeRequest(t *testing.T) {
	r, err := DecodeRequest([]byte(`{"job_id":"j","owner":"alice","kind":"k","payload":{"q":1}}`))
	require.NoError(t, err)
	require.Equal(t, "j", r.JobID)
	require.Equal(t, "alice", r.Owner)
	require.JSONEq(t, `{"q":1}`, string(r.Payload))

	_, err = DecodeRequest([]byte(`{not json`))
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = DecodeRequest([]byte(`{"job_id":"j"}`))
	require.ErrorIs(t, err, types.ErrValidation)

	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	_, err = DecodeRequest([]byte(`{"owner":"a","job_id":"` + string(long) + `"}`))
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	require.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())

	cfg.PublishRetries = -1
	require.Error(t, cfg.Validate())
}
