package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/jobline/gate"
	"github.com/arloliu/jobline/internal/hooks"
	"github.com/arloliu/jobline/internal/kvutil"
	"github.com/arloliu/jobline/internal/logging"
	"github.com/arloliu/jobline/internal/metrics"
	"github.com/arloliu/jobline/types"
)

// interruptedMessage is recorded on jobs found running with no owner.
const interruptedMessage = "interrupted: job was running when its worker stopped"

// Orchestrator runs jobs through their lifecycle.
//
// Orchestrator is safe for concurrent use. Concurrency per owner is bounded
// by the gate; the orchestrator itself adds no further limit.
type Orchestrator struct {
	store types.JobStore
	gate  *gate.Gate
	gen   types.Generator
	bus   types.EventBus
	cfg   Config

	logger  types.Logger
	metrics types.OrchestratorMetrics
	hooksIn *types.Hooks
	hooks   types.Hooks
	now     func() time.Time

	inflight *xsync.Map[string, struct{}]
}

// New creates an Orchestrator.
//
// Parameters:
//   - store: Job store, the only place job state is kept
//   - g: Concurrency gate keyed by owner
//   - gen: External compute capability
//   - bus: Terminal event publisher
//   - cfg: Timeouts and retry counts (zero fields take defaults)
//   - opts: Optional logger, metrics, hooks and clock
//
// Returns:
//   - *Orchestrator: Ready to Submit
//   - error: Missing dependency or invalid configuration
func New(store types.JobStore, g *gate.Gate, gen types.Generator, bus types.EventBus, cfg Config, opts ...Option) (*Orchestrator, error) {
	switch {
	case store == nil:
		return nil, errors.New("job store is required")
	case g == nil:
		return nil, errors.New("concurrency gate is required")
	case gen == nil:
		return nil, errors.New("generator is required")
	case bus == nil:
		return nil, errors.New("event bus is required")
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}

	o := &Orchestrator{
		store:    store,
		gate:     g,
		gen:      gen,
		bus:      bus,
		cfg:      cfg,
		logger:   logging.NewNop(),
		metrics:  metrics.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		inflight: xsync.NewMap[string, struct{}](),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.hooks = hooks.Fill(o.hooksIn)

	return o, nil
}

// Get returns the stored job, or types.ErrJobNotFound.
func (o *Orchestrator) Get(ctx context.Context, id string) (*types.Job, error) {
	return o.store.Get(ctx, id)
}

// Submit runs one request to a terminal job state.
//
// The call blocks while the job waits for its owner's gate slot and while
// the generator runs. A job that fails is not an error: Submit returns the
// failed job and nil. Errors are returned only when the request is invalid
// (types.ErrValidation) or when job state could not be stored
// (types.ErrPersistence); in both cases no terminal event has been
// published, so retrying the request is safe.
//
// Parameters:
//   - ctx: Context for the store lookups and the gate wait
//   - req: Validated request; JobID is generated when empty
//
// Returns:
//   - *types.Job: The job in its final state for this call
//   - error: Validation or persistence error
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*types.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	if _, loaded := o.inflight.LoadOrStore(req.JobID, struct{}{}); loaded {
		o.logger.Info("duplicate request for in-flight job", "jobID", req.JobID)
		return o.snapshot(ctx, req), nil
	}
	defer o.inflight.Delete(req.JobID)

	existing, err := o.store.Get(ctx, req.JobID)
	switch {
	case errors.Is(err, types.ErrJobNotFound):
		return o.start(ctx, req)
	case err != nil:
		return nil, asPersistence(err)
	}

	switch existing.Status {
	case types.StatusCompleted, types.StatusFailed:
		o.logger.Debug("request for terminal job", "jobID", existing.ID, "status", existing.Status)
		return existing, nil
	case types.StatusRunning:
		o.logger.Warn("recovering interrupted job", "jobID", existing.ID, "attempts", existing.Attempts)
		return o.fail(ctx, existing, errors.New(interruptedMessage))
	default:
		o.logger.Info("resuming queued job", "jobID", existing.ID)
		return o.execute(ctx, existing)
	}
}

// start persists a new queued job and executes it.
func (o *Orchestrator) start(ctx context.Context, req Request) (*types.Job, error) {
	now := o.now()
	job := &types.Job{
		ID:        req.JobID,
		Owner:     req.Owner,
		Kind:      req.Kind,
		Status:    types.StatusQueued,
		Request:   []byte(req.Payload),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := o.store.Upsert(ctx, job); err != nil {
		o.logger.Error("failed to persist queued job", "jobID", job.ID, "error", err)
		return nil, asPersistence(err)
	}
	o.logger.Debug("job queued", "jobID", job.ID, "owner", job.Owner)

	return o.execute(ctx, job)
}

// execute runs a queued job under the owner's gate slot.
func (o *Orchestrator) execute(ctx context.Context, job *types.Job) (*types.Job, error) {
	var completed *types.Job
	err := o.gate.Execute(ctx, job.Owner, func(ctx context.Context) error {
		var err error
		completed, err = o.run(ctx, job)

		return err
	})
	if err != nil {
		return o.fail(ctx, job, err)
	}

	o.finish(ctx, completed)

	return completed, nil
}

// run moves the job to running, generates and stores the result. On error
// job holds the last state that may have been stored.
func (o *Orchestrator) run(ctx context.Context, job *types.Job) (*types.Job, error) {
	if err := job.Transition(types.StatusRunning, o.now()); err != nil {
		return nil, err
	}
	if err := o.store.Upsert(ctx, job); err != nil {
		return nil, asPersistence(err)
	}
	o.logger.Debug("job running", "jobID", job.ID, "attempt", job.Attempts)

	result, err := o.generate(ctx, job)
	if err != nil {
		return nil, err
	}

	completed := job.Clone()
	if err := completed.Transition(types.StatusCompleted, o.now()); err != nil {
		return nil, err
	}
	completed.Result = result
	completed.Error = ""

	if err := o.store.Upsert(ctx, completed); err != nil {
		return nil, asPersistence(err)
	}

	return completed, nil
}

type generateResult struct {
	data []byte
	err  error
}

// generate calls the generator under ComputeTimeout. A generator that
// ignores cancellation keeps running in its goroutine; its late result is
// discarded.
func (o *Orchestrator) generate(ctx context.Context, job *types.Job) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.ComputeTimeout)
	defer cancel()

	req := types.GenerateRequest{JobID: job.ID, Owner: job.Owner, Kind: job.Kind, Payload: job.Request}
	ch := make(chan generateResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- generateResult{err: fmt.Errorf("generator panic: %v", r)}
			}
		}()
		data, err := o.gen.Generate(cctx, req)
		ch <- generateResult{data: data, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s: %w", types.ErrTimeout, o.cfg.ComputeTimeout, r.err)
		}

		return r.data, r.err
	case <-cctx.Done():
		if ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", types.ErrTimeout, o.cfg.ComputeTimeout)
		}

		return nil, ctx.Err()
	}
}

// fail stores the job as failed and publishes the failure event. When the
// failed status cannot be stored no event is published and a persistence
// error is returned, so a redelivery can finish the job.
func (o *Orchestrator) fail(ctx context.Context, job *types.Job, cause error) (*types.Job, error) {
	failed := job.Clone()
	if err := failed.Transition(types.StatusFailed, o.now()); err != nil {
		return nil, err
	}
	failed.Error = cause.Error()
	failed.Result = nil

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PersistTimeout)
	defer cancel()

	err := kvutil.Retry(pctx, o.cfg.PersistRetries, func(ctx context.Context) error {
		return o.store.Upsert(ctx, failed)
	})
	if err != nil {
		o.logger.Error("failed to persist failed job", "jobID", failed.ID, "cause", cause, "error", err)
		_ = o.hooks.OnError(ctx, err)

		return nil, asPersistence(err)
	}

	o.logger.Warn("job failed", "jobID", failed.ID, "owner", failed.Owner, "attempts", failed.Attempts, "error", failed.Error)
	o.finish(ctx, failed)

	return failed, nil
}

// finish publishes the terminal event and runs terminal hooks.
func (o *Orchestrator) finish(ctx context.Context, job *types.Job) {
	evt := types.JobEvent{
		ID:         uuid.NewString(),
		Type:       types.EventJobCompleted,
		JobID:      job.ID,
		Owner:      job.Owner,
		Kind:       job.Kind,
		Result:     job.Result,
		Error:      job.Error,
		Attempts:   job.Attempts,
		OccurredAt: o.now(),
	}
	if job.Status == types.StatusFailed {
		evt.Type = types.EventJobFailed
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PublishTimeout)
	defer cancel()

	// The event id stays fixed across attempts so deduplicating buses drop repeats.
	err := kvutil.Retry(pctx, o.cfg.PublishRetries, func(ctx context.Context) error {
		return o.bus.Publish(ctx, evt)
	})
	if err != nil {
		o.metrics.RecordEventPublishFailure(evt.Type)
		o.logger.Error("failed to publish terminal event", "jobID", job.ID, "type", evt.Type, "error", err)
		_ = o.hooks.OnError(ctx, err)
	}

	o.metrics.RecordJobTerminal(job.Status, job.UpdatedAt.Sub(job.CreatedAt).Seconds())
	o.logger.Info("job finished", "jobID", job.ID, "status", job.Status, "attempts", job.Attempts)

	snapshot := job.Clone()
	go func() {
		if err := o.hooks.OnJobTerminal(context.Background(), snapshot); err != nil {
			o.logger.Warn("job terminal hook failed", "jobID", snapshot.ID, "error", err)
		}
	}()
}

// snapshot returns the stored state of an in-flight job for duplicate
// requests, falling back to a queued placeholder.
func (o *Orchestrator) snapshot(ctx context.Context, req Request) *types.Job {
	if job, err := o.store.Get(ctx, req.JobID); err == nil {
		return job
	}

	return &types.Job{ID: req.JobID, Owner: req.Owner, Kind: req.Kind, Status: types.StatusQueued}
}

func asPersistence(err error) error {
	if errors.Is(err, types.ErrPersistence) {
		return err
	}

	return types.Persistence(err)
}
