package jobline

import "github.com/arloliu/jobline/subscription"

// Option configures a Pipeline with optional dependencies.
type Option func(*pipelineOptions)

// pipelineOptions holds optional Pipeline configuration.
type pipelineOptions struct {
	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger
	store   JobStore
	bus     EventBus
	ingest  subscription.Handler
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewPipeline
//
// Example:
//
//	hooks := &jobline.Hooks{
//	    OnJobTerminal: func(ctx context.Context, job *jobline.Job) error {
//	        return notifyOwner(ctx, job)
//	    },
//	}
//	p, err := jobline.NewPipeline(ctx, cfg, nc, gen, jobline.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *pipelineOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector shared by every component.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewPipeline
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *pipelineOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewPipeline
func WithLogger(logger Logger) Option {
	return func(o *pipelineOptions) {
		o.logger = logger
	}
}

// WithJobStore uses store instead of the store selected by Config.Store.
func WithJobStore(store JobStore) Option {
	return func(o *pipelineOptions) {
		o.store = store
	}
}

// WithEventBus uses bus instead of the bus selected by Config.Events.
func WithEventBus(bus EventBus) Option {
	return func(o *pipelineOptions) {
		o.bus = bus
	}
}

// WithIngestHandler handles messages on the ingest subject.
//
// Ingest handlers are not idempotent by job id, so they rely on the
// consumer's retry and dead-letter policy: return an error wrapping
// ErrTransient to retry, ErrValidation or ErrNonRetryable to dead-letter at
// once. Without an ingest handler every ingest message is dead-lettered as
// non-retryable.
func WithIngestHandler(h subscription.Handler) Option {
	return func(o *pipelineOptions) {
		o.ingest = h
	}
}
