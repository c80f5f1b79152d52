package gate

import (
	"github.com/arloliu/jobline/internal/logging"
	"github.com/arloliu/jobline/internal/metrics"
	"github.com/arloliu/jobline/types"
)

// DefaultMaxConcurrency is the per-key limit applied to keys that have not
// been configured with SetMaxConcurrency.
const DefaultMaxConcurrency = 1

// Option configures a Gate.
type Option func(*gateOptions)

type gateOptions struct {
	defaultMax int
	metrics    types.GateMetrics
	logger     types.Logger
}

// WithDefaultMaxConcurrency sets the limit used for newly created keys.
//
// Values below 1 are clamped to 1.
func WithDefaultMaxConcurrency(n int) Option {
	return func(o *gateOptions) {
		o.defaultMax = n
	}
}

// WithMetrics sets the metrics collector used for admission metrics.
func WithMetrics(m types.GateMetrics) Option {
	return func(o *gateOptions) {
		o.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l types.Logger) Option {
	return func(o *gateOptions) {
		o.logger = l
	}
}

func defaultOptions() gateOptions {
	return gateOptions{
		defaultMax: DefaultMaxConcurrency,
		metrics:    metrics.NewNop(),
		logger:     logging.NewNop(),
	}
}
