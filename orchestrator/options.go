package orchestrator

import (
	"time"

	"github.com/arloliu/jobline/types"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l types.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.OrchestratorMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithHooks sets lifecycle hooks. OnJobTerminal runs asynchronously.
func WithHooks(h *types.Hooks) Option {
	return func(o *Orchestrator) {
		o.hooksIn = h
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}
