package subscription

import (
	"github.com/arloliu/jobline/dlq"
	"github.com/arloliu/jobline/types"
)

// Option configures a DurableConsumer.
type Option func(*consumerOptions)

type consumerOptions struct {
	decoder   Decoder
	publisher dlq.Publisher
	hooks     *types.Hooks
}

// WithDecoder validates and decodes every payload before the handler runs.
func WithDecoder(d Decoder) Option {
	return func(o *consumerOptions) {
		o.decoder = d
	}
}

// WithDLQPublisher overrides the dead-letter publisher built from DLQSubject.
func WithDLQPublisher(p dlq.Publisher) Option {
	return func(o *consumerOptions) {
		o.publisher = p
	}
}

// WithHooks sets callbacks for dead-letter and error events.
func WithHooks(h *types.Hooks) Option {
	return func(o *consumerOptions) {
		o.hooks = h
	}
}
