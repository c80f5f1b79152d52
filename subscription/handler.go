package subscription

import (
	"context"

	"github.com/nats-io/nats.go"
)

// Delivery is a read-only view of one delivered stream message.
type Delivery struct {
	Subject string
	Data    []byte
	Headers nats.Header

	// DeliveryCount is the number of times the message has been delivered,
	// including this one. The first delivery is 1.
	DeliveryCount int
	// RedeliveryCount is max(0, DeliveryCount-1). The first delivery is 0.
	RedeliveryCount int

	StreamSequence uint64
	Stream         string
	Consumer       string

	// Value holds the decoder's result, or nil when no decoder is configured.
	Value any
}

// Handler processes one delivered message.
//
// Return nil on success. Wrap failures with the types error taxonomy so the
// consumer can classify them: types.Transient for infrastructure failures
// worth retrying, types.Validation or types.NonRetryable for failures that
// must go to the dead-letter subject at once. Unclassified errors are
// treated as non-retryable.
//
// The consumer owns acknowledgement; handlers must not ack the message.
// Exactly-once is not guaranteed, so handlers should be idempotent.
type Handler interface {
	Handle(ctx context.Context, d *Delivery) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, d *Delivery) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, d *Delivery) error { return f(ctx, d) }

// Decoder validates and decodes a payload before the handler runs.
//
// A decode error dead-letters the message with reason schema_invalid.
type Decoder interface {
	Decode(d *Delivery) (any, error)
}

// DecoderFunc is a function adapter for Decoder.
type DecoderFunc func(d *Delivery) (any, error)

// Decode implements Decoder.
func (f DecoderFunc) Decode(d *Delivery) (any, error) { return f(d) }

func redeliveryCount(deliveryCount int) int {
	return max(0, deliveryCount-1)
}
