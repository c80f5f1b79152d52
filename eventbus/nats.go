package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/jobline/types"
)

// DefaultSubjectPrefix prefixes event subjects: <prefix>.<event type>.
const DefaultSubjectPrefix = "jobline.events"

// HeaderContentType is set on every published event.
const HeaderContentType = "Content-Type"

// NATSBus publishes events to NATS subjects.
type NATSBus struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
	codec  Codec
}

var _ types.EventBus = (*NATSBus)(nil)

// NATSOption configures a NATSBus.
type NATSOption func(*NATSBus)

// WithSubjectPrefix sets the subject prefix.
func WithSubjectPrefix(prefix string) NATSOption {
	return func(b *NATSBus) {
		b.prefix = prefix
	}
}

// WithCodec sets the payload codec.
func WithCodec(c Codec) NATSOption {
	return func(b *NATSBus) {
		b.codec = c
	}
}

// WithJetStream publishes through JetStream. Each event carries its id as
// Nats-Msg-Id, so a stream capturing the subjects drops republished events.
func WithJetStream(js jetstream.JetStream) NATSOption {
	return func(b *NATSBus) {
		b.js = js
	}
}

// NewNATSBus creates a bus publishing on conn.
func NewNATSBus(conn *nats.Conn, opts ...NATSOption) (*NATSBus, error) {
	if conn == nil {
		return nil, errors.New("NATS connection is required")
	}

	b := &NATSBus{conn: conn, prefix: DefaultSubjectPrefix, codec: JSONCodec{}}
	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Subject returns the subject used for events of type t.
func (b *NATSBus) Subject(t types.EventType) string {
	return b.prefix + "." + string(t)
}

// Publish encodes evt and publishes it.
func (b *NATSBus) Publish(ctx context.Context, evt types.JobEvent) error {
	data, err := b.codec.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", evt.ID, err)
	}

	msg := nats.NewMsg(b.Subject(evt.Type))
	msg.Data = data
	msg.Header.Set(HeaderContentType, b.codec.ContentType())

	if b.js != nil {
		if _, err := b.js.PublishMsg(ctx, msg, jetstream.WithMsgID(evt.ID)); err != nil {
			return fmt.Errorf("failed to publish event %s: %w", evt.ID, err)
		}

		return nil
	}

	msg.Header.Set(jetstream.MsgIDHeader, evt.ID)
	if err := b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", evt.ID, err)
	}

	return nil
}
