package dlq

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/zeebo/xxh3"
)

// Header names set on dead-letter messages.
const (
	HeaderReason         = "Jobline-Dlq-Reason"
	HeaderOriginSubject  = "Jobline-Dlq-Subject"
	HeaderOriginSequence = "Jobline-Dlq-Sequence"
)

// ErrNoSubject is returned when a publisher has no dead-letter subject.
var ErrNoSubject = errors.New("dlq subject is empty")

// Publisher sends envelopes to a dead-letter destination.
type Publisher interface {
	Publish(ctx context.Context, env *Envelope) error
}

// JetStreamPublisher publishes envelopes to a JetStream subject.
//
// Each envelope carries a Nats-Msg-Id derived from its origin stream and
// sequence so that a retried publish of the same message is dropped by the
// stream's duplicate window.
type JetStreamPublisher struct {
	js      jetstream.JetStream
	subject string
}

// NewJetStreamPublisher creates a publisher for subject.
func NewJetStreamPublisher(js jetstream.JetStream, subject string) (*JetStreamPublisher, error) {
	if js == nil {
		return nil, errors.New("jetstream context is required")
	}
	if subject == "" {
		return nil, ErrNoSubject
	}

	return &JetStreamPublisher{js: js, subject: subject}, nil
}

// Subject returns the dead-letter subject.
func (p *JetStreamPublisher) Subject() string {
	return p.subject
}

// Publish publishes env and waits for the stream acknowledgement.
func (p *JetStreamPublisher) Publish(ctx context.Context, env *Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set(HeaderReason, env.Reason)
	msg.Header.Set(HeaderOriginSubject, env.Subject)
	msg.Header.Set(HeaderOriginSequence, strconv.FormatUint(env.StreamSequence, 10))

	if _, err := p.js.PublishMsg(ctx, msg, jetstream.WithMsgID(MessageID(env))); err != nil {
		return fmt.Errorf("failed to publish to dlq subject %s: %w", p.subject, err)
	}

	return nil
}

// MessageID returns the deduplication id for env.
//
// The id depends only on the origin stream and sequence, so every attempt to
// dead-letter the same stored message yields the same id.
func MessageID(env *Envelope) string {
	h := xxh3.HashString(env.Stream + ":" + strconv.FormatUint(env.StreamSequence, 10))

	return "dlq-" + strconv.FormatUint(h, 16)
}
