package topology

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nats-io/nats.go/jetstream"
)

// ErrNotFound is returned by a ControlPlane when a stream or consumer does
// not exist.
var ErrNotFound = errors.New("topology object not found")

// ControlPlane reads and writes stream and consumer definitions.
//
// Returned specs omit Consumers. Implementations return ErrNotFound (possibly
// wrapped) for missing objects.
type ControlPlane interface {
	StreamConfig(ctx context.Context, name string) (StreamSpec, error)
	CreateStream(ctx context.Context, spec StreamSpec) error
	UpdateStream(ctx context.Context, spec StreamSpec) error
	ConsumerConfig(ctx context.Context, stream, durable string) (ConsumerSpec, error)
	CreateConsumer(ctx context.Context, stream string, spec ConsumerSpec) error
	UpdateConsumer(ctx context.Context, stream string, spec ConsumerSpec) error
}

// JetStreamControlPlane implements ControlPlane on a JetStream context.
type JetStreamControlPlane struct {
	js jetstream.JetStream
}

var _ ControlPlane = (*JetStreamControlPlane)(nil)

// NewJetStreamControlPlane creates a control plane backed by js.
func NewJetStreamControlPlane(js jetstream.JetStream) *JetStreamControlPlane {
	return &JetStreamControlPlane{js: js}
}

// StreamConfig returns the current definition of stream name.
func (cp *JetStreamControlPlane) StreamConfig(ctx context.Context, name string) (StreamSpec, error) {
	cfg, err := cp.streamConfig(ctx, name)
	if err != nil {
		return StreamSpec{}, err
	}

	return streamSpecFromConfig(cfg), nil
}

// CreateStream creates a stream from spec.
func (cp *JetStreamControlPlane) CreateStream(ctx context.Context, spec StreamSpec) error {
	var cfg jetstream.StreamConfig
	applyStreamSpec(&cfg, spec)

	if _, err := cp.js.CreateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", spec.Name, err)
	}

	return nil
}

// UpdateStream updates the managed fields of a stream in place, preserving
// every other server-side setting.
func (cp *JetStreamControlPlane) UpdateStream(ctx context.Context, spec StreamSpec) error {
	cfg, err := cp.streamConfig(ctx, spec.Name)
	if err != nil {
		return err
	}
	applyStreamSpec(&cfg, spec)

	if _, err := cp.js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to update stream %s: %w", spec.Name, err)
	}

	return nil
}

// ConsumerConfig returns the current definition of a durable consumer.
func (cp *JetStreamControlPlane) ConsumerConfig(ctx context.Context, stream, durable string) (ConsumerSpec, error) {
	cfg, err := cp.consumerConfig(ctx, stream, durable)
	if err != nil {
		return ConsumerSpec{}, err
	}

	return consumerSpecFromConfig(cfg), nil
}

// CreateConsumer creates a durable consumer on stream.
func (cp *JetStreamControlPlane) CreateConsumer(ctx context.Context, stream string, spec ConsumerSpec) error {
	var cfg jetstream.ConsumerConfig
	applyConsumerSpec(&cfg, spec)

	if _, err := cp.js.CreateConsumer(ctx, stream, cfg); err != nil {
		return fmt.Errorf("failed to create consumer %s on %s: %w", spec.Durable, stream, err)
	}

	return nil
}

// UpdateConsumer updates the managed fields of a durable consumer in place.
func (cp *JetStreamControlPlane) UpdateConsumer(ctx context.Context, stream string, spec ConsumerSpec) error {
	cfg, err := cp.consumerConfig(ctx, stream, spec.Durable)
	if err != nil {
		return err
	}
	applyConsumerSpec(&cfg, spec)

	if _, err := cp.js.UpdateConsumer(ctx, stream, cfg); err != nil {
		return fmt.Errorf("failed to update consumer %s on %s: %w", spec.Durable, stream, err)
	}

	return nil
}

func (cp *JetStreamControlPlane) streamConfig(ctx context.Context, name string) (jetstream.StreamConfig, error) {
	stream, err := cp.js.Stream(ctx, name)
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return jetstream.StreamConfig{}, fmt.Errorf("stream %s: %w", name, ErrNotFound)
		}

		return jetstream.StreamConfig{}, fmt.Errorf("failed to look up stream %s: %w", name, err)
	}

	return stream.CachedInfo().Config, nil
}

func (cp *JetStreamControlPlane) consumerConfig(ctx context.Context, stream, durable string) (jetstream.ConsumerConfig, error) {
	cons, err := cp.js.Consumer(ctx, stream, durable)
	if err != nil {
		if errors.Is(err, jetstream.ErrConsumerNotFound) || errors.Is(err, jetstream.ErrStreamNotFound) {
			return jetstream.ConsumerConfig{}, fmt.Errorf("consumer %s on %s: %w", durable, stream, ErrNotFound)
		}

		return jetstream.ConsumerConfig{}, fmt.Errorf("failed to look up consumer %s on %s: %w", durable, stream, err)
	}

	return cons.CachedInfo().Config, nil
}

func applyStreamSpec(cfg *jetstream.StreamConfig, spec StreamSpec) {
	spec = spec.normalized()

	cfg.Name = spec.Name
	cfg.Subjects = spec.Subjects
	cfg.MaxAge = spec.MaxAge
	cfg.Replicas = spec.Replicas
	cfg.Duplicates = spec.Duplicates

	switch spec.Retention {
	case RetentionInterest:
		cfg.Retention = jetstream.InterestPolicy
	case RetentionWorkQueue:
		cfg.Retention = jetstream.WorkQueuePolicy
	default:
		cfg.Retention = jetstream.LimitsPolicy
	}

	if spec.Storage == StorageMemory {
		cfg.Storage = jetstream.MemoryStorage
	} else {
		cfg.Storage = jetstream.FileStorage
	}
}

func streamSpecFromConfig(cfg jetstream.StreamConfig) StreamSpec {
	spec := StreamSpec{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		MaxAge:     cfg.MaxAge,
		Replicas:   cfg.Replicas,
		Duplicates: cfg.Duplicates,
		Retention:  RetentionLimits,
		Storage:    StorageFile,
	}

	switch cfg.Retention {
	case jetstream.InterestPolicy:
		spec.Retention = RetentionInterest
	case jetstream.WorkQueuePolicy:
		spec.Retention = RetentionWorkQueue
	case jetstream.LimitsPolicy:
	}

	if cfg.Storage == jetstream.MemoryStorage {
		spec.Storage = StorageMemory
	}

	return spec.normalized()
}

func applyConsumerSpec(cfg *jetstream.ConsumerConfig, spec ConsumerSpec) {
	spec = spec.normalized()

	cfg.Name = spec.Durable
	cfg.Durable = spec.Durable
	cfg.FilterSubject = ""
	cfg.FilterSubjects = nil
	if len(spec.FilterSubjects) == 1 {
		cfg.FilterSubject = spec.FilterSubjects[0]
	} else if len(spec.FilterSubjects) > 1 {
		cfg.FilterSubjects = spec.FilterSubjects
	}
	cfg.MaxDeliver = spec.MaxDeliver
	cfg.AckWait = spec.AckWait
	cfg.MaxAckPending = spec.MaxAckPending

	switch spec.AckPolicy {
	case AckAll:
		cfg.AckPolicy = jetstream.AckAllPolicy
	case AckNone:
		cfg.AckPolicy = jetstream.AckNonePolicy
	default:
		cfg.AckPolicy = jetstream.AckExplicitPolicy
	}
}

func consumerSpecFromConfig(cfg jetstream.ConsumerConfig) ConsumerSpec {
	spec := ConsumerSpec{
		Durable:        cfg.Durable,
		FilterSubject:  cfg.FilterSubject,
		FilterSubjects: slices.Clone(cfg.FilterSubjects),
		MaxDeliver:     cfg.MaxDeliver,
		AckWait:        cfg.AckWait,
		MaxAckPending:  cfg.MaxAckPending,
		AckPolicy:      AckExplicit,
	}

	switch cfg.AckPolicy {
	case jetstream.AckAllPolicy:
		spec.AckPolicy = AckAll
	case jetstream.AckNonePolicy:
		spec.AckPolicy = AckNone
	case jetstream.AckExplicitPolicy:
	}

	return spec.normalized()
}
