package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/jobline/dlq"
	"github.com/arloliu/jobline/internal/hooks"
	"github.com/arloliu/jobline/internal/kvutil"
	"github.com/arloliu/jobline/internal/natsutil"
	"github.com/arloliu/jobline/types"
)

// DurableConsumer pulls batches from a JetStream durable consumer and turns
// each handler outcome into one ack decision.
//
// Lifecycle:
//  1. NewDurableConsumer validates the configuration
//  2. Start resolves (or creates) the durable and launches the fetch loop
//  3. Stop cancels the loop and waits for the in-flight batch to finish
//
// ProcessBatch runs a single fetch-and-dispatch cycle and can be used
// without Start.
type DurableConsumer struct {
	js      jetstream.JetStream
	cfg     DurableConsumerConfig
	handler Handler
	decoder Decoder
	dlq     dlq.Publisher
	policy  dlq.Policy
	hooks   types.Hooks
	logger  types.Logger
	metrics types.ConsumerMetrics

	mu       sync.Mutex
	consumer jetstream.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewDurableConsumerConn creates a DurableConsumer from a NATS connection.
//
// Parameters:
//   - conn: Connected NATS client
//   - cfg: Consumer configuration (StreamName and Durable are required)
//   - handler: Message handler
//   - opts: Optional decoder, dead-letter publisher and hooks
//
// Returns:
//   - *DurableConsumer: Consumer ready to Start
//   - error: Validation or JetStream context error
func NewDurableConsumerConn(conn *nats.Conn, cfg DurableConsumerConfig, handler Handler, opts ...Option) (*DurableConsumer, error) {
	if conn == nil {
		return nil, errors.New("NATS connection is required")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return NewDurableConsumer(js, cfg, handler, opts...)
}

// NewDurableConsumer creates a DurableConsumer from a JetStream context.
//
// When cfg.DLQSubject is set and no WithDLQPublisher option is given, a
// dlq.JetStreamPublisher for that subject is created.
//
// Example:
//
//	cons, err := subscription.NewDurableConsumer(js, subscription.DurableConsumerConfig{
//	    StreamName:     "JOBS",
//	    Durable:        "jobs-worker",
//	    FilterSubject:  "jobs.request.>",
//	    DLQSubject:     "jobs.dlq",
//	    EnsureConsumer: true,
//	}, handler)
//	if err != nil {
//	    return err
//	}
//	if err := cons.Start(ctx); err != nil {
//	    return err
//	}
//	defer cons.Stop(context.Background())
func NewDurableConsumer(js jetstream.JetStream, cfg DurableConsumerConfig, handler Handler, opts ...Option) (*DurableConsumer, error) {
	if js == nil {
		return nil, errors.New("JetStream context is required")
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	var o consumerOptions
	for _, opt := range opts {
		opt(&o)
	}

	publisher := o.publisher
	if publisher == nil && cfg.DLQSubject != "" {
		p, err := dlq.NewJetStreamPublisher(js, cfg.DLQSubject)
		if err != nil {
			return nil, err
		}
		publisher = p
	}

	return &DurableConsumer{
		js:      js,
		cfg:     cfg,
		handler: handler,
		decoder: o.decoder,
		dlq:     publisher,
		policy:  dlq.Policy{MaxDeliver: cfg.MaxDeliver},
		hooks:   hooks.Fill(o.hooks),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// Start resolves the durable consumer and launches the fetch loop.
//
// With EnsureConsumer set the durable is created or updated first. The loop
// runs until Stop is called; ctx only bounds the startup.
func (c *DurableConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return ErrAlreadyStarted
	}

	cons, err := c.resolveLocked(ctx)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(loopCtx, c.done)

	c.logger.Info("durable consumer started",
		"stream", c.cfg.StreamName,
		"durable", cons.CachedInfo().Name,
		"batchSize", c.cfg.BatchSize,
		"maxInFlight", c.cfg.MaxInFlight,
	)

	return nil
}

// Stop cancels the fetch loop and waits for the current batch to be fully
// acknowledged, or for ctx to expire.
func (c *DurableConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return ErrNotStarted
	}
	cancel()

	select {
	case <-done:
		c.logger.Info("durable consumer stopped", "durable", c.cfg.Durable)
		return nil
	case <-ctx.Done():
		c.logger.Warn("stop context expired before the in-flight batch finished", "durable", c.cfg.Durable)
		return ctx.Err()
	}
}

// ProcessBatch fetches one batch and processes every message in it.
//
// Messages are dispatched through an errgroup limited to MaxInFlight and the
// call returns after all of them have been acknowledged. Handlers run on a
// context that is not cancelled with ctx, so a started message always
// reaches an ack decision.
//
// Returns:
//   - int: Number of messages processed
//   - error: Fetch error; handler failures never surface here
func (c *DurableConsumer) ProcessBatch(ctx context.Context) (int, error) {
	cons, err := c.consumerHandle(ctx)
	if err != nil {
		return 0, err
	}

	batch, err := cons.Fetch(c.cfg.BatchSize, jetstream.FetchMaxWait(c.cfg.FetchTimeout))
	if err != nil {
		c.metrics.RecordFetchError(c.cfg.Durable)
		return 0, fmt.Errorf("failed to fetch from %s/%s: %w", c.cfg.StreamName, c.cfg.Durable, err)
	}

	handlerCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxInFlight)

	n := 0
	for msg := range batch.Messages() {
		n++
		g.Go(func() error {
			c.handleMessage(handlerCtx, msg)
			return nil
		})
	}
	_ = g.Wait()

	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
		c.metrics.RecordFetchError(c.cfg.Durable)
		return n, fmt.Errorf("batch from %s/%s ended with error: %w", c.cfg.StreamName, c.cfg.Durable, err)
	}

	return n, nil
}

// Info returns the server-side state of the durable.
func (c *DurableConsumer) Info(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	cons, err := c.consumerHandle(ctx)
	if err != nil {
		return nil, err
	}

	info, err := cons.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer info: %w", err)
	}

	return info, nil
}

func (c *DurableConsumer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	backoff := newFetchBackoff(c.cfg.RetryBackoff, c.cfg.MaxRetryBackoff, c.cfg.RetrySeed)
	for {
		if ctx.Err() != nil {
			return
		}

		_, err := c.ProcessBatch(ctx)
		if err == nil {
			backoff.Reset()
			continue
		}
		if ctx.Err() != nil {
			return
		}

		delay := backoff.Next()
		c.logger.Warn("fetch failed, backing off",
			"durable", c.cfg.Durable,
			"error", err,
			"connectivity", natsutil.IsConnectivityError(err),
			"delay", delay,
		)
		_ = c.hooks.OnError(ctx, err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *DurableConsumer) consumerHandle(ctx context.Context) (jetstream.Consumer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consumer != nil {
		return c.consumer, nil
	}

	return c.resolveLocked(ctx)
}

func (c *DurableConsumer) resolveLocked(ctx context.Context) (jetstream.Consumer, error) {
	if c.consumer != nil {
		return c.consumer, nil
	}

	var cons jetstream.Consumer
	err := kvutil.Retry(ctx, kvutil.DefaultMaxRetries, func(ctx context.Context) error {
		var err error
		if c.cfg.EnsureConsumer {
			cons, err = c.js.CreateOrUpdateConsumer(ctx, c.cfg.StreamName, c.consumerConfig())
		} else {
			cons, err = c.js.Consumer(ctx, c.cfg.StreamName, c.cfg.Durable)
		}
		if err != nil && !natsutil.IsConnectivityError(err) {
			return &kvutil.Permanent{Err: err}
		}

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve durable consumer %s/%s: %w", c.cfg.StreamName, c.cfg.Durable, err)
	}
	c.consumer = cons

	return cons, nil
}

// consumerConfig is the server-side configuration applied with EnsureConsumer.
//
// The server-side delivery limit is left unlimited: the dead-letter policy
// enforces MaxDeliver, and a failed dead-letter publish relies on one more
// redelivery.
func (c *DurableConsumer) consumerConfig() jetstream.ConsumerConfig {
	cfg := jetstream.ConsumerConfig{
		Name:          c.cfg.Durable,
		Durable:       c.cfg.Durable,
		FilterSubject: c.cfg.FilterSubject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxDeliver:    -1,
		MaxAckPending: c.cfg.MaxAckPending,
	}
	if len(c.cfg.FilterSubjects) > 0 {
		cfg.FilterSubject = ""
		cfg.FilterSubjects = c.cfg.FilterSubjects
		if len(c.cfg.FilterSubjects) == 1 {
			cfg.FilterSubject = c.cfg.FilterSubjects[0]
			cfg.FilterSubjects = nil
		}
	}

	return cfg
}

// handleMessage runs the decoder and handler for msg and applies exactly one
// ack decision. It never panics and never returns an error.
func (c *DurableConsumer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	meta, err := msg.Metadata()
	if err != nil {
		c.logger.Error("message without jetstream metadata, terminating", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		c.metrics.RecordMessageDecision(c.cfg.Durable, "term", "")

		return
	}

	d := &Delivery{
		Subject:         msg.Subject(),
		Data:            msg.Data(),
		Headers:         msg.Headers(),
		DeliveryCount:   int(meta.NumDelivered), //nolint:gosec // delivery counts are small
		StreamSequence:  meta.Sequence.Stream,
		Stream:          meta.Stream,
		Consumer:        meta.Consumer,
		RedeliveryCount: redeliveryCount(int(meta.NumDelivered)), //nolint:gosec // delivery counts are small
	}

	start := time.Now()
	herr := c.invoke(ctx, msg, d)
	c.metrics.RecordHandlerDuration(c.cfg.Durable, time.Since(start).Seconds())

	outcome := Classify(herr)

	var action dlq.Action
	reason := ""
	switch outcome {
	case OutcomeSuccess:
		action = c.policy.Decide(true, d.DeliveryCount)
	case OutcomeRetryable:
		action = c.policy.Decide(false, d.DeliveryCount)
		if action == dlq.ActionDLQ {
			reason = dlq.ReasonMaxDeliver
		}
	default:
		action = dlq.ActionDLQ
		reason = dlq.ReasonNonRetryable
		if errors.Is(herr, types.ErrValidation) {
			reason = dlq.ReasonSchemaInvalid
		}
	}

	if herr != nil {
		c.logger.Warn("message handling failed",
			"subject", d.Subject,
			"sequence", d.StreamSequence,
			"deliveryCount", d.DeliveryCount,
			"outcome", outcome.String(),
			"action", action.String(),
			"error", herr,
		)
	}

	switch action {
	case dlq.ActionAck:
		c.ack(msg, d)
	case dlq.ActionNak:
		c.nak(msg, d)
	case dlq.ActionDLQ:
		c.deadLetter(ctx, msg, d, reason, herr)
	}
}

// invoke runs decoder and handler, keeping the ack deadline alive and
// converting panics into non-retryable errors.
func (c *DurableConsumer) invoke(ctx context.Context, msg jetstream.Msg, d *Delivery) (err error) {
	if c.decoder != nil {
		v, derr := c.safeDecode(d)
		if derr != nil {
			if !errors.Is(derr, types.ErrValidation) {
				derr = types.Validation(derr)
			}

			return derr
		}
		d.Value = v
	}

	if c.cfg.InProgressInterval > 0 {
		stop := make(chan struct{})
		defer close(stop)
		go c.keepAlive(msg, stop)
	}

	defer func() {
		if r := recover(); r != nil {
			err = types.NonRetryable(fmt.Errorf("handler panic: %v", r))
		}
	}()

	return c.handler.Handle(ctx, d)
}

func (c *DurableConsumer) safeDecode(d *Delivery) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decoder panic: %v", r)
		}
	}()

	return c.decoder.Decode(d)
}

func (c *DurableConsumer) keepAlive(msg jetstream.Msg, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.InProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := msg.InProgress(); err != nil {
				c.logger.Debug("failed to extend ack deadline", "subject", msg.Subject(), "error", err)
			}
		}
	}
}

func (c *DurableConsumer) ack(msg jetstream.Msg, d *Delivery) {
	if err := msg.Ack(); err != nil {
		c.logger.Warn("ack failed", "sequence", d.StreamSequence, "error", err)
	}
	c.metrics.RecordMessageDecision(c.cfg.Durable, dlq.ActionAck.String(), "")
}

func (c *DurableConsumer) nak(msg jetstream.Msg, d *Delivery) {
	if err := msg.NakWithDelay(c.cfg.NakDelay); err != nil {
		c.logger.Warn("nak failed", "sequence", d.StreamSequence, "error", err)
	}
	c.metrics.RecordMessageDecision(c.cfg.Durable, dlq.ActionNak.String(), "")
}

// deadLetter publishes the envelope and then acks. A failed publish naks so
// the route is retried on the next delivery.
func (c *DurableConsumer) deadLetter(ctx context.Context, msg jetstream.Msg, d *Delivery, reason string, cause error) {
	if c.dlq == nil {
		c.logger.Error("no dead-letter destination configured, terminating message",
			"sequence", d.StreamSequence, "reason", reason)
		_ = msg.Term()
		c.metrics.RecordMessageDecision(c.cfg.Durable, "term", reason)

		return
	}

	env := &dlq.Envelope{
		Payload:        d.Data,
		Subject:        d.Subject,
		Consumer:       d.Consumer,
		Stream:         d.Stream,
		StreamSequence: d.StreamSequence,
		DeliveryCount:  d.DeliveryCount,
		Reason:         reason,
		DeadLetteredAt: time.Now().UTC(),
	}
	if cause != nil {
		env.Error = cause.Error()
	}

	if err := c.dlq.Publish(ctx, env); err != nil {
		c.logger.Error("dead-letter publish failed, will retry on redelivery",
			"sequence", d.StreamSequence, "reason", reason, "error", err)
		c.nak(msg, d)
		_ = c.hooks.OnError(ctx, err)

		return
	}

	if err := msg.Ack(); err != nil {
		c.logger.Warn("ack after dead-letter failed", "sequence", d.StreamSequence, "error", err)
	}
	c.metrics.RecordMessageDecision(c.cfg.Durable, dlq.ActionDLQ.String(), reason)
	c.logger.Info("message dead-lettered",
		"subject", d.Subject, "sequence", d.StreamSequence, "reason", reason, "deliveryCount", d.DeliveryCount)

	subject := d.Subject
	go func() {
		if err := c.hooks.OnDeadLetter(context.Background(), subject, reason); err != nil {
			c.logger.Warn("dead-letter hook failed", "error", err)
		}
	}()
}
