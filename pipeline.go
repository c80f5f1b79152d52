package jobline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	goredis "github.com/redis/go-redis/v9"

	"github.com/arloliu/jobline/eventbus"
	"github.com/arloliu/jobline/gate"
	"github.com/arloliu/jobline/internal/hooks"
	"github.com/arloliu/jobline/internal/logging"
	"github.com/arloliu/jobline/internal/metrics"
	"github.com/arloliu/jobline/orchestrator"
	"github.com/arloliu/jobline/store/memory"
	"github.com/arloliu/jobline/store/natskv"
	"github.com/arloliu/jobline/store/postgres"
	"github.com/arloliu/jobline/subscription"
	"github.com/arloliu/jobline/topology"
	"github.com/arloliu/jobline/types"
)

// Pipeline wires the durable consumer, the orchestrator, the concurrency
// gate, the job store and the event bus into one worker.
//
// Messages on the request subject are decoded into job requests and run by
// the orchestrator under the owner's gate slot. Messages on the ingest
// subject go to the ingest handler. The consumer turns every outcome into
// an ack, a delayed nak or a dead-letter.
//
// Lifecycle:
//  1. NewPipeline validates the configuration and builds every component
//  2. Start optionally reconciles the topology, then starts consuming
//  3. Stop drains the in-flight batch and releases store and bus clients
type Pipeline struct {
	cfg     Config
	conn    *nats.Conn
	js      jetstream.JetStream
	logger  Logger
	metrics MetricsCollector
	hooks   *Hooks

	gate       *gate.Gate
	store      JobStore
	bus        EventBus
	orch       *orchestrator.Orchestrator
	consumer   *subscription.DurableConsumer
	reconciler *topology.Reconciler
	ingest     subscription.Handler

	closers []func()

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewPipeline creates a Pipeline.
//
// The job store and the event bus are selected by cfg.Store and cfg.Events
// unless WithJobStore or WithEventBus is given. Building a postgres or
// natskv store connects to it, which is why ctx is required.
//
// Parameters:
//   - ctx: Context bounding store and bus setup
//   - cfg: Pipeline configuration (zero fields take defaults)
//   - conn: Connected NATS client
//   - gen: External compute capability run by jobs
//   - opts: Optional logger, metrics, hooks, store, bus and ingest handler
//
// Returns:
//   - *Pipeline: Pipeline ready to Start
//   - error: Configuration or setup error
//
// Example:
//
//	gen := jobline.GeneratorFunc(func(ctx context.Context, req jobline.GenerateRequest) ([]byte, error) {
//	    return render(ctx, req.Payload)
//	})
//	p, err := jobline.NewPipeline(ctx, jobline.DefaultConfig(), nc, gen)
//	if err != nil {
//	    return err
//	}
//	if err := p.Start(ctx); err != nil {
//	    return err
//	}
//	defer p.Stop(context.Background())
func NewPipeline(ctx context.Context, cfg Config, conn *nats.Conn, gen Generator, opts ...Option) (*Pipeline, error) {
	if conn == nil {
		return nil, ErrNATSConnectionRequired
	}
	if gen == nil {
		return nil, ErrGeneratorRequired
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &pipelineOptions{}
	for _, opt := range opts {
		opt(options)
	}

	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}

	cfg.ValidateWithWarnings(loggerInstance)

	hooksInstance := options.hooks
	if hooksInstance == nil {
		nopHooks := hooks.NewNop()
		hooksInstance = &nopHooks
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	p := &Pipeline{
		cfg:     cfg,
		conn:    conn,
		js:      js,
		logger:  loggerInstance,
		metrics: metricsCollector,
		hooks:   hooksInstance,
		ingest:  options.ingest,
	}

	p.gate = gate.New(
		gate.WithDefaultMaxConcurrency(cfg.Jobs.MaxConcurrency),
		gate.WithMetrics(metricsCollector),
		gate.WithLogger(loggerInstance),
	)
	for owner, limit := range cfg.Jobs.OwnerLimits {
		p.gate.SetMaxConcurrency(owner, limit)
	}

	p.store = options.store
	if p.store == nil {
		if p.store, err = p.openStore(ctx); err != nil {
			p.close()
			return nil, err
		}
	}

	p.bus = options.bus
	if p.bus == nil {
		if p.bus, err = p.openBus(); err != nil {
			p.close()
			return nil, err
		}
	}

	p.orch, err = orchestrator.New(p.store, p.gate, gen, p.bus, cfg.Jobs.Orchestrator,
		orchestrator.WithLogger(loggerInstance),
		orchestrator.WithMetrics(metricsCollector),
		orchestrator.WithHooks(hooksInstance),
	)
	if err != nil {
		p.close()
		return nil, err
	}

	p.consumer, err = subscription.NewDurableConsumer(js, subscription.DurableConsumerConfig{
		StreamName:     cfg.Stream.Name,
		Durable:        cfg.Consumer.Durable,
		FilterSubjects: cfg.consumerSubjects(),
		AckWait:        cfg.Consumer.AckWait,
		MaxDeliver:     cfg.Consumer.MaxDeliver,
		MaxAckPending:  cfg.Consumer.MaxAckPending,
		NakDelay:       cfg.Consumer.NakDelay,
		BatchSize:      cfg.Consumer.BatchSize,
		FetchTimeout:   cfg.Consumer.FetchTimeout,
		MaxInFlight:    cfg.Consumer.MaxInFlight,
		DLQSubject:     cfg.Stream.DLQSubject,
		Logger:         loggerInstance,
		Metrics:        metricsCollector,
	}, subscription.HandlerFunc(p.handle),
		subscription.WithDecoder(subscription.DecoderFunc(p.decode)),
		subscription.WithHooks(hooksInstance),
	)
	if err != nil {
		p.close()
		return nil, err
	}

	p.reconciler = topology.NewReconciler(topology.NewJetStreamControlPlane(js),
		topology.WithLogger(loggerInstance),
		topology.WithMetrics(metricsCollector),
	)

	return p, nil
}

func (p *Pipeline) openStore(ctx context.Context) (JobStore, error) {
	switch p.cfg.Store.Driver {
	case StorePostgres:
		s, err := postgres.New(ctx, p.cfg.Store.PostgresDSN, postgres.WithLogger(p.logger))
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, s.Close)
		if p.cfg.Store.Migrate {
			if err := s.Migrate(ctx); err != nil {
				return nil, err
			}
		}

		return s, nil
	case StoreNATSKV:
		return natskv.New(ctx, p.js, natskv.Config{Bucket: p.cfg.Store.KVBucket, Replicas: p.cfg.Stream.Replicas})
	default:
		p.logger.Warn("using in-memory job store; job state is lost on restart")
		return memory.New(), nil
	}
}

func (p *Pipeline) openBus() (EventBus, error) {
	codec, err := eventbus.CodecByName(p.cfg.Events.Codec)
	if err != nil {
		return nil, err
	}

	switch p.cfg.Events.Driver {
	case EventsRedis:
		client := goredis.NewClient(&goredis.Options{Addr: p.cfg.Events.RedisAddr})
		p.closers = append(p.closers, func() { _ = client.Close() })

		return eventbus.NewRedisBus(client, p.cfg.Events.RedisChannelPrefix, codec)
	case EventsNone:
		return eventbus.Fanout(nil), nil
	default:
		opts := []eventbus.NATSOption{
			eventbus.WithSubjectPrefix(p.cfg.Events.SubjectPrefix),
			eventbus.WithCodec(codec),
		}
		if p.cfg.Events.JetStream {
			opts = append(opts, eventbus.WithJetStream(p.js))
		}

		return eventbus.NewNATSBus(p.conn, opts...)
	}
}

// Start reconciles the topology when Topology.ReconcileOnStart is set and
// starts the durable consumer.
//
// Parameters:
//   - ctx: Context bounding reconciliation and consumer startup
//
// A failed Start releases the store and bus clients the pipeline opened, so
// the pipeline cannot be started again.
//
// Returns:
//   - error: ErrAlreadyStarted, a reconcile error or a consumer startup error
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return ErrAlreadyStarted
	}

	if p.cfg.Topology.ReconcileOnStart {
		if _, err := p.reconcile(ctx, p.cfg.Topology.DryRun); err != nil {
			p.close()
			return fmt.Errorf("failed to reconcile topology: %w", err)
		}
	}

	if err := p.consumer.Start(ctx); err != nil {
		p.close()
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	p.started = true

	p.logger.Info("pipeline started",
		"stream", p.cfg.Stream.Name,
		"durable", p.cfg.Consumer.Durable,
		"store", fmt.Sprintf("%T", p.store),
		"bus", fmt.Sprintf("%T", p.bus),
	)

	return nil
}

// Stop stops consuming, waits for the in-flight batch and closes the store
// and bus clients the pipeline opened.
//
// Parameters:
//   - ctx: Context for shutdown timeout
//
// Returns:
//   - error: ErrNotStarted, or the drain timeout
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrNotStarted
	}
	p.started = false

	err := p.consumer.Stop(ctx)
	if err != nil && !errors.Is(err, subscription.ErrNotStarted) {
		p.logger.Error("consumer did not drain before shutdown", "error", err)
	} else {
		err = nil
	}

	p.close()
	p.logger.Info("pipeline stopped")

	return err
}

// close releases clients opened by the pipeline. Owned clients are not
// reusable afterwards, so a closed pipeline cannot be restarted.
func (p *Pipeline) close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
	p.closed = true
}

// Reconcile converges the JetStream topology towards cfg.DesiredTopology.
//
// Parameters:
//   - ctx: Context for control-plane calls
//   - dryRun: Report decisions without applying them
//
// Returns:
//   - *topology.Report: One decision per stream and consumer
//   - error: Invalid topology or joined decision errors
func (p *Pipeline) Reconcile(ctx context.Context, dryRun bool) (*topology.Report, error) {
	return p.reconcile(ctx, dryRun)
}

func (p *Pipeline) reconcile(ctx context.Context, dryRun bool) (*topology.Report, error) {
	desired, err := p.cfg.DesiredTopology()
	if err != nil {
		return nil, err
	}

	return p.reconciler.Reconcile(ctx, desired, topology.Options{DryRun: dryRun})
}

// Submit runs a job request directly, bypassing the stream.
func (p *Pipeline) Submit(ctx context.Context, req orchestrator.Request) (*Job, error) {
	return p.orch.Submit(ctx, req)
}

// Job returns the stored job with the given id, or ErrJobNotFound.
func (p *Pipeline) Job(ctx context.Context, id string) (*Job, error) {
	return p.orch.Get(ctx, id)
}

// SetOwnerLimit changes the number of concurrent jobs allowed for owner.
func (p *Pipeline) SetOwnerLimit(owner string, n int) {
	p.gate.SetMaxConcurrency(owner, n)
}

// OwnerStatus returns the gate occupancy for owner.
func (p *Pipeline) OwnerStatus(owner string) gate.Status {
	return p.gate.Status(owner)
}

// decode parses job requests. Ingest payloads are left to the ingest
// handler.
func (p *Pipeline) decode(d *subscription.Delivery) (any, error) {
	if d.Subject != p.cfg.Stream.RequestSubject {
		return nil, nil
	}

	req, err := orchestrator.DecodeRequest(d.Data)
	if err != nil {
		return nil, err
	}

	// Requests without an id are keyed by the publish id, or else by their
	// stream position, so that redeliveries stay idempotent.
	if req.JobID == "" {
		if id := d.Headers.Get(jetstream.MsgIDHeader); id != "" {
			req.JobID = id
		} else {
			req.JobID = fmt.Sprintf("%s-%d", d.Stream, d.StreamSequence)
		}
	}

	return req, nil
}

// handle dispatches a delivery by subject and maps outcomes onto the error
// taxonomy the consumer classifies.
func (p *Pipeline) handle(ctx context.Context, d *subscription.Delivery) error {
	req, ok := d.Value.(orchestrator.Request)
	if !ok {
		if p.ingest == nil {
			return types.NonRetryable(fmt.Errorf("%w: subject %s", ErrNoIngestHandler, d.Subject))
		}

		return p.ingest.Handle(ctx, d)
	}

	job, err := p.orch.Submit(ctx, req)
	switch {
	case err == nil:
		p.logger.Debug("request handled", "jobID", job.ID, "status", job.Status, "delivery", d.DeliveryCount)
		return nil
	case errors.Is(err, types.ErrPersistence):
		// Nothing terminal was published; a redelivery resumes the job.
		return types.Transient(err)
	default:
		return err
	}
}
