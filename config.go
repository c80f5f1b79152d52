package jobline

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/jobline/orchestrator"
	"github.com/arloliu/jobline/topology"
)

// StreamConfig names the JetStream streams and subjects the pipeline uses.
type StreamConfig struct {
	// Name is the stream holding job requests and ingest messages.
	Name string `yaml:"name"`

	// RequestSubject carries job requests handled by the orchestrator.
	RequestSubject string `yaml:"requestSubject"`

	// IngestSubject carries messages for the ingest handler, if any.
	IngestSubject string `yaml:"ingestSubject"`

	// DLQStream is the stream capturing dead-lettered envelopes.
	DLQStream string `yaml:"dlqStream"`

	// DLQSubject is the subject dead-lettered envelopes are published on.
	DLQSubject string `yaml:"dlqSubject"`

	// Replicas is the replica count for both streams. Depends on the
	// deployment: 1 for a single server, 3 for a typical cluster.
	Replicas int `yaml:"replicas"`

	// MaxAge bounds how long messages are retained (0 = unlimited).
	MaxAge time.Duration `yaml:"maxAge"`

	// Storage is "file" or "memory".
	Storage topology.Storage `yaml:"storage"`

	// Duplicates is the publish deduplication window. Defaults to 2m, or to
	// MaxAge when that is shorter; it must not exceed a non-zero MaxAge.
	Duplicates time.Duration `yaml:"duplicates"`
}

// ConsumerConfig controls the durable consumer.
type ConsumerConfig struct {
	// Durable is the durable consumer name.
	Durable string `yaml:"durable"`

	// MaxDeliver is the delivery count at which a failing message is
	// dead-lettered.
	MaxDeliver int `yaml:"maxDeliver"`

	// AckWait is the server-side redelivery timeout and, unless NakDelay is
	// set, the delay applied after a nak.
	AckWait time.Duration `yaml:"ackWait"`

	// NakDelay is the redelivery delay after a retryable failure.
	NakDelay time.Duration `yaml:"nakDelay"`

	// MaxAckPending caps unacknowledged messages on the server.
	MaxAckPending int `yaml:"maxAckPending"`

	// BatchSize is the number of messages fetched per pull.
	BatchSize int `yaml:"batchSize"`

	// FetchTimeout bounds one pull.
	FetchTimeout time.Duration `yaml:"fetchTimeout"`

	// MaxInFlight is the number of messages of a batch handled concurrently.
	MaxInFlight int `yaml:"maxInFlight"`
}

// JobsConfig controls job execution.
type JobsConfig struct {
	// MaxConcurrency is the default number of concurrent jobs per owner.
	MaxConcurrency int `yaml:"maxConcurrency"`

	// OwnerLimits overrides MaxConcurrency for specific owners.
	OwnerLimits map[string]int `yaml:"ownerLimits"`

	// Orchestrator holds timeouts and retry counts.
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
}

// TopologyConfig controls topology reconciliation.
type TopologyConfig struct {
	// ReconcileOnStart reconciles the desired topology before the consumer
	// starts.
	ReconcileOnStart bool `yaml:"reconcileOnStart"`

	// DryRun reports reconcile decisions without applying them.
	DryRun bool `yaml:"dryRun"`

	// File optionally points to a YAML topology document used instead of
	// the topology derived from this configuration.
	File string `yaml:"file"`
}

// StoreConfig selects the job store.
type StoreConfig struct {
	// Driver is "memory", "postgres" or "natskv".
	Driver string `yaml:"driver"`

	// PostgresDSN is the connection string for the postgres driver.
	PostgresDSN string `yaml:"postgresDsn"`

	// Migrate applies the schema at startup for the postgres driver.
	Migrate bool `yaml:"migrate"`

	// KVBucket is the bucket name for the natskv driver.
	KVBucket string `yaml:"kvBucket"`
}

// EventsConfig selects the event bus.
type EventsConfig struct {
	// Driver is "nats", "redis" or "none".
	Driver string `yaml:"driver"`

	// Codec is "json" or "msgpack".
	Codec string `yaml:"codec"`

	// SubjectPrefix prefixes NATS event subjects.
	SubjectPrefix string `yaml:"subjectPrefix"`

	// JetStream publishes NATS events through JetStream with deduplication.
	// The subjects must then be captured by a stream.
	JetStream bool `yaml:"jetStream"`

	// RedisAddr is the Redis address for the redis driver.
	RedisAddr string `yaml:"redisAddr"`

	// RedisChannelPrefix prefixes Redis channels.
	RedisChannelPrefix string `yaml:"redisChannelPrefix"`
}

// LogConfig configures the default slog logger built by the CLI.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete pipeline configuration.
//
// All duration fields accept Go duration strings like "30s" or "5m".
type Config struct {
	// NATSURL is the NATS server URL used by the CLI.
	NATSURL string `yaml:"natsUrl"`

	// MetricsAddr is the listen address of the CLI metrics endpoint. Empty
	// disables the endpoint.
	MetricsAddr string `yaml:"metricsAddr"`

	// ShutdownTimeout bounds draining the in-flight batch on Stop.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	Stream   StreamConfig   `yaml:"stream"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Topology TopologyConfig `yaml:"topology"`
	Store    StoreConfig    `yaml:"store"`
	Events   EventsConfig   `yaml:"events"`
	Log      LogConfig      `yaml:"log"`
}

// Store and event bus drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreNATSKV   = "natskv"

	EventsNATS  = "nats"
	EventsRedis = "redis"
	EventsNone  = "none"
)

// DefaultConfig returns a Config with production defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		NATSURL:         "nats://127.0.0.1:4222",
		MetricsAddr:     ":9090",
		ShutdownTimeout: 30 * time.Second,
		Stream: StreamConfig{
			Name:           "JOBS",
			RequestSubject: "jobs.request",
			IngestSubject:  "jobs.ingest",
			DLQStream:      "JOBS_DLQ",
			DLQSubject:     "jobs.dlq",
			Replicas:       1,
			Storage:        topology.StorageFile,
			Duplicates:     2 * time.Minute,
		},
		Consumer: ConsumerConfig{
			Durable:       "jobline-worker",
			MaxDeliver:    5,
			AckWait:       30 * time.Second,
			MaxAckPending: 1000,
			BatchSize:     10,
			FetchTimeout:  5 * time.Second,
			MaxInFlight:   4,
		},
		Jobs: JobsConfig{
			MaxConcurrency: 1,
			Orchestrator:   orchestrator.DefaultConfig(),
		},
		Store: StoreConfig{
			Driver:   StoreMemory,
			KVBucket: "jobline-jobs",
		},
		Events: EventsConfig{
			Driver:             EventsNATS,
			Codec:              "json",
			SubjectPrefix:      "jobline.events",
			RedisChannelPrefix: "jobline:events",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	d := DefaultConfig()

	setString(&cfg.NATSURL, d.NATSURL)
	setDuration(&cfg.ShutdownTimeout, d.ShutdownTimeout)

	setString(&cfg.Stream.Name, d.Stream.Name)
	setString(&cfg.Stream.RequestSubject, d.Stream.RequestSubject)
	setString(&cfg.Stream.IngestSubject, d.Stream.IngestSubject)
	setString(&cfg.Stream.DLQStream, d.Stream.DLQStream)
	setString(&cfg.Stream.DLQSubject, d.Stream.DLQSubject)
	setInt(&cfg.Stream.Replicas, d.Stream.Replicas)
	if cfg.Stream.Storage == "" {
		cfg.Stream.Storage = d.Stream.Storage
	}
	setDuration(&cfg.Stream.Duplicates, topology.DefaultDuplicates(cfg.Stream.MaxAge))

	setString(&cfg.Consumer.Durable, d.Consumer.Durable)
	setInt(&cfg.Consumer.MaxDeliver, d.Consumer.MaxDeliver)
	setDuration(&cfg.Consumer.AckWait, d.Consumer.AckWait)
	setInt(&cfg.Consumer.MaxAckPending, d.Consumer.MaxAckPending)
	setInt(&cfg.Consumer.BatchSize, d.Consumer.BatchSize)
	setDuration(&cfg.Consumer.FetchTimeout, d.Consumer.FetchTimeout)
	setInt(&cfg.Consumer.MaxInFlight, d.Consumer.MaxInFlight)

	setInt(&cfg.Jobs.MaxConcurrency, d.Jobs.MaxConcurrency)
	cfg.Jobs.Orchestrator.SetDefaults()

	setString(&cfg.Store.Driver, d.Store.Driver)
	setString(&cfg.Store.KVBucket, d.Store.KVBucket)

	setString(&cfg.Events.Driver, d.Events.Driver)
	setString(&cfg.Events.Codec, d.Events.Codec)
	setString(&cfg.Events.SubjectPrefix, d.Events.SubjectPrefix)
	setString(&cfg.Events.RedisChannelPrefix, d.Events.RedisChannelPrefix)

	setString(&cfg.Log.Level, d.Log.Level)
	setString(&cfg.Log.Format, d.Log.Format)
	// MetricsAddr stays empty when unset so that embedding applications do
	// not open a listener by accident; the CLI sets its own default.
}

func setString(v *string, d string) {
	if *v == "" {
		*v = d
	}
}

func setInt(v *int, d int) {
	if *v == 0 {
		*v = d
	}
}

func setDuration(v *time.Duration, d time.Duration) {
	if *v == 0 {
		*v = d
	}
}

// Validate checks configuration constraints.
//
// Returns:
//   - error: Validation error wrapping ErrInvalidConfig, nil if valid
func (cfg *Config) Validate() error {
	switch {
	case cfg.Stream.Name == "" || cfg.Stream.DLQStream == "":
		return fmt.Errorf("%w: stream names are required", ErrInvalidConfig)
	case cfg.Stream.Name == cfg.Stream.DLQStream:
		return fmt.Errorf("%w: dead-letter stream must differ from the job stream (%s)", ErrInvalidConfig, cfg.Stream.Name)
	case cfg.Stream.RequestSubject == "":
		return fmt.Errorf("%w: request subject is required", ErrInvalidConfig)
	case cfg.Stream.RequestSubject == cfg.Stream.IngestSubject:
		return fmt.Errorf("%w: request and ingest subjects must differ", ErrInvalidConfig)
	case cfg.Stream.DLQSubject == "" || cfg.Stream.DLQSubject == cfg.Stream.RequestSubject || cfg.Stream.DLQSubject == cfg.Stream.IngestSubject:
		return fmt.Errorf("%w: dead-letter subject must be set and differ from the job subjects", ErrInvalidConfig)
	case cfg.Stream.Replicas < 1 || cfg.Stream.Replicas > 5:
		return fmt.Errorf("%w: stream replicas must be between 1 and 5, got %d", ErrInvalidConfig, cfg.Stream.Replicas)
	case cfg.Stream.MaxAge < 0 || cfg.Stream.Duplicates < 0:
		return fmt.Errorf("%w: stream maxAge and duplicates must not be negative", ErrInvalidConfig)
	case cfg.Stream.MaxAge > 0 && cfg.Stream.Duplicates > cfg.Stream.MaxAge:
		return fmt.Errorf("%w: duplicates window (%v) must not exceed stream maxAge (%v)",
			ErrInvalidConfig, cfg.Stream.Duplicates, cfg.Stream.MaxAge)
	case cfg.Consumer.Durable == "":
		return fmt.Errorf("%w: durable name is required", ErrInvalidConfig)
	case cfg.Consumer.MaxDeliver < 1:
		return fmt.Errorf("%w: maxDeliver must be >= 1, got %d", ErrInvalidConfig, cfg.Consumer.MaxDeliver)
	case cfg.Consumer.AckWait <= 0:
		return fmt.Errorf("%w: ackWait must be > 0, got %v", ErrInvalidConfig, cfg.Consumer.AckWait)
	case cfg.Consumer.NakDelay < 0:
		return fmt.Errorf("%w: nakDelay must not be negative", ErrInvalidConfig)
	case cfg.Consumer.MaxInFlight > cfg.Consumer.MaxAckPending:
		return fmt.Errorf("%w: maxInFlight (%d) must not exceed maxAckPending (%d)",
			ErrInvalidConfig, cfg.Consumer.MaxInFlight, cfg.Consumer.MaxAckPending)
	case cfg.Jobs.MaxConcurrency < 1:
		return fmt.Errorf("%w: maxConcurrency must be >= 1, got %d", ErrInvalidConfig, cfg.Jobs.MaxConcurrency)
	}

	for owner, limit := range cfg.Jobs.OwnerLimits {
		if limit < 1 {
			return fmt.Errorf("%w: owner %q limit must be >= 1, got %d", ErrInvalidConfig, owner, limit)
		}
	}
	if err := cfg.Jobs.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch cfg.Store.Driver {
	case StoreMemory, StoreNATSKV:
	case StorePostgres:
		if cfg.Store.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres store requires a DSN", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, cfg.Store.Driver)
	}

	switch cfg.Events.Driver {
	case EventsNATS, EventsNone:
	case EventsRedis:
		if cfg.Events.RedisAddr == "" {
			return fmt.Errorf("%w: redis event bus requires an address", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown event driver %q", ErrInvalidConfig, cfg.Events.Driver)
	}
	if cfg.Events.Codec != "json" && cfg.Events.Codec != "msgpack" {
		return fmt.Errorf("%w: unknown event codec %q", ErrInvalidConfig, cfg.Events.Codec)
	}

	return nil
}

// ValidateWithWarnings logs warnings for values that are valid but unlikely
// to be intended.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.Jobs.Orchestrator.ComputeTimeout > cfg.Consumer.AckWait {
		logger.Warn(
			"compute timeout exceeds ack wait; in-progress acks keep messages alive",
			"computeTimeout", cfg.Jobs.Orchestrator.ComputeTimeout,
			"ackWait", cfg.Consumer.AckWait,
		)
	}

	if cfg.Stream.Replicas == 1 {
		logger.Warn("streams have a single replica; data is lost with the server", "replicas", cfg.Stream.Replicas)
	}

	if cfg.Consumer.MaxInFlight < cfg.Jobs.MaxConcurrency {
		logger.Warn(
			"maxInFlight is below the per-owner concurrency; owners cannot reach their limit",
			"maxInFlight", cfg.Consumer.MaxInFlight,
			"maxConcurrency", cfg.Jobs.MaxConcurrency,
		)
	}
}

// TestConfig returns a configuration with fast timings for tests.
//
// Example:
//
//	cfg := jobline.TestConfig()
//	cfg.Stream.Name = "TEST_JOBS"
//	p, err := jobline.NewPipeline(cfg, nc, generator)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.MetricsAddr = ""
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.Stream.Storage = topology.StorageMemory
	cfg.Consumer.AckWait = 2 * time.Second
	cfg.Consumer.NakDelay = 50 * time.Millisecond
	cfg.Consumer.FetchTimeout = 200 * time.Millisecond
	cfg.Jobs.Orchestrator.ComputeTimeout = 2 * time.Second
	cfg.Topology.ReconcileOnStart = true

	return cfg
}

// envOverrides lists the environment variables recognized by ApplyEnv.
type envOverrides struct {
	NATSURL        *string `env:"NATS_URL"`
	MaxDeliver     *int    `env:"MAX_DELIVER"`
	AckWaitMS      *int64  `env:"ACK_WAIT_MS"`
	MaxConcurrency *int    `env:"MAX_CONCURRENCY"`
	DryRun         *bool   `env:"DRY_RUN"`
	StreamReplicas *int    `env:"STREAM_REPLICAS"`
	PostgresDSN    *string `env:"POSTGRES_DSN"`
	StoreDriver    *string `env:"STORE_DRIVER"`
	RedisAddr      *string `env:"REDIS_ADDR"`
	MetricsAddr    *string `env:"METRICS_ADDR"`
	LogLevel       *string `env:"LOG_LEVEL"`
}

// ApplyEnv overrides cfg with values from the process environment.
//
// Recognized variables: NATS_URL, MAX_DELIVER, ACK_WAIT_MS (milliseconds,
// sets both ack wait and nak delay), MAX_CONCURRENCY, DRY_RUN,
// STREAM_REPLICAS, POSTGRES_DSN (also selects the postgres store),
// STORE_DRIVER (wins over the driver implied by POSTGRES_DSN), REDIS_ADDR
// (also selects the redis event bus), METRICS_ADDR and LOG_LEVEL.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, env.Options{})
}

// ApplyEnvFrom is ApplyEnv reading from environ instead of the process
// environment.
func ApplyEnvFrom(cfg *Config, environ map[string]string) error {
	return applyEnv(cfg, env.Options{Environment: environ})
}

func applyEnv(cfg *Config, opts env.Options) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if o.NATSURL != nil {
		cfg.NATSURL = *o.NATSURL
	}
	if o.MaxDeliver != nil {
		cfg.Consumer.MaxDeliver = *o.MaxDeliver
	}
	if o.AckWaitMS != nil {
		d := time.Duration(*o.AckWaitMS) * time.Millisecond
		cfg.Consumer.AckWait = d
		cfg.Consumer.NakDelay = d
	}
	if o.MaxConcurrency != nil {
		cfg.Jobs.MaxConcurrency = *o.MaxConcurrency
	}
	if o.DryRun != nil {
		cfg.Topology.DryRun = *o.DryRun
	}
	if o.StreamReplicas != nil {
		cfg.Stream.Replicas = *o.StreamReplicas
	}
	if o.PostgresDSN != nil && *o.PostgresDSN != "" {
		cfg.Store.Driver = StorePostgres
		cfg.Store.PostgresDSN = *o.PostgresDSN
	}
	if o.StoreDriver != nil && *o.StoreDriver != "" {
		cfg.Store.Driver = *o.StoreDriver
	}
	if o.RedisAddr != nil && *o.RedisAddr != "" {
		cfg.Events.Driver = EventsRedis
		cfg.Events.RedisAddr = *o.RedisAddr
	}
	if o.MetricsAddr != nil {
		cfg.MetricsAddr = *o.MetricsAddr
	}
	if o.LogLevel != nil {
		cfg.Log.Level = *o.LogLevel
	}

	return nil
}

// LoadConfig reads a YAML configuration file, applies defaults and
// environment overrides, and validates the result.
//
// An empty path starts from DefaultConfig.
//
// Returns:
//   - Config: Validated configuration
//   - error: Read, parse, override or validation error
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		cfg = Config{}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		SetDefaults(&cfg)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// consumerSubjects lists the subjects the worker durable consumes. The
// durable filters on exactly these, so other subjects added to the job
// stream never reach the worker.
func (cfg *Config) consumerSubjects() []string {
	subjects := []string{cfg.Stream.RequestSubject}
	if cfg.Stream.IngestSubject != "" {
		subjects = append(subjects, cfg.Stream.IngestSubject)
	}

	return subjects
}

// DesiredTopology returns the streams and durable consumer the pipeline
// depends on.
//
// The job stream captures the request and ingest subjects and carries the
// worker durable. The durable's server-side max deliver is unlimited: the
// consumer enforces MaxDeliver itself so that a failed dead-letter publish
// can be retried on the next delivery. When Topology.File is set the file
// is loaded instead.
func (cfg *Config) DesiredTopology() (topology.Desired, error) {
	if cfg.Topology.File != "" {
		return topology.LoadDesired(cfg.Topology.File)
	}

	subjects := cfg.consumerSubjects()

	return topology.Desired{
		Streams: []topology.StreamSpec{
			{
				Name:       cfg.Stream.Name,
				Subjects:   subjects,
				Retention:  topology.RetentionLimits,
				MaxAge:     cfg.Stream.MaxAge,
				Storage:    cfg.Stream.Storage,
				Replicas:   cfg.Stream.Replicas,
				Duplicates: cfg.Stream.Duplicates,
				Consumers: []topology.ConsumerSpec{
					{
						Durable:        cfg.Consumer.Durable,
						FilterSubjects: cfg.consumerSubjects(),
						AckPolicy:      topology.AckExplicit,
						MaxDeliver:     -1,
						AckWait:        cfg.Consumer.AckWait,
						MaxAckPending:  cfg.Consumer.MaxAckPending,
					},
				},
			},
			{
				Name:       cfg.Stream.DLQStream,
				Subjects:   []string{cfg.Stream.DLQSubject},
				Retention:  topology.RetentionLimits,
				Storage:    cfg.Stream.Storage,
				Replicas:   cfg.Stream.Replicas,
				Duplicates: cfg.Stream.Duplicates,
			},
		},
	}, nil
}
