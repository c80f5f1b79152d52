package subscription

import (
	"errors"
	"time"

	"github.com/arloliu/jobline/internal/logging"
	"github.com/arloliu/jobline/internal/metrics"
	"github.com/arloliu/jobline/types"
)

// DurableConsumerConfig configures a DurableConsumer.
//
// Required fields:
//   - StreamName
//   - Durable
//
// Zero values of optional fields are replaced by defaults via applyDefaults().
type DurableConsumerConfig struct {
	StreamName     string
	Durable        string
	FilterSubject  string
	// FilterSubjects is used instead of FilterSubject when more than one
	// subject is consumed.
	FilterSubjects []string

	AckWait       time.Duration
	MaxDeliver    int
	MaxAckPending int

	// NakDelay is the redelivery delay for retryable failures. Defaults to AckWait.
	NakDelay time.Duration

	BatchSize    int
	FetchTimeout time.Duration

	// MaxInFlight bounds concurrent handlers within a batch. 1 keeps stream order.
	MaxInFlight int

	// InProgressInterval is how often a running handler extends its ack
	// deadline. Defaults to AckWait/2. Negative disables the heartbeat.
	InProgressInterval time.Duration

	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	RetrySeed       int64

	// DLQSubject receives dead-lettered envelopes. When empty and no
	// publisher option is given, dead-lettered messages are terminated.
	DLQSubject string

	// EnsureConsumer creates or updates the durable on Start. When false the
	// durable must already exist.
	EnsureConsumer bool

	Logger  types.Logger
	Metrics types.ConsumerMetrics
}

// validate checks required fields.
func (cfg *DurableConsumerConfig) validate() error {
	if cfg.StreamName == "" {
		return errors.New("stream name is required")
	}
	if cfg.Durable == "" {
		return errors.New("durable name is required")
	}
	if cfg.MaxDeliver < 0 {
		return errors.New("max deliver must not be negative")
	}

	return nil
}

// applyDefaults fills unset optional fields with project defaults.
func (cfg *DurableConsumerConfig) applyDefaults() {
	if cfg.AckWait == 0 {
		cfg.AckWait = DefaultAckWait
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = DefaultMaxDeliver
	}
	if cfg.MaxAckPending == 0 {
		cfg.MaxAckPending = DefaultMaxAckPending
	}
	if cfg.NakDelay == 0 {
		cfg.NakDelay = cfg.AckWait
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.InProgressInterval == 0 {
		cfg.InProgressInterval = cfg.AckWait / 2
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = DefaultMaxRetryBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
}
