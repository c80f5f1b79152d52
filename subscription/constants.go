package subscription

import "time"

// Default configuration values for DurableConsumer.
const (
	// DefaultAckWait is the default duration the server waits for an ack.
	DefaultAckWait = 30 * time.Second

	// DefaultMaxDeliver is the delivery count at which retryable failures are dead-lettered.
	DefaultMaxDeliver = 5

	// DefaultMaxAckPending is the default limit of unacknowledged messages.
	DefaultMaxAckPending = 1000

	// DefaultBatchSize is the default number of messages fetched per pull request.
	DefaultBatchSize = 10

	// DefaultFetchTimeout is the default maximum wait for a batch.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultMaxInFlight processes one message at a time in stream order.
	DefaultMaxInFlight = 1

	// DefaultRetryBackoff is the initial delay after a failed fetch.
	DefaultRetryBackoff = 100 * time.Millisecond

	// DefaultMaxRetryBackoff caps the delay between failed fetches.
	DefaultMaxRetryBackoff = 5 * time.Second
)
