package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the consumer, the orchestrator and the stores.
//
// Components wrap concrete failures with one of the category sentinels below
// using fmt.Errorf("...: %w", err) or the helper constructors, and callers
// classify with errors.Is. The durable consumer maps the categories onto
// ack decisions (see subscription.Classify).
var (
	// ErrTransient marks transient infrastructure failures (connection refused,
	// timeouts, DNS resolution). Retried via nak up to the delivery threshold.
	ErrTransient = errors.New("transient infrastructure error")

	// ErrValidation marks malformed or non-conforming payloads.
	// Never retried; routed to the dead-letter subject on first occurrence.
	ErrValidation = errors.New("validation error")

	// ErrNonRetryable marks business-rule violations that retrying cannot fix.
	ErrNonRetryable = errors.New("non-retryable error")

	// ErrTimeout marks an external compute call that exceeded its deadline.
	// The orchestrator treats it as a job failure; it is not retried in-process.
	ErrTimeout = errors.New("external compute timed out")

	// ErrPersistence marks a job store failure. A job whose persistence fails
	// mid-flight transitions to failed with the cause recorded.
	ErrPersistence = errors.New("persistence error")
)

// Lookup and state errors.
var (
	// ErrJobNotFound is returned by JobStore.Get when no job has the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status change would violate the
	// monotonic job lifecycle.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrGateReset is returned to tasks still waiting in a gate queue when the
	// gate is reset.
	ErrGateReset = errors.New("concurrency gate reset while waiting")
)

// Transient wraps err as a transient infrastructure error.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Validation wraps err as a validation error.
func Validation(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrValidation, err)
}

// NonRetryable wraps err as a non-retryable business error.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrNonRetryable, err)
}

// Persistence wraps err as a persistence error.
func Persistence(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
