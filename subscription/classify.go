package subscription

import (
	"errors"

	"github.com/arloliu/jobline/internal/natsutil"
	"github.com/arloliu/jobline/types"
)

// Outcome is the retry class of a handler result.
type Outcome int

const (
	// OutcomeSuccess means the handler succeeded.
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable means the failure is transient and may succeed on redelivery.
	OutcomeRetryable
	// OutcomeNonRetryable means redelivery cannot help.
	OutcomeNonRetryable
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeNonRetryable:
		return "non_retryable"
	default:
		return "unknown"
	}
}

// Classify maps a handler error to an Outcome.
//
// Validation and non-retryable errors win over everything else. Transient
// and timeout errors, and any error caused by a connectivity failure
// (connection refused, DNS, network timeouts, NATS disconnects, context
// deadlines) are retryable. A persistence error is retryable only when its
// cause is a connectivity failure. Anything else is non-retryable.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	switch {
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrNonRetryable):
		return OutcomeNonRetryable
	case errors.Is(err, types.ErrTransient), errors.Is(err, types.ErrTimeout):
		return OutcomeRetryable
	case natsutil.IsConnectivityError(err):
		return OutcomeRetryable
	default:
		return OutcomeNonRetryable
	}
}
