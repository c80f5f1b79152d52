package subscription

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/jobline/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeSuccess},
		{"transient", types.Transient(errors.New("upstream 503")), OutcomeRetryable},
		{"timeout sentinel", fmt.Errorf("generate: %w", types.ErrTimeout), OutcomeRetryable},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), OutcomeRetryable},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "db"}, OutcomeRetryable},
		{"nats timeout", nats.ErrTimeout, OutcomeRetryable},
		{"deadline exceeded", context.DeadlineExceeded, OutcomeRetryable},
		{"persistence caused by connectivity", types.Persistence(errors.New("connection refused")), OutcomeRetryable},
		{"persistence without connectivity cause", types.Persistence(errors.New("unique violation")), OutcomeNonRetryable},
		{"validation", types.Validation(errors.New("missing owner")), OutcomeNonRetryable},
		{"validation wins over connectivity text", types.Validation(errors.New("connection refused")), OutcomeNonRetryable},
		{"non-retryable", types.NonRetryable(errors.New("quota exhausted")), OutcomeNonRetryable},
		{"unclassified", errors.New("something odd"), OutcomeNonRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestOutcome_String(t *testing.T) {
	require.Equal(t, "success", OutcomeSuccess.String())
	require.Equal(t, "retryable", OutcomeRetryable.String())
	require.Equal(t, "non_retryable", OutcomeNonRetryable.String())
	require.Equal(t, "unknown", Outcome(9).String())
}

func TestRedeliveryCount(t *testing.T) {
	require.Equal(t, 0, redeliveryCount(0))
	require.Equal(t, 0, redeliveryCount(1))
	require.Equal(t, 1, redeliveryCount(2))
	require.Equal(t, 4, redeliveryCount(5))
}
