package kvutil

import (
	"context"
	"fmt"
	"time"
)

// DefaultMaxRetries is used when Retry is called with maxRetries <= 0.
const DefaultMaxRetries = 3

// Permanent wraps an error so that Retry stops immediately and returns it.
type Permanent struct {
	Err error
}

// Error implements error.
func (p *Permanent) Error() string { return p.Err.Error() }

// Unwrap returns the wrapped error.
func (p *Permanent) Unwrap() error { return p.Err }

// Retry calls fn up to maxRetries times with exponential backoff
// (10ms, 20ms, 40ms, ...) between attempts.
//
// fn returning nil stops the loop. fn returning *Permanent stops the loop and
// Retry returns the wrapped error unchanged. Context cancellation aborts the
// wait between attempts.
//
// Returns:
//   - error: nil on success, the permanent error, or the last error annotated
//     with the attempt count
func Retry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if p, ok := err.(*Permanent); ok { //nolint:errorlint // only a direct Permanent stops retries
			return p.Err
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("context cancelled after %d attempts: %w", attempt+1, lastErr)
		}

		if attempt < maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond //nolint:gosec // attempt is bounded by maxRetries
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled after %d attempts: %w", attempt+1, lastErr)
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}
