// Package httpgen adapts an HTTP endpoint to types.Generator.
package httpgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/arloliu/jobline/types"
)

// Request headers describing the job.
const (
	HeaderJobID = "Jobline-Job-Id"
	HeaderOwner = "Jobline-Owner"
	HeaderKind  = "Jobline-Kind"
)

// DefaultMaxResponseBytes caps the artifact size read from the endpoint.
const DefaultMaxResponseBytes = 16 << 20

// Generator posts the job payload to an endpoint and returns the response
// body as the job result.
//
// Status codes map onto the error taxonomy: 2xx succeeds, 408, 429 and 5xx
// are transient, any other status is non-retryable. Transport errors are
// transient.
type Generator struct {
	url      string
	client   *http.Client
	maxBytes int64
}

var _ types.Generator = (*Generator)(nil)

// Option configures a Generator.
type Option func(*Generator)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option {
	return func(g *Generator) {
		g.client = c
	}
}

// WithMaxResponseBytes caps the response body size.
func WithMaxResponseBytes(n int64) Option {
	return func(g *Generator) {
		g.maxBytes = n
	}
}

// New creates a Generator posting to url.
func New(url string, opts ...Option) (*Generator, error) {
	if url == "" {
		return nil, errors.New("generator url is required")
	}

	g := &Generator{
		url:      url,
		client:   &http.Client{Timeout: 5 * time.Minute},
		maxBytes: DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Generate implements types.Generator.
func (g *Generator) Generate(ctx context.Context, req types.GenerateRequest) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(req.Payload))
	if err != nil {
		return nil, types.NonRetryable(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderJobID, req.JobID)
	httpReq.Header.Set(HeaderOwner, req.Owner)
	if req.Kind != "" {
		httpReq.Header.Set(HeaderKind, req.Kind)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %w", types.ErrTimeout, err)
		}

		return nil, types.Transient(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBytes+1))
	if err != nil {
		return nil, types.Transient(fmt.Errorf("read response: %w", err))
	}
	if int64(len(body)) > g.maxBytes {
		return nil, types.NonRetryable(fmt.Errorf("response exceeds %d bytes", g.maxBytes))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, types.Transient(fmt.Errorf("generator returned %s: %s", resp.Status, snippet(body)))
	default:
		return nil, types.NonRetryable(fmt.Errorf("generator returned %s: %s", resp.Status, snippet(body)))
	}
}

func snippet(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}

	return string(b)
}
