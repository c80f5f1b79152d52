package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arloliu/jobline/types"
)

// Request asks for one job.
type Request struct {
	// JobID makes the request idempotent. A random id is assigned when empty.
	JobID string `json:"job_id,omitempty"`
	// Owner is the gating key and the principal the job belongs to.
	Owner string `json:"owner"`
	// Kind is an optional job category forwarded to the generator.
	Kind string `json:"kind,omitempty"`
	// Payload is passed to the generator untouched.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks required fields. Errors wrap types.ErrValidation.
func (r Request) Validate() error {
	if r.Owner == "" {
		return types.Validation(errors.New("owner is required"))
	}
	if len(r.JobID) > 255 {
		return types.Validation(errors.New("job id longer than 255 characters"))
	}

	return nil
}

// DecodeRequest parses and validates a JSON request. Errors wrap
// types.ErrValidation.
func DecodeRequest(data []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return Request{}, types.Validation(fmt.Errorf("malformed job request: %w", err))
	}
	if err := r.Validate(); err != nil {
		return Request{}, err
	}

	return r, nil
}
