package types

import (
	"context"
	"fmt"
	"time"
)

// Status is the lifecycle state of a job.
//
// Transitions are monotonic:
//
//	queued → running → completed
//	                 ↘ failed
//	queued → failed
//
// A job never returns to queued once it has left it, and terminal states
// accept no further transitions.
type Status string

const (
	// StatusQueued means the job is persisted and waiting for a gate slot.
	StatusQueued Status = "queued"
	// StatusRunning means the external compute call is in progress.
	StatusRunning Status = "running"
	// StatusCompleted means the job finished and its result is stored.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed; Error and Attempts are populated.
	StatusFailed Status = "failed"
)

// String returns the status name.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Job is the durable record of one unit of requested work.
//
// Result is set only when Status is completed; Error only when Status is
// failed. Attempts counts how many times the job entered running.
type Job struct {
	ID         string     `json:"id"`
	Owner      string     `json:"owner"`
	Kind       string     `json:"kind,omitempty"`
	Status     Status     `json:"status"`
	Request    []byte     `json:"request,omitempty"`
	Result     []byte     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	Attempts   int        `json:"attempts"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Transition moves the job to next, stamping the relevant timestamps.
//
// Returns ErrInvalidTransition when the move would break the lifecycle.
func (j *Job) Transition(next Status, at time.Time) error {
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidTransition, j.Status, next, j.ID)
	}

	j.Status = next
	j.UpdatedAt = at

	switch next {
	case StatusRunning:
		started := at
		j.StartedAt = &started
		j.Attempts++
	case StatusCompleted, StatusFailed:
		finished := at
		j.FinishedAt = &finished
	}

	return nil
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}

	c := *j
	if j.Request != nil {
		c.Request = append([]byte(nil), j.Request...)
	}
	if j.Result != nil {
		c.Result = append([]byte(nil), j.Result...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}

	return &c
}

// JobStore persists job records.
//
// The orchestrator is the only writer. Every mutation is a single-row upsert
// keyed by job id; no operation spans more than one job.
type JobStore interface {
	// Upsert creates or replaces the job row identified by j.ID.
	Upsert(ctx context.Context, j *Job) error

	// Get returns the job with the given id, or ErrJobNotFound.
	Get(ctx context.Context, id string) (*Job, error)
}

// GenerateRequest is the input handed to the external compute capability.
type GenerateRequest struct {
	JobID   string
	Owner   string
	Kind    string
	Payload []byte
}

// Generator is the external compute capability invoked by jobs.
//
// Implementations may block, return an error, or exceed the orchestrator's
// timeout; they should honor ctx cancellation.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]byte, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) ([]byte, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) ([]byte, error) {
	return f(ctx, req)
}
