package types

import (
	"context"
	"time"
)

// EventType identifies a terminal job notification.
type EventType string

const (
	// EventJobCompleted is published once when a job completes.
	EventJobCompleted EventType = "job.completed"
	// EventJobFailed is published once when a job fails.
	EventJobFailed EventType = "job.failed"
)

// JobEvent is the terminal notification published for every job.
type JobEvent struct {
	ID         string    `json:"id" msgpack:"id"`
	Type       EventType `json:"type" msgpack:"type"`
	JobID      string    `json:"job_id" msgpack:"job_id"`
	Owner      string    `json:"owner" msgpack:"owner"`
	Kind       string    `json:"kind,omitempty" msgpack:"kind,omitempty"`
	Result     []byte    `json:"result,omitempty" msgpack:"result,omitempty"`
	Error      string    `json:"error,omitempty" msgpack:"error,omitempty"`
	Attempts   int       `json:"attempts" msgpack:"attempts"`
	OccurredAt time.Time `json:"occurred_at" msgpack:"occurred_at"`
}

// EventBus publishes job events.
//
// Publishing is fire-and-forget from the orchestrator's point of view: a
// publish error is logged and counted but never changes the job's state.
type EventBus interface {
	Publish(ctx context.Context, evt JobEvent) error
}
