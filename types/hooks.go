package types

import "context"

// Hooks defines optional callbacks for pipeline events.
//
// Hooks run asynchronously in background goroutines so that a slow hook
// never delays an ack or a gate slot. Errors returned by hooks are logged
// and otherwise ignored.
//
// Example:
//
//	hooks := &jobline.Hooks{
//	    OnJobTerminal: func(ctx context.Context, job *jobline.Job) error {
//	        return notifyOwner(ctx, job.Owner, job.Status)
//	    },
//	}
type Hooks struct {
	// OnJobTerminal is called once after a job reaches completed or failed.
	OnJobTerminal func(ctx context.Context, job *Job) error

	// OnDeadLetter is called after a message has been routed to the
	// dead-letter subject. reason is one of the dlq reason codes.
	OnDeadLetter func(ctx context.Context, subject string, reason string) error

	// OnError is called when a recoverable error occurs.
	OnError func(ctx context.Context, err error) error
}
