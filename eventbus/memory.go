package eventbus

import (
	"context"
	"slices"
	"sync"

	"github.com/arloliu/jobline/types"
)

// Recorder is an in-memory EventBus that keeps every published event.
type Recorder struct {
	mu     sync.Mutex
	events []types.JobEvent
	fail   []error
}

var _ types.EventBus = (*Recorder)(nil)

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish records evt, or returns the next queued failure.
func (r *Recorder) Publish(ctx context.Context, evt types.JobEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.fail) > 0 {
		err := r.fail[0]
		r.fail = r.fail[1:]

		return err
	}
	r.events = append(r.events, evt)

	return nil
}

// FailNext makes the next len(errs) publishes return errs in order.
func (r *Recorder) FailNext(errs ...error) {
	r.mu.Lock()
	r.fail = append(r.fail, errs...)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []types.JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.events)
}

// ForJob returns the recorded events for one job.
func (r *Recorder) ForJob(jobID string) []types.JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []types.JobEvent
	for _, evt := range r.events {
		if evt.JobID == jobID {
			out = append(out, evt)
		}
	}

	return out
}
