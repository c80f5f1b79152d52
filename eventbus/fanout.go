package eventbus

import (
	"context"
	"errors"

	"github.com/arloliu/jobline/types"
)

// Fanout publishes every event to all buses and joins their errors.
type Fanout []types.EventBus

var _ types.EventBus = Fanout(nil)

// Publish implements types.EventBus.
func (f Fanout) Publish(ctx context.Context, evt types.JobEvent) error {
	var errs []error
	for _, bus := range f {
		if err := bus.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
