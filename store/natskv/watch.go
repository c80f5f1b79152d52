package natskv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/jobline/types"
)

// Watch streams job records as they are written to the bucket.
//
// Current records are delivered first unless updatesOnly is set. The returned
// channel is closed when ctx is done. Entries that fail to decode are skipped.
//
// Parameters:
//   - ctx: Controls the lifetime of the watch
//   - updatesOnly: Skip the records present when the watch starts
//
// Returns:
//   - <-chan *types.Job: Job snapshots in write order
//   - error: Persistence error if the watch cannot be created
//
// Example:
//
//	jobs, err := store.Watch(ctx, true)
//	for j := range jobs {
//	    fmt.Println(j.ID, j.Status)
//	}
func (s *Store) Watch(ctx context.Context, updatesOnly bool) (<-chan *types.Job, error) {
	opts := []jetstream.WatchOpt{jetstream.IgnoreDeletes()}
	if updatesOnly {
		opts = append(opts, jetstream.UpdatesOnly())
	}

	w, err := s.kv.Watch(ctx, "job.>", opts...)
	if err != nil {
		return nil, types.Persistence(fmt.Errorf("watch jobs: %w", err))
	}

	out := make(chan *types.Job, 16)
	go func() {
		defer close(out)
		defer func() { _ = w.Stop() }()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					return
				}
				// nil marks the end of the initial values
				if entry == nil {
					continue
				}

				var j types.Job
				if err := json.Unmarshal(entry.Value(), &j); err != nil {
					continue
				}

				select {
				case out <- &j:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
