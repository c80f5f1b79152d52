// Package gate provides a per-key concurrency gate with FIFO admission.
//
// A Gate bounds how many tasks run at once for a given key (typically the job
// owner). Tasks over the limit wait in a first-in-first-out queue for that key
// and are admitted as running tasks finish. Keys are created lazily on first
// use and live until Reset.
//
// The gate never rejects work: the queue is unbounded and callers that need
// backpressure inspect Status. Coordination is limited to one process.
//
// Example:
//
//	g := gate.New(gate.WithDefaultMaxConcurrency(2))
//	err := g.Execute(ctx, job.Owner, func(ctx context.Context) error {
//	    return generate(ctx, job)
//	})
package gate
