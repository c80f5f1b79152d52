// Package jobline provides an event-driven job pipeline on NATS JetStream.
//
// Work requests arrive on a stream subject, become durably tracked jobs and
// run under a bounded number of concurrent jobs per owner. Failures are
// retried with delayed redelivery up to a delivery threshold, poison
// messages are routed to a dead-letter subject, and the streams and
// consumers the pipeline depends on are provisioned idempotently.
//
// # Quick Start
//
//	import "github.com/arloliu/jobline"
//
//	cfg := jobline.DefaultConfig()
//	cfg.Topology.ReconcileOnStart = true
//
//	gen := jobline.GeneratorFunc(func(ctx context.Context, req jobline.GenerateRequest) ([]byte, error) {
//	    return render(ctx, req.Payload)
//	})
//
//	p, err := jobline.NewPipeline(ctx, cfg, natsConn, gen)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := p.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Stop(context.Background())
//
// Requests are JSON documents published on the request subject:
//
//	{"job_id": "r-1", "owner": "alice", "kind": "report", "payload": {...}}
//
// # Key Features
//
//   - Per-owner FIFO concurrency gate with runtime-adjustable limits
//   - Monotonic job lifecycle with exactly one terminal event per job
//   - Idempotent redelivery keyed by job id, with recovery of interrupted jobs
//   - Ack, delayed nak or dead-letter decision for every message
//   - Create, update-in-place or no-op topology reconciliation with dry run
//   - Job stores for memory, PostgreSQL and JetStream KV
//   - Event buses for NATS, JetStream and Redis with JSON or msgpack payloads
//
// # Architecture
//
// Each message flows through:
//
//	durable consumer → decoder → orchestrator → gate(owner) → generator
//	                                          ↘ job store, event bus
//
// The subpackages can be used on their own: gate, dlq, subscription,
// topology, orchestrator, store/... and eventbus.
package jobline
