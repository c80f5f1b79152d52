// Package topology provisions JetStream streams and durable consumers
// idempotently.
//
// A Reconciler compares a desired topology against the state reported by a
// ControlPlane and, per stream or consumer, creates what is missing, updates
// what differs in place and leaves identical definitions alone. It never
// deletes. A dry run produces the same decisions, with field-level diffs,
// without mutating anything.
//
// Desired state is usually loaded from YAML:
//
//	streams:
//	  - name: JOBS
//	    subjects: [jobs.request, jobs.ingest]
//	    retention: limits
//	    maxAge: 168h
//	    storage: file
//	    replicas: 3
//	    consumers:
//	      - durable: jobs-worker
//	        filterSubjects: [jobs.request, jobs.ingest]
//	        ackPolicy: explicit
//	        maxDeliver: -1
//	        ackWait: 30s
//	        maxAckPending: 1000
//
// Zero fields take the server's defaults. A stream's duplicate window
// defaults to 2m, capped at its maxAge.
package topology
