package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and thread-safe; methods are called
// from consumer and task goroutines.
//
// The interface composes smaller, component-focused interfaces so that each
// component can accept only what it records.
type MetricsCollector interface {
	GateMetrics
	ConsumerMetrics
	OrchestratorMetrics
	TopologyMetrics
}

// GateMetrics defines metrics for the concurrency gate.
type GateMetrics interface {
	// RecordGateAdmission records a task admitted to run.
	//
	// Parameters:
	//   - queued: true if the task waited in the queue before admission
	//   - waitSeconds: time spent waiting for a slot
	RecordGateAdmission(queued bool, waitSeconds float64)

	// RecordGateQueueDepth sets the total number of waiting tasks across keys.
	RecordGateQueueDepth(depth int)
}

// ConsumerMetrics defines metrics for the durable consumer.
type ConsumerMetrics interface {
	// RecordMessageDecision records the ack decision taken for one message.
	//
	// Parameters:
	//   - consumer: durable consumer name
	//   - action: "ack", "nak" or "dlq"
	//   - reason: dead-letter reason code, empty unless action is "dlq"
	RecordMessageDecision(consumer, action, reason string)

	// RecordHandlerDuration records handler latency in seconds.
	RecordHandlerDuration(consumer string, seconds float64)

	// RecordFetchError records a failed batch fetch.
	RecordFetchError(consumer string)
}

// OrchestratorMetrics defines metrics for the job orchestrator.
type OrchestratorMetrics interface {
	// RecordJobTerminal records a job reaching a terminal status.
	RecordJobTerminal(status Status, seconds float64)

	// RecordEventPublishFailure records a terminal event that could not be published.
	RecordEventPublishFailure(eventType EventType)
}

// TopologyMetrics defines metrics for the topology reconciler.
type TopologyMetrics interface {
	// RecordReconcileDecision records one reconcile decision.
	//
	// Parameters:
	//   - kind: "stream" or "consumer"
	//   - action: "create", "update" or "noop"
	//   - dryRun: whether the run was a dry run
	RecordReconcileDecision(kind, action string, dryRun bool)
}
