// Package metrics provides types.MetricsCollector implementations.
package metrics

import "github.com/arloliu/jobline/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Components use it when no collector is injected.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	g := gate.New(gate.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// GateMetrics implementation

// RecordGateAdmission discards the admission metric.
func (n *NopMetrics) RecordGateAdmission(_ /* queued */ bool, _ /* waitSeconds */ float64) {}

// RecordGateQueueDepth discards the queue depth metric.
func (n *NopMetrics) RecordGateQueueDepth(_ /* depth */ int) {}

// ConsumerMetrics implementation

// RecordMessageDecision discards the decision metric.
func (n *NopMetrics) RecordMessageDecision(_ /* consumer */, _ /* action */, _ /* reason */ string) {}

// RecordHandlerDuration discards the handler latency metric.
func (n *NopMetrics) RecordHandlerDuration(_ /* consumer */ string, _ /* seconds */ float64) {}

// RecordFetchError discards the fetch error metric.
func (n *NopMetrics) RecordFetchError(_ /* consumer */ string) {}

// OrchestratorMetrics implementation

// RecordJobTerminal discards the terminal job metric.
func (n *NopMetrics) RecordJobTerminal(_ /* status */ types.Status, _ /* seconds */ float64) {}

// RecordEventPublishFailure discards the publish failure metric.
func (n *NopMetrics) RecordEventPublishFailure(_ /* eventType */ types.EventType) {}

// TopologyMetrics implementation

// RecordReconcileDecision discards the reconcile decision metric.
func (n *NopMetrics) RecordReconcileDecision(_ /* kind */, _ /* action */ string, _ /* dryRun */ bool) {}
