// Package types provides the shared type definitions and interfaces of jobline.
//
// Types live here rather than in the root package so that gate, subscription,
// orchestrator, topology and the store/eventbus implementations can share them
// without import cycles. The root jobline package re-exports the commonly used
// names.
//
// Key types:
//   - Job, Status: durable job record and its monotonic lifecycle
//   - JobEvent: terminal job notification published on the event bus
//   - JobStore, EventBus, Generator: collaborators injected into the orchestrator
//   - Logger: structured logging interface
//   - MetricsCollector: metrics recording interface
//   - Hooks: optional lifecycle callbacks
package types
