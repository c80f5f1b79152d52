package jobline

import "github.com/arloliu/jobline/types"

// Re-export types from the types package.
//
// Subpackages depend on types rather than on the root package, which keeps
// the import graph acyclic while users can still write jobline.Job or
// jobline.Logger.
type (
	Job             = types.Job
	Status          = types.Status
	JobEvent        = types.JobEvent
	EventType       = types.EventType
	GenerateRequest = types.GenerateRequest
)

// Re-export interfaces from the types package for convenience.
type (
	JobStore         = types.JobStore
	Generator        = types.Generator
	GeneratorFunc    = types.GeneratorFunc
	EventBus         = types.EventBus
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
	Hooks            = types.Hooks
)

// Re-export status and event constants.
const (
	StatusQueued    = types.StatusQueued
	StatusRunning   = types.StatusRunning
	StatusCompleted = types.StatusCompleted
	StatusFailed    = types.StatusFailed

	EventJobCompleted = types.EventJobCompleted
	EventJobFailed    = types.EventJobFailed
)
