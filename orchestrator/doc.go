// Package orchestrator drives the job lifecycle.
//
// For each request the Orchestrator persists a queued job, waits for a gate
// slot keyed by the job owner, marks the job running, calls the external
// generator under a timeout and persists the outcome. Every job reaches
// completed or failed exactly once, and exactly one terminal event is
// published after the terminal status is stored.
//
// Redelivered requests are idempotent by job id: a terminal job is returned
// as is, a job still in flight in this process is acknowledged as a
// duplicate, and a job left running by a previous process is failed as
// interrupted.
package orchestrator
