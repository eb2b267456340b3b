// Package emit provides pluggable observability events for pipeline runs.
package emit

// Event is an observability event emitted during a pipeline run.
//
// Events cover the run lifecycle (run_start, run_complete, run_degraded),
// stage boundaries (stage_start, stage_complete, stage_error, stage_skipped)
// and worker execution inside stage 3 (worker_start, worker_complete,
// worker_skipped, worker_retry).
type Event struct {
	// RunID identifies the pipeline run that emitted this event.
	RunID string

	// Stage is the stage number (0-10). -1 for run-level events.
	Stage int

	// WorkerID identifies the worker for stage-3 events; empty otherwise.
	WorkerID string

	// Msg is the event name ("stage_complete", "worker_skipped", ...).
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "duration_ms": execution duration in milliseconds
	//   - "error": error details
	//   - "candidates": candidate count after the stage
	//   - "status": worker or stage status
	Meta map[string]interface{}
}

// Emitter receives observability events from pipeline execution.
//
// Implementations should be non-blocking, thread-safe and resilient: a slow
// or failing backend must not stall or crash the run. Emit should never
// panic.
type Emitter interface {
	Emit(event Event)
}
