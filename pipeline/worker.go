package pipeline

import (
	"context"
	"time"
)

// Well-known worker identifiers. The normalizer dispatches per-origin mapping
// by worker ID, so custom workers should reuse these IDs when they proxy the
// same provider family.
const (
	WorkerWeb     = "web_knowledge"
	WorkerPlaces  = "places"
	WorkerYouTube = "youtube"
)

// WorkerStatus enumerates the outcome of one worker execution.
type WorkerStatus string

const (
	// WorkerOK means the worker completed all assigned queries.
	WorkerOK WorkerStatus = "ok"

	// WorkerPartial means some queries failed but candidates were produced.
	WorkerPartial WorkerStatus = "partial"

	// WorkerError means the worker failed entirely (including timeout).
	WorkerError WorkerStatus = "error"

	// WorkerSkipped means the worker was not executed, e.g. its provider's
	// circuit breaker was open.
	WorkerSkipped WorkerStatus = "skipped"
)

// WorkerAssignment is one entry of a WorkerPlan: the queries a single worker
// should run, its result budget and its wall-clock budget. The timeout is
// stored as integer milliseconds so the checkpoint stays readable.
type WorkerAssignment struct {
	WorkerID   string   `json:"workerId"`
	Queries    []string `json:"queries"`
	MaxResults int      `json:"maxResults"`
	TimeoutMs  int64    `json:"timeoutMs"`
}

// Timeout returns the assignment's wall-clock budget as a duration.
func (a WorkerAssignment) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// WorkerPlan lists per-worker assignments for the stage-3 fan-out, produced
// by the router (stage 2). The enriched intent travels with the plan so the
// fan-out stage is self-contained when resumed from its checkpoint.
type WorkerPlan struct {
	Assignments []WorkerAssignment `json:"assignments"`
	Intent      EnrichedIntent     `json:"intent"`
}

// WorkerOutput is the uniform result envelope every worker execution yields.
// The pool guarantees exactly one WorkerOutput per assignment, in assignment
// order, regardless of completion order or failures.
type WorkerOutput struct {
	WorkerID   string       `json:"workerId"`
	Status     WorkerStatus `json:"status"`
	Candidates []Candidate  `json:"candidates"`
	DurationMs int64        `json:"durationMs"`
	Error      string       `json:"error,omitempty"`
}

// Worker adapts one external provider to the pipeline. Implementations run
// their own retry policy internally (the pool does not retry) and must
// deduplicate results by any stable provider identifier across their own
// query fan-out before returning.
//
// Execute should honor ctx cancellation promptly: the pool binds ctx to the
// assignment timeout and treats expiry as a worker error.
//
// Returning ErrPartialResults (wrapped) together with a non-empty candidate
// slice marks the output as partial rather than failed.
type Worker interface {
	// ID returns the stable worker identifier used for breaker state,
	// normalizer dispatch and output attribution.
	ID() string

	// Execute runs the assignment and returns raw candidates. Raw means:
	// title, summary, location, tags, sourceRefs and metadata populated;
	// candidate IDs, confidence and origin are assigned by the normalizer.
	Execute(ctx context.Context, assignment WorkerAssignment, intent EnrichedIntent) ([]Candidate, error)
}
