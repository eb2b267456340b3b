package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dshills/tripflow-go/pipeline/emit"
	"github.com/dshills/tripflow-go/pipeline/store"
)

// Stage is one numbered step of the pipeline. Stage payloads cross the
// executor as raw JSON; each stage decodes the shape it expects.
//
// Under continue-on-error, Execute may receive nil input (the upstream stage
// failed); implementations must then emit a degraded but schema-valid
// output rather than failing.
type Stage interface {
	// Number returns the stage's position in the fixed 0-10 topology.
	Number() int

	// Name returns the canonical stage name ("router_plan").
	Name() string

	// Execute transforms the upstream payload into this stage's output.
	// The returned value becomes the checkpoint's data section.
	Execute(ctx context.Context, ec *ExecContext, input json.RawMessage) (any, error)
}

// ExecContext is the shared execution context the executor injects into
// every stage: identity, configuration, collaborators and side-effect
// collectors.
type ExecContext struct {
	SessionID string
	RunID     string
	Session   Session
	Options   RunOptions

	// Intent is the stage-1 output, populated by the executor once stage 1
	// completes (or loaded from the source run when resuming past it).
	// Stages 6+ read interests from here.
	Intent *EnrichedIntent

	Checkpoints *CheckpointStore
	Emitter     emit.Emitter
	Metrics     *PipelineMetrics
	Costs       *CostTracker

	// Workers maps worker ID to implementation for the stage-3 fan-out.
	Workers map[string]Worker

	// Breakers holds per-provider circuit state shared across runs.
	Breakers *BreakerRegistry

	// History is the optional run-history store; nil disables recording.
	History store.Store
}

// emitStage sends a stage-scoped event when an emitter is configured.
func (ec *ExecContext) emitStage(stage int, msg string, meta map[string]interface{}) {
	if ec.Emitter == nil {
		return
	}
	ec.Emitter.Emit(emit.Event{RunID: ec.RunID, Stage: stage, Msg: msg, Meta: meta})
}

// StageError is the structured record of one failed stage in a degraded run.
type StageError struct {
	StageID string    `json:"stageId"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Cause   string    `json:"cause,omitempty"`
}

// StageTiming records one executed stage's wall-clock window.
type StageTiming struct {
	StageID     string    `json:"stageId"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	DurationMs  int64     `json:"durationMs"`
}

// PipelineResult summarizes one pipeline run.
type PipelineResult struct {
	SessionID string `json:"sessionId"`
	RunID     string `json:"runId"`

	// ExecutedStages lists the stage IDs that actually ran, in order.
	ExecutedStages []string `json:"executedStages"`

	// SkippedStages lists stage IDs satisfied from the source run on resume.
	SkippedStages []string `json:"skippedStages,omitempty"`

	// DegradedStages records failures tolerated under continue-on-error.
	DegradedStages []StageError `json:"degradedStages,omitempty"`

	Timings []StageTiming `json:"timings"`

	// Manifest is the integrity record written at run end; nil for dry runs.
	Manifest *RunManifest `json:"manifest,omitempty"`

	// DryRun marks plan-only results.
	DryRun bool `json:"dryRun,omitempty"`
}

// Degraded reports whether any stage failed under continue-on-error.
func (r *PipelineResult) Degraded() bool { return len(r.DegradedStages) > 0 }
