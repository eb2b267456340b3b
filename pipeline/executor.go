package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/tripflow-go/pipeline/emit"
	"github.com/dshills/tripflow-go/pipeline/store"
)

// Executor drives one pipeline run: stages execute strictly by number, each
// output is checkpointed before the next stage sees it, and a manifest of
// executed stages is written at run end.
type Executor struct {
	checkpoints *CheckpointStore
	stages      map[int]Stage

	// Collaborators injected into every stage's ExecContext.
	Emitter  emit.Emitter
	Metrics  *PipelineMetrics
	Costs    *CostTracker
	Workers  map[string]Worker
	Breakers *BreakerRegistry
	History  store.Store
}

// NewExecutor creates an executor over a full stage set. Every stage number
// 0 through StageMax must be covered exactly once.
func NewExecutor(checkpoints *CheckpointStore, stages []Stage) (*Executor, error) {
	if checkpoints == nil {
		return nil, fmt.Errorf("executor requires a checkpoint store")
	}
	byNumber := make(map[int]Stage, len(stages))
	for _, stage := range stages {
		n := stage.Number()
		if n < 0 || n > StageMax {
			return nil, fmt.Errorf("stage %q has number %d outside 0..%d", stage.Name(), n, StageMax)
		}
		if _, dup := byNumber[n]; dup {
			return nil, fmt.Errorf("duplicate stage number %d", n)
		}
		byNumber[n] = stage
	}
	for n := 0; n <= StageMax; n++ {
		if _, ok := byNumber[n]; !ok {
			return nil, fmt.Errorf("missing stage %d (%s)", n, StageName(n))
		}
	}
	return &Executor{checkpoints: checkpoints, stages: byNumber}, nil
}

// Execute runs the pipeline for one session under the given options and
// returns the run summary. The returned error is nil for clean and degraded
// runs; it is non-nil only when the run aborted.
func (e *Executor) Execute(ctx context.Context, session Session, opts RunOptions) (*PipelineResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	plan, err := CreateResumePlan(opts.FromStage)
	if err != nil {
		return nil, err
	}

	lastStage := StageMax
	if opts.StopAfterStage >= 0 {
		lastStage = opts.StopAfterStage
	}

	runID := NewRunID()
	result := &PipelineResult{SessionID: session.SessionID, RunID: runID}
	for _, n := range plan.StagesToSkip {
		result.SkippedStages = append(result.SkippedStages, StageIDOf(n))
	}

	if opts.DryRun {
		result.DryRun = true
		for n := opts.FromStage; n <= lastStage; n++ {
			result.ExecutedStages = append(result.ExecutedStages, StageIDOf(n))
		}
		return result, nil
	}

	ec := &ExecContext{
		SessionID:   session.SessionID,
		RunID:       runID,
		Session:     session,
		Options:     opts,
		Checkpoints: e.checkpoints,
		Emitter:     e.Emitter,
		Metrics:     e.Metrics,
		Costs:       e.Costs,
		Workers:     e.Workers,
		Breakers:    e.Breakers,
		History:     e.History,
	}

	input, err := e.prepareResume(ctx, ec, plan, opts)
	if err != nil {
		return nil, err
	}

	if e.History != nil {
		if err := e.History.BeginRun(ctx, runID, session.SessionID); err != nil {
			ec.emitStage(opts.FromStage, "history_begin_failed", map[string]interface{}{"error": err.Error()})
		}
	}

	var entries []ManifestEntry
	for n := opts.FromStage; n <= lastStage; n++ {
		if err := ctx.Err(); err != nil {
			e.finishHistory(ctx, result, store.RunStatusFailed)
			return nil, err
		}

		next, entry, stageErr := e.runStage(ctx, ec, n, input, result)
		if stageErr != nil {
			e.finishHistory(ctx, result, store.RunStatusFailed)
			return nil, stageErr
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
		input = next
	}

	manifest := RunManifest{
		RunID:     runID,
		SessionID: session.SessionID,
		CreatedAt: time.Now().UTC(),
		Stages:    entries,
	}
	for _, se := range result.DegradedStages {
		manifest.DegradedStages = append(manifest.DegradedStages, se.StageID)
	}
	if _, err := e.checkpoints.WriteManifest(manifest); err != nil {
		e.finishHistory(ctx, result, store.RunStatusFailed)
		return nil, err
	}
	result.Manifest = &manifest

	status := store.RunStatusComplete
	if result.Degraded() {
		status = store.RunStatusDegraded
	}
	e.finishHistory(ctx, result, status)
	return result, nil
}

// prepareResume resolves the first executed stage's input edge: the seeded
// session for a fresh run, or the source run's upstream checkpoint when
// resuming. It also restores the enriched intent for stages past intake and
// verifies the source run's integrity when it has a manifest.
func (e *Executor) prepareResume(ctx context.Context, ec *ExecContext, plan ResumePlan, opts RunOptions) (json.RawMessage, error) {
	if opts.FromStage == 0 {
		seed, err := json.Marshal(ec.Session)
		if err != nil {
			return nil, fmt.Errorf("marshaling session seed: %w", err)
		}
		return seed, nil
	}

	manifest, err := e.checkpoints.LoadManifest(ec.SessionID, opts.SourceRunID)
	switch {
	case err == nil:
		if err := e.checkpoints.VerifyManifest(manifest); err != nil {
			return nil, err
		}
	case errors.Is(err, ErrStageFileNotFound):
		// A run aborted before manifest write can still be resumed; the
		// checkpoints themselves are validated as they load.
		ec.emitStage(opts.FromStage, "resume_without_manifest", map[string]interface{}{
			"sourceRunId": opts.SourceRunID,
		})
	default:
		return nil, err
	}

	upstream := plan.InputStage
	input, meta, err := e.checkpoints.ReadCheckpointRaw(ec.SessionID, opts.SourceRunID, upstream, StageName(upstream))
	if err != nil {
		return nil, err
	}
	if err := ValidateStageFile(meta, upstream); err != nil {
		return nil, err
	}

	if opts.FromStage > StageIntake+1 {
		intent, err := ReadCheckpointData[EnrichedIntent](e.checkpoints, ec.SessionID, opts.SourceRunID, StageIntake, StageName(StageIntake))
		if err != nil {
			return nil, &PipelineError{
				Code:    "RESUME_INTENT",
				Kind:    KindInputValidation,
				StageID: StageIDOf(StageIntake),
				Message: "cannot restore enriched intent from source run",
				Cause:   err,
			}
		}
		ec.Intent = &intent
	} else if opts.FromStage == StageIntake+1 {
		// The input edge itself is the intake payload.
		var intent EnrichedIntent
		if err := json.Unmarshal(input, &intent); err == nil {
			ec.Intent = &intent
		}
	}
	return input, nil
}

// runStage executes one stage, checkpoints its output and returns the next
// stage's input. A nil error with a nil manifest entry means the stage
// failed but the run continues degraded.
func (e *Executor) runStage(ctx context.Context, ec *ExecContext, n int, input json.RawMessage, result *PipelineResult) (json.RawMessage, *ManifestEntry, error) {
	stage := e.stages[n]
	stageID := StageIDOf(n)
	started := time.Now()

	output, err := stage.Execute(ctx, ec, input)

	elapsed := time.Since(started)
	result.Timings = append(result.Timings, StageTiming{
		StageID:     stageID,
		StartedAt:   started.UTC(),
		CompletedAt: started.Add(elapsed).UTC(),
		DurationMs:  elapsed.Milliseconds(),
	})

	if err != nil {
		var degraded *DegradedError
		switch {
		case errors.As(err, &degraded) && ec.Options.ContinueOnError:
			// The stage supplied a schema-valid degraded payload; checkpoint
			// it so downstream stages and resumes see real data.
			output = degraded.Payload
			result.DegradedStages = append(result.DegradedStages, stageErrorFrom(stageID, degraded.Err))
			e.observeStage(stageID, "degraded", elapsed)

		case ec.Options.ContinueOnError && !fatalError(err):
			result.DegradedStages = append(result.DegradedStages, stageErrorFrom(stageID, err))
			e.observeStage(stageID, "failed", elapsed)
			ec.emitStage(n, "stage_degraded", map[string]interface{}{"error": err.Error()})
			e.recordStage(ctx, ec, n, stageID, "failed", elapsed, "")
			// Downstream sees nil input and emits its own degraded output.
			return nil, nil, nil

		default:
			e.observeStage(stageID, "fatal", elapsed)
			e.recordStage(ctx, ec, n, stageID, "fatal", elapsed, "")
			return nil, nil, err
		}
	} else {
		e.observeStage(stageID, "success", elapsed)
	}

	var opts *WriteOptions
	if n > 0 {
		opts = &WriteOptions{UpstreamStage: StageIDOf(n - 1)}
	}
	res, err := e.checkpoints.WriteCheckpoint(ec.SessionID, ec.RunID, n, StageName(n), output, opts)
	if err != nil {
		return nil, nil, err
	}
	upstream := ""
	if opts != nil {
		upstream = opts.UpstreamStage
	}
	entry, err := manifestEntryFor(res, upstream)
	if err != nil {
		return nil, nil, fmt.Errorf("hashing checkpoint %s: %w", stageID, err)
	}

	result.ExecutedStages = append(result.ExecutedStages, stageID)
	status := "success"
	if len(result.DegradedStages) > 0 && result.DegradedStages[len(result.DegradedStages)-1].StageID == stageID {
		status = "degraded"
	}
	e.recordStage(ctx, ec, n, stageID, status, elapsed, entry.SHA256)

	if n == StageIntake {
		if intent, ok := output.(EnrichedIntent); ok {
			ec.Intent = &intent
		}
	}

	next, err := json.Marshal(output)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling %s output: %w", stageID, err)
	}
	return next, &entry, nil
}

// observeStage forwards a stage outcome to metrics when configured.
func (e *Executor) observeStage(stageID, outcome string, elapsed time.Duration) {
	if e.Metrics != nil {
		e.Metrics.ObserveStage(stageID, outcome, elapsed)
	}
}

// recordStage appends a run-history row; history failures never fail a run.
func (e *Executor) recordStage(ctx context.Context, ec *ExecContext, n int, stageID, status string, elapsed time.Duration, sha string) {
	if e.History == nil {
		return
	}
	err := e.History.RecordStage(ctx, store.StageRecord{
		RunID:         ec.RunID,
		Stage:         n,
		StageID:       stageID,
		Status:        status,
		DurationMs:    elapsed.Milliseconds(),
		CheckpointSHA: sha,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		ec.emitStage(n, "history_record_failed", map[string]interface{}{"error": err.Error()})
	}
}

// finishHistory closes the run-history row; failures are swallowed.
func (e *Executor) finishHistory(ctx context.Context, result *PipelineResult, status string) {
	if e.History == nil {
		return
	}
	degraded := make([]string, 0, len(result.DegradedStages))
	for _, se := range result.DegradedStages {
		degraded = append(degraded, se.StageID)
	}
	_ = e.History.FinishRun(ctx, result.RunID, status, degraded)
}

// stageErrorFrom flattens an error into the structured degraded-stage record.
func stageErrorFrom(stageID string, err error) StageError {
	se := StageError{StageID: stageID, Kind: KindStageFailure, Message: err.Error()}
	var pe *PipelineError
	if errors.As(err, &pe) {
		se.Kind = pe.Kind
		se.Message = pe.Message
		if pe.Cause != nil {
			se.Cause = pe.Cause.Error()
		}
	}
	return se
}

// fatalError reports whether an error must abort the run even under
// continue-on-error: malformed input and integrity violations poison
// everything downstream.
func fatalError(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		if pe.Kind == KindInputValidation || pe.Kind == KindIntegrity {
			return true
		}
	}
	return errors.Is(err, ErrInvalidCheckpoint) ||
		errors.Is(err, ErrIntegrity) ||
		errors.Is(err, ErrSchemaVersion)
}
