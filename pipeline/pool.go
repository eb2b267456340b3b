package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/tripflow-go/pipeline/emit"
)

// workerOutputsDir is the per-run directory holding individual worker
// output files next to the stage-3 checkpoint.
const workerOutputsDir = "worker_outputs"

// WorkerPool executes a WorkerPlan's assignments concurrently under a FIFO
// concurrency limiter, with a per-worker timeout and per-provider circuit
// breaking.
//
// Guarantees:
//   - Exactly one WorkerOutput per assignment; the pool never returns an
//     error and never panics out of a worker.
//   - Output order matches assignment order regardless of completion order.
//   - A worker never holds a concurrency slot while queued.
//   - A failed or slow worker cannot prevent other workers from completing.
type WorkerPool struct {
	limiter  *Limiter
	breakers *BreakerRegistry
	emitter  emit.Emitter
	metrics  *PipelineMetrics
}

// NewWorkerPool creates a pool with the given concurrency cap (<=0 means
// DefaultWorkerConcurrency). breakers may be nil to disable circuit
// breaking; emitter and metrics may be nil.
func NewWorkerPool(concurrency int, breakers *BreakerRegistry, emitter emit.Emitter, metrics *PipelineMetrics) *WorkerPool {
	if concurrency <= 0 {
		concurrency = DefaultWorkerConcurrency
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &WorkerPool{
		limiter:  NewLimiter(concurrency),
		breakers: breakers,
		emitter:  emitter,
		metrics:  metrics,
	}
}

// Execute runs all assignments of the plan against the registered workers
// and returns one WorkerOutput per assignment, in assignment order.
func (p *WorkerPool) Execute(ctx context.Context, runID string, plan WorkerPlan, workers map[string]Worker, intent EnrichedIntent) []WorkerOutput {
	outputs := make([]WorkerOutput, len(plan.Assignments))

	var g errgroup.Group
	for i, assignment := range plan.Assignments {
		g.Go(func() error {
			outputs[i] = p.runOne(ctx, runID, assignment, workers[assignment.WorkerID], intent)
			return nil
		})
	}
	// Workers never surface errors through the group; every failure is
	// captured in its WorkerOutput.
	_ = g.Wait()

	for _, out := range outputs {
		if p.metrics != nil {
			p.metrics.ObserveWorker(out.WorkerID, string(out.Status))
		}
	}
	return outputs
}

// runOne executes a single assignment, producing exactly one WorkerOutput.
func (p *WorkerPool) runOne(ctx context.Context, runID string, assignment WorkerAssignment, worker Worker, intent EnrichedIntent) (out WorkerOutput) {
	start := time.Now()
	out = WorkerOutput{WorkerID: assignment.WorkerID, Candidates: []Candidate{}}

	defer func() {
		// A panicking worker degrades to an error output; the pool's
		// one-output-per-assignment contract holds on every path.
		if r := recover(); r != nil {
			out.Status = WorkerError
			out.Error = fmt.Sprintf("worker panic: %v", r)
			out.DurationMs = time.Since(start).Milliseconds()
			if p.breakers != nil {
				p.breakers.RecordFailure(assignment.WorkerID)
			}
		}
	}()

	if worker == nil {
		out.Status = WorkerError
		out.Error = "no worker registered for " + assignment.WorkerID
		out.DurationMs = time.Since(start).Milliseconds()
		return out
	}

	// Consult the breaker before queueing: an open circuit is a skip, not a
	// failure, and does not count against rate limits or breaker state.
	if p.breakers != nil && p.breakers.IsOpen(assignment.WorkerID) {
		out.Status = WorkerSkipped
		out.Error = "circuit breaker open"
		out.DurationMs = time.Since(start).Milliseconds()
		p.emitter.Emit(emit.Event{
			RunID: runID, Stage: StageWorkerOutputs, WorkerID: assignment.WorkerID,
			Msg: "worker_skipped", Meta: map[string]interface{}{"reason": "circuit breaker open"},
		})
		return out
	}

	p.emitter.Emit(emit.Event{RunID: runID, Stage: StageWorkerOutputs, WorkerID: assignment.WorkerID, Msg: "worker_start"})

	var candidates []Candidate
	runErr := p.limiter.Run(ctx, func(ctx context.Context) error {
		timeout := assignment.Timeout()
		if timeout <= 0 {
			timeout = DefaultWorkerTimeout
		}
		tctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var err error
		candidates, err = worker.Execute(tctx, assignment, intent)
		if err != nil && tctx.Err() == context.DeadlineExceeded {
			return &PipelineError{
				Code:    "WORKER_TIMEOUT",
				Kind:    KindExternalTransient,
				Message: fmt.Sprintf("timed out after %dms", timeout.Milliseconds()),
				Cause:   context.DeadlineExceeded,
			}
		}
		return err
	})

	out.DurationMs = time.Since(start).Milliseconds()
	if candidates != nil {
		out.Candidates = candidates
	}

	switch {
	case runErr == nil:
		out.Status = WorkerOK
		if p.breakers != nil {
			p.breakers.RecordSuccess(assignment.WorkerID)
		}
	case errors.Is(runErr, ErrPartialResults) && len(out.Candidates) > 0:
		out.Status = WorkerPartial
		out.Error = runErr.Error()
		if p.breakers != nil {
			p.breakers.RecordSuccess(assignment.WorkerID)
		}
	default:
		out.Status = WorkerError
		out.Error = runErr.Error()
		out.Candidates = []Candidate{}
		if p.breakers != nil {
			p.breakers.RecordFailure(assignment.WorkerID)
		}
	}

	p.emitter.Emit(emit.Event{
		RunID: runID, Stage: StageWorkerOutputs, WorkerID: assignment.WorkerID,
		Msg: "worker_complete",
		Meta: map[string]interface{}{
			"status":      string(out.Status),
			"duration_ms": out.DurationMs,
			"candidates":  len(out.Candidates),
		},
	})
	return out
}

// PersistOutputs writes each WorkerOutput as an individual JSON file under
// the run's worker_outputs/ directory.
func PersistOutputs(store *CheckpointStore, sessionID, runID string, outputs []WorkerOutput) error {
	for _, out := range outputs {
		rel := filepath.Join(workerOutputsDir, out.WorkerID+".json")
		if _, err := store.WriteSidecar(sessionID, runID, rel, out); err != nil {
			return err
		}
	}
	return nil
}
