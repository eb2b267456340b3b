package pipeline

import (
	"context"
	"encoding/json"
)

// FanoutStage (stage 3) executes the router's WorkerPlan through the worker
// pool and persists each output as an individual file under worker_outputs/
// before the collected slice becomes the stage checkpoint.
type FanoutStage struct {
	// Concurrency caps parallel workers; <=0 means DefaultWorkerConcurrency.
	Concurrency int
}

func (s *FanoutStage) Number() int  { return StageWorkerOutputs }
func (s *FanoutStage) Name() string { return StageName(StageWorkerOutputs) }

// Execute runs the fan-out. Nil input (degraded upstream) yields an empty
// output slice rather than an error.
func (s *FanoutStage) Execute(ctx context.Context, ec *ExecContext, input json.RawMessage) (any, error) {
	if input == nil {
		return []WorkerOutput{}, nil
	}

	var plan WorkerPlan
	if err := json.Unmarshal(input, &plan); err != nil {
		return nil, &PipelineError{
			Code:    "FANOUT_DECODE",
			Kind:    KindInputValidation,
			StageID: StageIDOf(StageWorkerOutputs),
			Message: "router plan malformed",
			Cause:   err,
		}
	}
	if len(plan.Assignments) == 0 {
		return []WorkerOutput{}, nil
	}

	pool := NewWorkerPool(s.Concurrency, ec.Breakers, ec.Emitter, ec.Metrics)
	outputs := pool.Execute(ctx, ec.RunID, plan, ec.Workers, plan.Intent)

	if err := PersistOutputs(ec.Checkpoints, ec.SessionID, ec.RunID, outputs); err != nil {
		return nil, err
	}
	return outputs, nil
}
