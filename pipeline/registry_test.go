package pipeline

import (
	"testing"
	"time"
)

func TestStageNames(t *testing.T) {
	tests := []struct {
		number int
		name   string
		id     string
	}{
		{StageEnhancement, "enhancement", "00_enhancement"},
		{StageIntake, "intake", "01_intake"},
		{StageRouterPlan, "router_plan", "02_router_plan"},
		{StageWorkerOutputs, "worker_outputs", "03_worker_outputs"},
		{StageCandidatesNormalized, "candidates_normalized", "04_candidates_normalized"},
		{StageCandidatesDeduped, "candidates_deduped", "05_candidates_deduped"},
		{StageCandidatesRanked, "candidates_ranked", "06_candidates_ranked"},
		{StageCandidatesValidated, "candidates_validated", "07_candidates_validated"},
		{StageTopCandidates, "top_candidates", "08_top_candidates"},
		{StageAggregatorOutput, "aggregator_output", "09_aggregator_output"},
		{StageResults, "results", "10_results"},
	}
	for _, tt := range tests {
		if got := StageName(tt.number); got != tt.name {
			t.Errorf("StageName(%d) = %s, want %s", tt.number, got, tt.name)
		}
		if got := StageIDOf(tt.number); got != tt.id {
			t.Errorf("StageIDOf(%d) = %s, want %s", tt.number, got, tt.id)
		}
	}
}

func TestUpstreamDownstream(t *testing.T) {
	if got := UpstreamStages(0); got != nil {
		t.Errorf("UpstreamStages(0) = %v, want nil", got)
	}
	if got := UpstreamStages(3); len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("UpstreamStages(3) = %v", got)
	}
	if got := DownstreamStages(StageMax); got != nil {
		t.Errorf("DownstreamStages(max) = %v, want nil", got)
	}
	if got := DownstreamStages(8); len(got) != 2 || got[0] != 9 || got[1] != 10 {
		t.Errorf("DownstreamStages(8) = %v", got)
	}
}

func TestCreateResumePlan(t *testing.T) {
	t.Run("from zero is a full run", func(t *testing.T) {
		plan, err := CreateResumePlan(0)
		if err != nil {
			t.Fatal(err)
		}
		if len(plan.StagesToSkip) != 0 {
			t.Errorf("skip = %v, want empty", plan.StagesToSkip)
		}
		if len(plan.StagesToExecute) != StageMax+1 {
			t.Errorf("execute = %v", plan.StagesToExecute)
		}
		if plan.InputStage != -1 {
			t.Errorf("input stage = %d, want -1", plan.InputStage)
		}
	})

	t.Run("from eight", func(t *testing.T) {
		plan, err := CreateResumePlan(8)
		if err != nil {
			t.Fatal(err)
		}
		if len(plan.StagesToSkip) != 8 {
			t.Errorf("skip = %v", plan.StagesToSkip)
		}
		if want := []int{8, 9, 10}; len(plan.StagesToExecute) != 3 ||
			plan.StagesToExecute[0] != want[0] || plan.StagesToExecute[2] != want[2] {
			t.Errorf("execute = %v, want %v", plan.StagesToExecute, want)
		}
		if plan.InputStage != 7 {
			t.Errorf("input stage = %d, want 7", plan.InputStage)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		if _, err := CreateResumePlan(-1); err == nil {
			t.Error("expected error for -1")
		}
		if _, err := CreateResumePlan(StageMax + 1); err == nil {
			t.Error("expected error past max")
		}
	})
}

func TestValidateStageFile(t *testing.T) {
	meta := StageMetadata{
		StageID:       "07_candidates_validated",
		StageNumber:   7,
		StageName:     "candidates_validated",
		SchemaVersion: 1,
		CreatedAt:     time.Now(),
	}
	if err := ValidateStageFile(meta, 7); err != nil {
		t.Errorf("valid file rejected: %v", err)
	}
	if err := ValidateStageFile(meta, 8); err == nil {
		t.Error("stage mismatch accepted")
	}
}
