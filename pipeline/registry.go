package pipeline

import "fmt"

// Stage numbers for the fixed eleven-stage topology. Each stage's sole
// upstream is the previous stage by number; the registry still models
// general predecessor sets so the interface extends cleanly if the topology
// ever branches.
const (
	StageEnhancement          = 0
	StageIntake               = 1
	StageRouterPlan           = 2
	StageWorkerOutputs        = 3
	StageCandidatesNormalized = 4
	StageCandidatesDeduped    = 5
	StageCandidatesRanked     = 6
	StageCandidatesValidated  = 7
	StageTopCandidates        = 8
	StageAggregatorOutput     = 9
	StageResults              = 10

	// StageMax is the highest stage number.
	StageMax = StageResults
)

// stageNames maps stage numbers to their canonical file-name segment.
var stageNames = [StageMax + 1]string{
	"enhancement",
	"intake",
	"router_plan",
	"worker_outputs",
	"candidates_normalized",
	"candidates_deduped",
	"candidates_ranked",
	"candidates_validated",
	"top_candidates",
	"aggregator_output",
	"results",
}

// StageName returns the canonical name for a stage number ("router_plan").
// Panics on out-of-range input; stage numbers are compile-time constants in
// all call sites.
func StageName(n int) string {
	return stageNames[n]
}

// StageIDOf returns the canonical "NN_name" identifier for a stage number.
func StageIDOf(n int) string {
	return FormatStageID(n, stageNames[n])
}

// UpstreamStages returns the predecessor set of stage n: [0..n-1].
func UpstreamStages(n int) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// DownstreamStages returns the successor set of stage n: [n+1..10].
func DownstreamStages(n int) []int {
	if n >= StageMax {
		return nil
	}
	out := make([]int, 0, StageMax-n)
	for i := n + 1; i <= StageMax; i++ {
		out = append(out, i)
	}
	return out
}

// ResumePlan describes which stages a resumed run skips and executes, and
// which prior-run checkpoint feeds the first executed stage.
type ResumePlan struct {
	// StagesToSkip are upstream stage numbers loaded from the source run
	// instead of re-executed.
	StagesToSkip []int

	// StagesToExecute are the stages the resumed run actually runs.
	StagesToExecute []int

	// InputStage is the source-run stage whose checkpoint becomes the input
	// edge into the first executed stage; -1 when resuming from stage 0
	// (degenerate full run).
	InputStage int
}

// CreateResumePlan computes the skip/execute sets for resuming at fromStage.
// Stage-0 resume degenerates to a full run with nothing skipped.
func CreateResumePlan(fromStage int) (ResumePlan, error) {
	if fromStage < 0 || fromStage > StageMax {
		return ResumePlan{}, &PipelineError{
			Code:    "RESUME_OUT_OF_RANGE",
			Kind:    KindInputValidation,
			Message: fmt.Sprintf("fromStage %d outside 0..%d", fromStage, StageMax),
		}
	}
	plan := ResumePlan{
		StagesToSkip:    UpstreamStages(fromStage),
		StagesToExecute: make([]int, 0, StageMax-fromStage+1),
		InputStage:      fromStage - 1,
	}
	for n := fromStage; n <= StageMax; n++ {
		plan.StagesToExecute = append(plan.StagesToExecute, n)
	}
	return plan, nil
}

// ValidateStageFile checks that a prior-run checkpoint is compatible with
// the stage slot it is being loaded into: metadata parses (the caller
// already has it decoded) and the stage number matches expectations.
func ValidateStageFile(meta StageMetadata, expectedStage int) error {
	if fields := validateMetadata(&meta, []byte("{}")); len(fields) > 0 {
		return &CheckpointFieldError{Fields: fields}
	}
	if meta.StageNumber != expectedStage {
		return &PipelineError{
			Code:    "STAGE_MISMATCH",
			Kind:    KindInputValidation,
			StageID: meta.StageID,
			Message: fmt.Sprintf("checkpoint is stage %d, expected %d", meta.StageNumber, expectedStage),
			Cause:   ErrInvalidCheckpoint,
		}
	}
	return nil
}
