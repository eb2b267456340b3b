package pipeline

import (
	"context"
	"encoding/json"
)

// TopNStage (stage 8) selects the final candidate set: the validated
// candidates sorted by score, truncated to the configured selection size.
// Its payload is a bare candidate slice; downstream stages need nothing
// else.
type TopNStage struct{}

func (s *TopNStage) Number() int  { return StageTopCandidates }
func (s *TopNStage) Name() string { return StageName(StageTopCandidates) }

// Execute selects the top candidates. Nil input yields an empty slice.
func (s *TopNStage) Execute(ctx context.Context, ec *ExecContext, input json.RawMessage) (any, error) {
	if input == nil {
		return []Candidate{}, nil
	}

	var validated ValidateOutput
	if err := json.Unmarshal(input, &validated); err != nil {
		return nil, &PipelineError{
			Code:    "TOPN_DECODE",
			Kind:    KindInputValidation,
			StageID: StageIDOf(StageTopCandidates),
			Message: "validated payload malformed",
			Cause:   err,
		}
	}

	selected := make([]Candidate, len(validated.Candidates))
	copy(selected, validated.Candidates)
	sortByScore(selected)

	limit := ec.Options.EffectiveLimits().MaxTopCandidates
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}

	if ec.Metrics != nil {
		ec.Metrics.SetCandidateCount(StageIDOf(StageTopCandidates), len(selected))
	}
	return selected, nil
}
