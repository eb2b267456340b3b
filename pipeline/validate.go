package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dshills/tripflow-go/pipeline/model"
)

// factCheckTimeout bounds one external fact-check call.
const factCheckTimeout = 20 * time.Second

// FactChecker verifies a candidate against external sources. Implementations
// return the validation verdict or an error; the stage maps errors onto an
// unverified verdict rather than failing.
type FactChecker interface {
	Check(ctx context.Context, candidate Candidate) (Validation, error)
}

// ValidateStats summarizes a validation pass.
type ValidateStats struct {
	Eligible          int  `json:"eligible"`
	Attempted         int  `json:"attempted"`
	Verified          int  `json:"verified"`
	PartiallyVerified int  `json:"partiallyVerified"`
	Conflicts         int  `json:"conflicts"`
	Unverified        int  `json:"unverified"`
	Skipped           bool `json:"skipped,omitempty"`
}

// ValidateOutput is the stage-7 payload.
type ValidateOutput struct {
	Candidates []Candidate   `json:"candidates"`
	Stats      ValidateStats `json:"stats"`
}

// ValidateStage (stage 7) fact-checks the least-trusted high-ranking
// candidates: video-origin candidates and web candidates backed by a single
// source. Validation failures never fail the stage; the candidate is marked
// unverified and the run continues.
type ValidateStage struct {
	Checker FactChecker

	// Retry wraps each fact-check call; zero value means the standard policy.
	Retry RetryPolicy
}

// NewValidateStage creates a validate stage with the standard retry policy.
func NewValidateStage(checker FactChecker) *ValidateStage {
	return &ValidateStage{Checker: checker, Retry: DefaultRetryPolicy()}
}

func (s *ValidateStage) Number() int  { return StageCandidatesValidated }
func (s *ValidateStage) Name() string { return StageName(StageCandidatesValidated) }

// Execute validates the ranked candidates. Nil input yields an empty but
// schema-valid payload; a missing checker or the skipValidation flag makes
// the stage a pass-through.
func (s *ValidateStage) Execute(ctx context.Context, ec *ExecContext, input json.RawMessage) (any, error) {
	out := ValidateOutput{Candidates: []Candidate{}}
	if input == nil {
		return out, nil
	}

	var ranked RankOutput
	if err := json.Unmarshal(input, &ranked); err != nil {
		return nil, &PipelineError{
			Code:    "VALIDATE_DECODE",
			Kind:    KindInputValidation,
			StageID: StageIDOf(StageCandidatesValidated),
			Message: "ranked payload malformed",
			Cause:   err,
		}
	}
	out.Candidates = ranked.Candidates

	if ec.Options.Flags.SkipValidation || s.Checker == nil {
		out.Stats.Skipped = true
		return out, nil
	}

	limit := ec.Options.EffectiveLimits().MaxValidations
	targets := validationTargets(out.Candidates, limit)
	out.Stats.Eligible = len(targets)

	policy := s.Retry
	if policy.MaxRetries == 0 && policy.BaseDelay == 0 {
		policy = DefaultRetryPolicy()
	}

	for _, i := range targets {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		verdict, err := s.checkOne(ctx, policy, out.Candidates[i])
		out.Stats.Attempted++
		if err != nil {
			verdict = Validation{
				Status: ValidationUnverified,
				Notes:  fmt.Sprintf("fact check failed: %v", err),
			}
			ec.emitStage(StageCandidatesValidated, "fact_check_failed", map[string]interface{}{
				"candidateId": out.Candidates[i].CandidateID,
				"error":       err.Error(),
			})
		}
		out.Candidates[i].Validation = &verdict
		if verdict.Status == ValidationVerified {
			out.Candidates[i].Confidence = ConfidenceVerified
		}

		switch verdict.Status {
		case ValidationVerified:
			out.Stats.Verified++
		case ValidationPartiallyVerified:
			out.Stats.PartiallyVerified++
		case ValidationConflictDetected:
			out.Stats.Conflicts++
		default:
			out.Stats.Unverified++
		}
	}
	return out, nil
}

// checkOne runs a single fact check under the per-call timeout and retry
// policy.
func (s *ValidateStage) checkOne(ctx context.Context, policy RetryPolicy, candidate Candidate) (Validation, error) {
	var verdict Validation
	err := Retry(ctx, policy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, factCheckTimeout)
		defer cancel()
		var err error
		verdict, err = s.Checker.Check(callCtx, candidate)
		return err
	})
	return verdict, err
}

// validationTargets returns the indexes of the top-K candidates, by score,
// whose provenance warrants a fact check: video-origin candidates and web
// candidates with a single source.
func validationTargets(candidates []Candidate, limit int) []int {
	var eligible []int
	for i, c := range candidates {
		if needsValidation(c) {
			eligible = append(eligible, i)
		}
	}
	sort.SliceStable(eligible, func(a, b int) bool {
		ca, cb := candidates[eligible[a]], candidates[eligible[b]]
		if ca.Score != cb.Score {
			return ca.Score > cb.Score
		}
		return ca.CandidateID < cb.CandidateID
	})
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible
}

func needsValidation(c Candidate) bool {
	switch c.Origin {
	case OriginYouTube:
		return true
	case OriginWeb:
		return len(c.SourceRefs) <= 1
	default:
		return false
	}
}

// ModelFactChecker fact-checks candidates through a chat model that returns
// a JSON verdict.
type ModelFactChecker struct {
	Model model.ChatModel
	Costs *CostTracker
}

const factCheckSystemPrompt = `You are a travel fact checker. Given a travel
candidate (a place, activity or experience) and its claimed sources, judge
whether the candidate describes a real, currently operating thing. Respond
with only a JSON object: {"status": "verified" | "partially_verified" |
"conflict_detected" | "unverified", "notes": "<short reason>",
"sources": ["<url>", ...]}.`

// Check implements FactChecker.
func (f *ModelFactChecker) Check(ctx context.Context, candidate Candidate) (Validation, error) {
	if f.Model == nil {
		return Validation{}, fmt.Errorf("fact checker has no model")
	}

	out, err := f.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: factCheckSystemPrompt},
		{Role: model.RoleUser, Content: factCheckPrompt(candidate)},
	})
	if err != nil {
		return Validation{}, err
	}
	if f.Costs != nil {
		f.Costs.RecordLLMCall(out.Model, out.Usage.InputTokens, out.Usage.OutputTokens, StageIDOf(StageCandidatesValidated))
	}

	verdict, err := parseVerdict(out.Text)
	if err != nil {
		return Validation{}, err
	}
	return verdict, nil
}

func factCheckPrompt(c Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", c.Title)
	fmt.Fprintf(&b, "Type: %s\n", c.Type)
	if c.LocationText != "" {
		fmt.Fprintf(&b, "Location: %s\n", c.LocationText)
	}
	if c.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", c.Summary)
	}
	for _, ref := range c.SourceRefs {
		fmt.Fprintf(&b, "Source: %s\n", ref.URL)
	}
	return b.String()
}

// parseVerdict extracts the JSON verdict, tolerating surrounding prose.
func parseVerdict(text string) (Validation, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Validation{}, fmt.Errorf("no verdict object in response")
	}

	var verdict Validation
	if err := json.Unmarshal([]byte(text[start:end+1]), &verdict); err != nil {
		return Validation{}, fmt.Errorf("parsing verdict: %w", err)
	}
	switch verdict.Status {
	case ValidationVerified, ValidationPartiallyVerified, ValidationConflictDetected,
		ValidationUnverified, ValidationNotApplicable:
		return verdict, nil
	default:
		return Validation{}, fmt.Errorf("unknown validation status %q", verdict.Status)
	}
}
