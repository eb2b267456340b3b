package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/tripflow-go/pipeline/model"
)

// narrativeTimeout bounds one narrative generation call.
const narrativeTimeout = 20 * time.Second

// DegradedError carries a schema-valid degraded payload alongside the
// failure that produced it. Under continue-on-error the executor checkpoints
// the payload and records the failure instead of aborting; in strict mode
// the failure is fatal as usual.
type DegradedError struct {
	Payload any
	Err     error
}

func (e *DegradedError) Error() string { return e.Err.Error() }
func (e *DegradedError) Unwrap() error { return e.Err }

// Narrative is the generated editorial layer over the final candidates.
// Every candidate reference is by ID into the same payload's candidate list.
type Narrative struct {
	Introduction    string           `json:"introduction"`
	Sections        []Section        `json:"sections"`
	Highlights      []Highlight      `json:"highlights,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Conclusion      string           `json:"conclusion,omitempty"`
}

// Section groups related candidates under a themed heading.
type Section struct {
	Heading      string   `json:"heading"`
	Content      string   `json:"content"`
	CandidateIDs []string `json:"candidateIds,omitempty"`
}

// Highlight calls out one standout item.
type Highlight struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	CandidateID string `json:"candidateId,omitempty"`
	Type        string `json:"type,omitempty"`
}

// Recommendation is a prioritized suggestion tied to candidates.
type Recommendation struct {
	Text         string   `json:"text"`
	Reasoning    string   `json:"reasoning,omitempty"`
	CandidateIDs []string `json:"candidateIds,omitempty"`
	Priority     int      `json:"priority,omitempty"`
}

// NarrativeGenerator produces the editorial narrative for a candidate set.
type NarrativeGenerator interface {
	Generate(ctx context.Context, intent EnrichedIntent, candidates []Candidate) (*Narrative, error)
}

// AggregateStats summarizes an aggregation pass.
type AggregateStats struct {
	CandidateCount     int  `json:"candidateCount"`
	NarrativeGenerated bool `json:"narrativeGenerated"`
}

// AggregateOutput is the stage-9 payload. Narrative is null when generation
// was skipped or failed; the candidate list is always present.
type AggregateOutput struct {
	Candidates []Candidate    `json:"candidates"`
	Narrative  *Narrative     `json:"narrative"`
	Stats      AggregateStats `json:"stats"`
}

// AggregateStage (stage 9) attaches a generated narrative to the selected
// candidates. Narrative failure degrades the payload (narrative null) rather
// than losing the candidates.
type AggregateStage struct {
	Generator NarrativeGenerator

	// Retry wraps the generation call; zero value means the standard policy.
	Retry RetryPolicy
}

// NewAggregateStage creates an aggregate stage with the standard retry
// policy.
func NewAggregateStage(generator NarrativeGenerator) *AggregateStage {
	return &AggregateStage{Generator: generator, Retry: DefaultRetryPolicy()}
}

func (s *AggregateStage) Number() int  { return StageAggregatorOutput }
func (s *AggregateStage) Name() string { return StageName(StageAggregatorOutput) }

// Execute aggregates the top candidates. Nil input yields an empty payload;
// a missing generator yields the candidates without a narrative.
func (s *AggregateStage) Execute(ctx context.Context, ec *ExecContext, input json.RawMessage) (any, error) {
	out := AggregateOutput{Candidates: []Candidate{}}
	if input == nil {
		return out, nil
	}

	if err := json.Unmarshal(input, &out.Candidates); err != nil {
		return nil, &PipelineError{
			Code:    "AGGREGATE_DECODE",
			Kind:    KindInputValidation,
			StageID: StageIDOf(StageAggregatorOutput),
			Message: "top candidates payload malformed",
			Cause:   err,
		}
	}
	out.Stats.CandidateCount = len(out.Candidates)

	if s.Generator == nil || len(out.Candidates) == 0 {
		return out, nil
	}

	var intent EnrichedIntent
	if ec.Intent != nil {
		intent = *ec.Intent
	}

	policy := s.Retry
	if policy.MaxRetries == 0 && policy.BaseDelay == 0 {
		policy = DefaultRetryPolicy()
	}

	var narrative *Narrative
	err := Retry(ctx, policy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, narrativeTimeout)
		defer cancel()
		var err error
		narrative, err = s.Generator.Generate(callCtx, intent, out.Candidates)
		return err
	})
	if err != nil {
		ec.emitStage(StageAggregatorOutput, "narrative_failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, &DegradedError{
			Payload: out,
			Err: &PipelineError{
				Code:    "NARRATIVE_FAILED",
				Kind:    KindStageFailure,
				StageID: StageIDOf(StageAggregatorOutput),
				Message: "narrative generation failed after retries",
				Cause:   err,
			},
		}
	}

	out.Narrative = narrative
	out.Stats.NarrativeGenerated = narrative != nil
	return out, nil
}

// ModelNarrativeGenerator generates narratives through a chat model that
// returns a JSON narrative object.
type ModelNarrativeGenerator struct {
	Model model.ChatModel
	Costs *CostTracker
}

const narrativeSystemPrompt = `You are a travel editor. Given a trip intent
and a ranked list of discovered candidates, write an editorial narrative.
Respond with only a JSON object of the shape {"introduction": string,
"sections": [{"heading": string, "content": string, "candidateIds":
[string]}], "highlights": [{"title": string, "description": string,
"candidateId": string, "type": string}], "recommendations": [{"text":
string, "reasoning": string, "candidateIds": [string], "priority": int}],
"conclusion": string}. Reference candidates only by the IDs given.`

// Generate implements NarrativeGenerator.
func (g *ModelNarrativeGenerator) Generate(ctx context.Context, intent EnrichedIntent, candidates []Candidate) (*Narrative, error) {
	if g.Model == nil {
		return nil, fmt.Errorf("narrative generator has no model")
	}

	out, err := g.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: narrativeSystemPrompt},
		{Role: model.RoleUser, Content: narrativePrompt(intent, candidates)},
	})
	if err != nil {
		return nil, err
	}
	if g.Costs != nil {
		g.Costs.RecordLLMCall(out.Model, out.Usage.InputTokens, out.Usage.OutputTokens, StageIDOf(StageAggregatorOutput))
	}
	return parseNarrative(out.Text)
}

func narrativePrompt(intent EnrichedIntent, candidates []Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trip: %s\n", intent.Title)
	fmt.Fprintf(&b, "Destinations: %s\n", strings.Join(intent.Destinations, ", "))
	if interests := intent.AllInterests(); len(interests) > 0 {
		fmt.Fprintf(&b, "Interests: %s\n", strings.Join(interests, ", "))
	}
	fmt.Fprintf(&b, "Dates: %s to %s\n\nCandidates:\n", intent.DateRange.Start, intent.DateRange.End)
	for _, c := range candidates {
		fmt.Fprintf(&b, "- [%s] %s (%s", c.CandidateID, c.Title, c.Type)
		if c.LocationText != "" {
			fmt.Fprintf(&b, ", %s", c.LocationText)
		}
		fmt.Fprintf(&b, ", score %.0f)", c.Score)
		if c.Summary != "" {
			fmt.Fprintf(&b, ": %s", c.Summary)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// parseNarrative extracts the JSON narrative, tolerating surrounding prose.
func parseNarrative(text string) (*Narrative, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no narrative object in response")
	}
	var narrative Narrative
	if err := json.Unmarshal([]byte(text[start:end+1]), &narrative); err != nil {
		return nil, fmt.Errorf("parsing narrative: %w", err)
	}
	return &narrative, nil
}
