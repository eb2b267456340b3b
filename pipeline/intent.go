package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/tripflow-go/pipeline/model"
)

// enhancementTimeout bounds the optional stage-0 model call.
const enhancementTimeout = 20 * time.Second

// EnhancementOutput is the stage-0 payload: the session passed through,
// with any model-inferred tags attached.
type EnhancementOutput struct {
	Session      Session  `json:"session"`
	InferredTags []string `json:"inferredTags"`

	// Enhanced is false when the model pass was skipped or failed; the
	// session then flows through unchanged.
	Enhanced bool `json:"enhanced"`
}

// EnhancementStage (stage 0) optionally sharpens the session's intent with
// a chat model, turning the title, interests and attachment notes into
// inferred tags. The stage is best-effort: no model, a skip flag or a model
// failure all degrade to a pass-through, never a run failure.
type EnhancementStage struct {
	Model model.ChatModel
}

func (s *EnhancementStage) Number() int  { return StageEnhancement }
func (s *EnhancementStage) Name() string { return StageName(StageEnhancement) }

// Execute decodes the seeded session and runs the optional model pass.
func (s *EnhancementStage) Execute(ctx context.Context, ec *ExecContext, input json.RawMessage) (any, error) {
	var session Session
	if input != nil {
		if err := json.Unmarshal(input, &session); err != nil {
			return nil, &PipelineError{
				Code:    "ENHANCEMENT_INPUT",
				Kind:    KindInputValidation,
				StageID: StageIDOf(StageEnhancement),
				Message: "seed payload is not a session",
				Cause:   err,
			}
		}
	} else {
		session = ec.Session
	}

	out := EnhancementOutput{Session: session, InferredTags: []string{}}
	if ec.Options.Flags.SkipEnhancement || s.Model == nil {
		return out, nil
	}

	tctx, cancel := context.WithTimeout(ctx, enhancementTimeout)
	defer cancel()

	reply, err := s.Model.Chat(tctx, enhancementMessages(session))
	if err != nil {
		// Enhancement is advisory; log and pass the session through.
		ec.emitStage(StageEnhancement, "enhancement_degraded", map[string]interface{}{"error": err.Error()})
		return out, nil
	}
	if ec.Costs != nil {
		ec.Costs.RecordLLMCall(reply.Model, reply.Usage.InputTokens, reply.Usage.OutputTokens, StageIDOf(StageEnhancement))
	}

	out.InferredTags = parseTagList(reply.Text, session.Interests)
	out.Enhanced = true
	return out, nil
}

// enhancementMessages builds the tag-inference conversation.
func enhancementMessages(session Session) []model.Message {
	var sb strings.Builder
	sb.WriteString("Trip title: ")
	sb.WriteString(session.Title)
	sb.WriteString("\nDestinations: ")
	sb.WriteString(strings.Join(session.Destinations, ", "))
	if len(session.Interests) > 0 {
		sb.WriteString("\nStated interests: ")
		sb.WriteString(strings.Join(session.Interests, ", "))
	}
	for _, att := range session.Attachments {
		if att.Note != "" {
			sb.WriteString("\nNote: ")
			sb.WriteString(att.Note)
		}
	}
	sb.WriteString("\n\nReturn a JSON array of up to 8 short lowercase interest tags ")
	sb.WriteString("implied by this trip that are not already stated. ")
	sb.WriteString(`Example: ["street food","night markets"]. Return ONLY the JSON array.`)

	return []model.Message{
		{Role: model.RoleSystem, Content: "You extract travel interest tags from trip descriptions."},
		{Role: model.RoleUser, Content: sb.String()},
	}
}

// parseTagList extracts tags from a model reply: JSON array first, falling
// back to comma/newline splitting. Tags duplicating stated interests are
// dropped.
func parseTagList(text string, stated []string) []string {
	var tags []string
	trimmed := strings.TrimSpace(text)

	if start, end := strings.Index(trimmed, "["), strings.LastIndex(trimmed, "]"); start >= 0 && end > start {
		_ = json.Unmarshal([]byte(trimmed[start:end+1]), &tags)
	}
	if tags == nil {
		for _, part := range strings.FieldsFunc(trimmed, func(r rune) bool { return r == ',' || r == '\n' }) {
			tags = append(tags, part)
		}
	}

	seen := make(map[string]bool, len(stated))
	for _, s := range stated {
		seen[strings.ToLower(strings.TrimSpace(s))] = true
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// IntakeStage (stage 1) validates the session and produces the
// EnrichedIntent every downstream stage consumes. A malformed session is an
// input-validation failure and fatal to the run.
type IntakeStage struct{}

func (s *IntakeStage) Number() int  { return StageIntake }
func (s *IntakeStage) Name() string { return StageName(StageIntake) }

// Execute validates and projects the session.
func (s *IntakeStage) Execute(ctx context.Context, ec *ExecContext, input json.RawMessage) (any, error) {
	if input == nil {
		return nil, &PipelineError{
			Code:    "INTAKE_NO_INPUT",
			Kind:    KindInputValidation,
			StageID: StageIDOf(StageIntake),
			Message: "intake requires the enhancement payload; a run cannot degrade past intake",
		}
	}

	var enhanced EnhancementOutput
	if err := json.Unmarshal(input, &enhanced); err != nil {
		return nil, &PipelineError{
			Code:    "INTAKE_DECODE",
			Kind:    KindInputValidation,
			StageID: StageIDOf(StageIntake),
			Message: "enhancement payload malformed",
			Cause:   err,
		}
	}

	if err := validateSession(enhanced.Session); err != nil {
		return nil, err
	}

	intent := EnrichedIntent{Session: enhanced.Session, InferredTags: enhanced.InferredTags}
	if intent.InferredTags == nil {
		intent.InferredTags = []string{}
	}
	return intent, nil
}

// validateSession enforces the intake contract: at least one destination, a
// parseable date range, a known flexibility type.
func validateSession(session Session) error {
	fail := func(msg string) error {
		return &PipelineError{
			Code:    "INVALID_SESSION",
			Kind:    KindInputValidation,
			StageID: StageIDOf(StageIntake),
			Message: msg,
		}
	}

	if len(session.Destinations) == 0 {
		return fail("session has no destinations")
	}
	for _, d := range session.Destinations {
		if strings.TrimSpace(d) == "" {
			return fail("session has an empty destination")
		}
	}

	var start, end time.Time
	if session.DateRange.Start != "" {
		t, err := time.Parse("2006-01-02", session.DateRange.Start)
		if err != nil {
			return fail(fmt.Sprintf("dateRange.start %q is not YYYY-MM-DD", session.DateRange.Start))
		}
		start = t
	}
	if session.DateRange.End != "" {
		t, err := time.Parse("2006-01-02", session.DateRange.End)
		if err != nil {
			return fail(fmt.Sprintf("dateRange.end %q is not YYYY-MM-DD", session.DateRange.End))
		}
		end = t
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fail("dateRange.end precedes dateRange.start")
	}

	switch session.Flexibility.Type {
	case "", FlexibilityFixed, FlexibilityAnytime:
	case FlexibilityPlusMinus:
		if session.Flexibility.Days <= 0 {
			return fail("plus_minus flexibility requires days > 0")
		}
	default:
		return fail(fmt.Sprintf("unknown flexibility type %q", session.Flexibility.Type))
	}

	return nil
}

// Per-worker defaults the router applies when limits.workerTimeout is left
// at its default: video search tolerates the slower statistics follow-up.
const (
	routerYouTubeTimeout = 45 * time.Second

	// maxQueriesPerWorker caps the destination x interest expansion.
	maxQueriesPerWorker = 6
)

// RouterStage (stage 2) turns the enriched intent into the WorkerPlan the
// stage-3 fan-out executes: one assignment per enabled provider with
// queries derived from destinations and interests.
type RouterStage struct{}

func (s *RouterStage) Number() int  { return StageRouterPlan }
func (s *RouterStage) Name() string { return StageName(StageRouterPlan) }

// Execute builds the plan.
func (s *RouterStage) Execute(ctx context.Context, ec *ExecContext, input json.RawMessage) (any, error) {
	if input == nil {
		return nil, &PipelineError{
			Code:    "ROUTER_NO_INPUT",
			Kind:    KindInputValidation,
			StageID: StageIDOf(StageRouterPlan),
			Message: "router requires the intake payload; a run cannot degrade past routing",
		}
	}

	var intent EnrichedIntent
	if err := json.Unmarshal(input, &intent); err != nil {
		return nil, &PipelineError{
			Code:    "ROUTER_DECODE",
			Kind:    KindInputValidation,
			StageID: StageIDOf(StageRouterPlan),
			Message: "intake payload malformed",
			Cause:   err,
		}
	}

	limits := ec.Options.EffectiveLimits()
	baseTimeout := limits.WorkerTimeout
	youtubeTimeout := routerYouTubeTimeout
	if ec.Options.Limits.WorkerTimeout > 0 {
		// An explicit operator-set timeout applies uniformly.
		youtubeTimeout = baseTimeout
	}

	plan := WorkerPlan{Intent: intent}
	plan.Assignments = append(plan.Assignments, WorkerAssignment{
		WorkerID:   WorkerWeb,
		Queries:    buildQueries(intent, "travel guide"),
		MaxResults: limits.MaxCandidatesPerWorker,
		TimeoutMs:  baseTimeout.Milliseconds(),
	})
	plan.Assignments = append(plan.Assignments, WorkerAssignment{
		WorkerID:   WorkerPlaces,
		Queries:    buildQueries(intent, "things to do"),
		MaxResults: limits.MaxCandidatesPerWorker,
		TimeoutMs:  baseTimeout.Milliseconds(),
	})
	if !ec.Options.Flags.SkipYoutube {
		plan.Assignments = append(plan.Assignments, WorkerAssignment{
			WorkerID:   WorkerYouTube,
			Queries:    buildQueries(intent, "travel vlog"),
			MaxResults: limits.MaxCandidatesPerWorker,
			TimeoutMs:  youtubeTimeout.Milliseconds(),
		})
	}
	return plan, nil
}

// buildQueries expands destinations x interests into provider queries,
// capped at maxQueriesPerWorker. Each destination gets one generic query
// (with the suffix) before interest-specific ones.
func buildQueries(intent EnrichedIntent, suffix string) []string {
	queries := make([]string, 0, maxQueriesPerWorker)
	add := func(q string) bool {
		if len(queries) >= maxQueriesPerWorker {
			return false
		}
		queries = append(queries, q)
		return true
	}

	for _, dest := range intent.Destinations {
		if !add(dest + " " + suffix) {
			return queries
		}
	}
	for _, interest := range intent.AllInterests() {
		for _, dest := range intent.Destinations {
			if !add(interest + " in " + dest) {
				return queries
			}
		}
	}
	return queries
}
