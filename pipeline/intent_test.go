package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dshills/tripflow-go/pipeline/model"
)

func TestEnhancementPassThrough(t *testing.T) {
	session := testSession()

	t.Run("nil model", func(t *testing.T) {
		ec := &ExecContext{Options: NewRunOptions()}
		out, err := runStageJSON(t, &EnhancementStage{}, ec, session)
		if err != nil {
			t.Fatal(err)
		}
		enhanced := out.(EnhancementOutput)
		if enhanced.Enhanced {
			t.Error("pass-through marked enhanced")
		}
		if enhanced.InferredTags == nil || len(enhanced.InferredTags) != 0 {
			t.Errorf("inferredTags = %v, want empty non-nil", enhanced.InferredTags)
		}
		if enhanced.Session.Title != session.Title {
			t.Errorf("session mutated: %+v", enhanced.Session)
		}
	})

	t.Run("skip flag", func(t *testing.T) {
		mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: `["izakaya"]`}}}
		opts := NewRunOptions()
		opts.Flags.SkipEnhancement = true
		ec := &ExecContext{Options: opts}

		out, err := runStageJSON(t, &EnhancementStage{Model: mock}, ec, session)
		if err != nil {
			t.Fatal(err)
		}
		if out.(EnhancementOutput).Enhanced {
			t.Error("skip flag ignored")
		}
		if mock.CallCount() != 0 {
			t.Errorf("model called %d times despite skip", mock.CallCount())
		}
	})

	t.Run("model failure", func(t *testing.T) {
		mock := &model.MockChatModel{Err: errors.New("rate limited")}
		ec := &ExecContext{Options: NewRunOptions()}

		out, err := runStageJSON(t, &EnhancementStage{Model: mock}, ec, session)
		if err != nil {
			t.Fatalf("advisory stage failed the run: %v", err)
		}
		enhanced := out.(EnhancementOutput)
		if enhanced.Enhanced || len(enhanced.InferredTags) != 0 {
			t.Errorf("degraded output = %+v", enhanced)
		}
	})
}

func TestEnhancementInfersTags(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{
		Text:  `["izakaya","night markets","ramen"]`,
		Model: "gpt-4o-mini",
		Usage: model.Usage{InputTokens: 120, OutputTokens: 18},
	}}}
	costs := NewCostTracker("run-1")
	ec := &ExecContext{Options: NewRunOptions(), Costs: costs}

	out, err := runStageJSON(t, &EnhancementStage{Model: mock}, ec, testSession())
	if err != nil {
		t.Fatal(err)
	}
	enhanced := out.(EnhancementOutput)
	if !enhanced.Enhanced {
		t.Fatal("successful model pass not marked enhanced")
	}

	// "ramen" duplicates a stated interest and must be dropped.
	want := []string{"izakaya", "night markets"}
	if !reflect.DeepEqual(enhanced.InferredTags, want) {
		t.Errorf("inferredTags = %v, want %v", enhanced.InferredTags, want)
	}

	calls := costs.Calls()
	if len(calls) != 1 || calls[0].StageID != StageIDOf(StageEnhancement) {
		t.Errorf("cost calls = %+v", calls)
	}

	if mock.CallCount() != 1 {
		t.Fatalf("model calls = %d", mock.CallCount())
	}
	prompt := mock.Calls[0][len(mock.Calls[0])-1].Content
	if !strings.Contains(prompt, "Tokyo") || !strings.Contains(prompt, "street food") {
		t.Errorf("prompt missing trip context: %q", prompt)
	}
}

func TestEnhancementNilInputUsesContextSession(t *testing.T) {
	ec := &ExecContext{Options: NewRunOptions(), Session: testSession()}
	out, err := (&EnhancementStage{}).Execute(context.Background(), ec, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.(EnhancementOutput).Session.Title; got != "Tokyo food week" {
		t.Errorf("session title = %q", got)
	}
}

func TestParseTagList(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		stated []string
		want   []string
	}{
		{"json array", `["onsen","temples"]`, nil, []string{"onsen", "temples"}},
		{"array in prose", `Here you go: ["onsen","temples"] as requested.`, nil, []string{"onsen", "temples"}},
		{"comma fallback", "onsen, temples", nil, []string{"onsen", "temples"}},
		{"newline fallback", "onsen\ntemples", nil, []string{"onsen", "temples"}},
		{"lowercased", `["Onsen","TEMPLES"]`, nil, []string{"onsen", "temples"}},
		{"stated dropped", `["onsen","Ramen"]`, []string{"ramen"}, []string{"onsen"}},
		{"internal dupes dropped", `["onsen","onsen"]`, nil, []string{"onsen"}},
		{"empty reply", "", nil, []string{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := parseTagList(tc.text, tc.stated)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("parseTagList(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestIntakeNilInput(t *testing.T) {
	_, err := (&IntakeStage{}).Execute(context.Background(), &ExecContext{Options: NewRunOptions()}, nil)
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Kind != KindInputValidation {
		t.Errorf("err = %v, want input-validation failure", err)
	}
}

func TestIntakeProducesIntent(t *testing.T) {
	ec := &ExecContext{Options: NewRunOptions()}

	out, err := runStageJSON(t, &IntakeStage{}, ec, EnhancementOutput{
		Session:      testSession(),
		InferredTags: []string{"izakaya"},
	})
	if err != nil {
		t.Fatal(err)
	}
	intent := out.(EnrichedIntent)
	if intent.SessionID != "tokyo-food-week-20251001" {
		t.Errorf("sessionId = %q", intent.SessionID)
	}
	want := []string{"street food", "ramen", "izakaya"}
	if !reflect.DeepEqual(intent.AllInterests(), want) {
		t.Errorf("allInterests = %v, want %v", intent.AllInterests(), want)
	}

	// A pass-through enhancement payload leaves inferredTags nil; intake
	// still yields a non-nil slice.
	out, err = runStageJSON(t, &IntakeStage{}, ec, EnhancementOutput{Session: testSession()})
	if err != nil {
		t.Fatal(err)
	}
	if out.(EnrichedIntent).InferredTags == nil {
		t.Error("inferredTags nil after pass-through enhancement")
	}
}

func TestValidateSession(t *testing.T) {
	valid := testSession()

	tests := []struct {
		name    string
		mutate  func(*Session)
		wantErr bool
	}{
		{"valid fixed", func(s *Session) {}, false},
		{"no destinations", func(s *Session) { s.Destinations = nil }, true},
		{"blank destination", func(s *Session) { s.Destinations = []string{"Tokyo", "  "} }, true},
		{"bad start date", func(s *Session) { s.DateRange.Start = "Oct 1, 2025" }, true},
		{"bad end date", func(s *Session) { s.DateRange.End = "2025/10/08" }, true},
		{"end before start", func(s *Session) { s.DateRange = DateRange{Start: "2025-10-08", End: "2025-10-01"} }, true},
		{"open-ended range", func(s *Session) { s.DateRange = DateRange{} }, false},
		{"anytime", func(s *Session) { s.Flexibility = Flexibility{Type: FlexibilityAnytime} }, false},
		{"plus_minus with days", func(s *Session) { s.Flexibility = Flexibility{Type: FlexibilityPlusMinus, Days: 2} }, false},
		{"plus_minus without days", func(s *Session) { s.Flexibility = Flexibility{Type: FlexibilityPlusMinus} }, true},
		{"unknown flexibility", func(s *Session) { s.Flexibility.Type = "whenever" }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			session := valid
			tc.mutate(&session)
			err := validateSession(session)
			if (err != nil) != tc.wantErr {
				t.Errorf("validateSession() err = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil {
				var pe *PipelineError
				if !errors.As(err, &pe) || pe.Kind != KindInputValidation {
					t.Errorf("err = %v, want input-validation kind", err)
				}
			}
		})
	}
}

func TestRouterNilInput(t *testing.T) {
	_, err := (&RouterStage{}).Execute(context.Background(), &ExecContext{Options: NewRunOptions()}, nil)
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Kind != KindInputValidation {
		t.Errorf("err = %v, want input-validation failure", err)
	}
}

func TestRouterPlan(t *testing.T) {
	ec := &ExecContext{Options: NewRunOptions()}
	intent := EnrichedIntent{Session: testSession(), InferredTags: []string{}}

	out, err := runStageJSON(t, &RouterStage{}, ec, intent)
	if err != nil {
		t.Fatal(err)
	}
	plan := out.(WorkerPlan)
	if len(plan.Assignments) != 3 {
		t.Fatalf("assignments = %d, want 3", len(plan.Assignments))
	}

	byWorker := make(map[string]WorkerAssignment, 3)
	for _, a := range plan.Assignments {
		byWorker[a.WorkerID] = a
	}

	wantQueries := map[string][]string{
		WorkerWeb:     {"Tokyo travel guide", "street food in Tokyo", "ramen in Tokyo"},
		WorkerPlaces:  {"Tokyo things to do", "street food in Tokyo", "ramen in Tokyo"},
		WorkerYouTube: {"Tokyo travel vlog", "street food in Tokyo", "ramen in Tokyo"},
	}
	for workerID, want := range wantQueries {
		got, ok := byWorker[workerID]
		if !ok {
			t.Fatalf("no assignment for %s", workerID)
		}
		if !reflect.DeepEqual(got.Queries, want) {
			t.Errorf("%s queries = %v, want %v", workerID, got.Queries, want)
		}
		if got.MaxResults != DefaultMaxCandidatesPerWorker {
			t.Errorf("%s maxResults = %d", workerID, got.MaxResults)
		}
	}

	// Video search defaults to the longer per-worker budget.
	if ms := byWorker[WorkerWeb].TimeoutMs; ms != DefaultWorkerTimeout.Milliseconds() {
		t.Errorf("web timeout = %dms", ms)
	}
	if ms := byWorker[WorkerYouTube].TimeoutMs; ms != routerYouTubeTimeout.Milliseconds() {
		t.Errorf("youtube timeout = %dms", ms)
	}

	if plan.Intent.SessionID != intent.SessionID {
		t.Error("plan does not carry the intent")
	}
}

func TestRouterSkipYoutube(t *testing.T) {
	opts := NewRunOptions()
	opts.Flags.SkipYoutube = true
	ec := &ExecContext{Options: opts}

	out, err := runStageJSON(t, &RouterStage{}, ec, EnrichedIntent{Session: testSession()})
	if err != nil {
		t.Fatal(err)
	}
	plan := out.(WorkerPlan)
	if len(plan.Assignments) != 2 {
		t.Fatalf("assignments = %d, want 2", len(plan.Assignments))
	}
	for _, a := range plan.Assignments {
		if a.WorkerID == WorkerYouTube {
			t.Error("youtube assigned despite skip flag")
		}
	}
}

func TestRouterExplicitTimeoutIsUniform(t *testing.T) {
	opts := NewRunOptions()
	opts.Limits.WorkerTimeout = 10 * time.Second
	ec := &ExecContext{Options: opts}

	out, err := runStageJSON(t, &RouterStage{}, ec, EnrichedIntent{Session: testSession()})
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range out.(WorkerPlan).Assignments {
		if a.TimeoutMs != 10_000 {
			t.Errorf("%s timeout = %dms, want uniform 10000", a.WorkerID, a.TimeoutMs)
		}
	}
}

func TestBuildQueriesCap(t *testing.T) {
	intent := EnrichedIntent{Session: Session{
		Destinations: []string{"Tokyo", "Kyoto"},
		Interests:    []string{"street food", "temples", "onsen", "hiking"},
	}}

	queries := buildQueries(intent, "travel guide")
	if len(queries) != maxQueriesPerWorker {
		t.Fatalf("queries = %d, want cap %d", len(queries), maxQueriesPerWorker)
	}
	// Generic destination queries come first.
	if queries[0] != "Tokyo travel guide" || queries[1] != "Kyoto travel guide" {
		t.Errorf("generic queries = %v", queries[:2])
	}
	for _, q := range queries[2:] {
		if !strings.Contains(q, " in ") {
			t.Errorf("interest query %q malformed", q)
		}
	}
}
