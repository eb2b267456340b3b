package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func renderContext(t *testing.T) *ExecContext {
	t.Helper()
	return &ExecContext{
		SessionID: "sess",
		RunID:     "run",
		Session: Session{
			Title:        "Tokyo Long Weekend",
			Destinations: []string{"Tokyo"},
			DateRange:    DateRange{Start: "2025-10-01", End: "2025-10-05"},
		},
		Options:     NewRunOptions(),
		Checkpoints: NewCheckpointStore(t.TempDir()),
	}
}

func renderInput() AggregateOutput {
	return AggregateOutput{
		Candidates: []Candidate{
			{CandidateID: "places-a", Title: "Tsukiji Outer Market", Type: TypeFood,
				Origin: OriginPlaces, Score: 92, Confidence: ConfidenceVerified,
				LocationText: "Chuo, Tokyo", Summary: "Morning seafood stalls.",
				SourceRefs: []SourceRef{{URL: "https://maps.example/tsukiji", Publisher: "Maps"}}},
			{CandidateID: "web-b", Title: "Yanaka Ginza Stroll", Type: TypeExperience,
				Origin: OriginWeb, Score: 81, Confidence: ConfidenceProvisional,
				SourceRefs: []SourceRef{
					{URL: "https://blog.example/yanaka", Publisher: "Blog"},
					{URL: "https://maps.example/tsukiji", Publisher: "Maps"},
				}},
		},
		Narrative: &Narrative{
			Introduction: "Tokyo rewards the early riser.",
			Sections:     []Section{{Heading: "Mornings", Content: "Start at the market.", CandidateIDs: []string{"places-a"}}},
		},
	}
}

func TestRenderProducesBothArtifacts(t *testing.T) {
	ec := renderContext(t)

	out, err := runStageJSON(t, &RenderStage{}, ec, renderInput())
	if err != nil {
		t.Fatal(err)
	}
	results := out.(ResultsOutput)

	if results.Title != "Tokyo Long Weekend" || len(results.Candidates) != 2 {
		t.Errorf("results = %s with %d candidates", results.Title, len(results.Candidates))
	}
	if results.Narrative == nil {
		t.Error("narrative dropped")
	}

	path := filepath.Join(ec.Checkpoints.RunDir("sess", "run"), resultsMarkdownFile)
	markdown, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("sidecar: %v", err)
	}
	text := string(markdown)
	for _, want := range []string{
		"# Tokyo Long Weekend",
		"**Destinations:** Tokyo",
		"Tokyo rewards the early riser.",
		"## Top Picks",
		"## All Candidates",
		"## Sources",
		"https://blog.example/yanaka",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestRenderDeterministic(t *testing.T) {
	input := renderInput()

	first, err := runStageJSON(t, &RenderStage{}, renderContext(t), input)
	if err != nil {
		t.Fatal(err)
	}
	second, err := runStageJSON(t, &RenderStage{}, renderContext(t), input)
	if err != nil {
		t.Fatal(err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Error("identical inputs rendered to different payloads")
	}

	if renderMarkdown(first.(ResultsOutput)) != renderMarkdown(second.(ResultsOutput)) {
		t.Error("identical inputs rendered to different markdown")
	}
}

func TestBuildSourceIndex(t *testing.T) {
	entries := buildSourceIndex([]Candidate{
		{CandidateID: "a", SourceRefs: []SourceRef{{URL: "https://z.example"}, {URL: "https://a.example", Publisher: "A"}}},
		{CandidateID: "b", SourceRefs: []SourceRef{{URL: "https://a.example"}, {URL: ""}}},
	})

	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 (empty URL dropped, shared URL merged)", len(entries))
	}
	if entries[0].URL != "https://a.example" || entries[1].URL != "https://z.example" {
		t.Errorf("order = %s, %s; want sorted by URL", entries[0].URL, entries[1].URL)
	}
	if len(entries[0].CandidateIDs) != 2 {
		t.Errorf("shared source candidates = %v", entries[0].CandidateIDs)
	}
	if entries[0].Publisher != "A" {
		t.Errorf("publisher = %q", entries[0].Publisher)
	}
}

func TestRenderCompactCardLimit(t *testing.T) {
	var candidates []Candidate
	for i := 0; i < 30; i++ {
		candidates = append(candidates, Candidate{
			CandidateID: string(rune('a' + i%26)),
			Title:       strings.Repeat("x", i+1),
			Type:        TypePlace,
		})
	}

	text := renderMarkdown(ResultsOutput{Candidates: candidates})

	head, _, found := strings.Cut(text, "## All Candidates")
	if !found {
		t.Fatal("appendix section missing")
	}
	if compact := strings.Count(head, "### "); compact != maxCompactCards {
		t.Errorf("compact cards = %d, want %d", compact, maxCompactCards)
	}
	if appendix := strings.Count(text, "### ") - maxCompactCards; appendix != len(candidates) {
		t.Errorf("appendix entries = %d, want all %d", appendix, len(candidates))
	}
}

func TestRenderNilInput(t *testing.T) {
	ec := renderContext(t)
	out, err := (&RenderStage{}).Execute(context.Background(), ec, nil)
	if err != nil {
		t.Fatal(err)
	}
	results := out.(ResultsOutput)
	if results.Candidates == nil || len(results.Candidates) != 0 {
		t.Errorf("candidates = %v, want empty but schema-valid", results.Candidates)
	}

	path := filepath.Join(ec.Checkpoints.RunDir("sess", "run"), resultsMarkdownFile)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("minimal markdown not written: %v", err)
	}
}
