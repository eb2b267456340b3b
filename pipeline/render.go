package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// resultsMarkdownFile is the human-readable sidecar written next to the
// stage-10 checkpoint.
const resultsMarkdownFile = "results.md"

// maxCompactCards bounds the compact-card section of the rendering; the
// appendix still lists everything.
const maxCompactCards = 20

// SourceIndexEntry is one row of the rendered sources index: a URL and the
// candidates it supports.
type SourceIndexEntry struct {
	URL          string   `json:"url"`
	Publisher    string   `json:"publisher,omitempty"`
	CandidateIDs []string `json:"candidateIds"`
}

// ResultsOutput is the stage-10 payload: the canonical structured artifact.
// It deliberately carries no run identity or timestamps so identical inputs
// render to identical bytes.
type ResultsOutput struct {
	Title        string             `json:"title"`
	Destinations []string           `json:"destinations"`
	DateRange    DateRange          `json:"dateRange"`
	Candidates   []Candidate        `json:"candidates"`
	Narrative    *Narrative         `json:"narrative"`
	Sources      []SourceIndexEntry `json:"sources"`
}

// RenderStage (stage 10) produces the two final artifacts: the structured
// results checkpoint and a markdown rendering (summary, compact cards, full
// appendix, sources index).
type RenderStage struct{}

func (s *RenderStage) Number() int  { return StageResults }
func (s *RenderStage) Name() string { return StageName(StageResults) }

// Execute renders the aggregated output. Nil input yields an empty but
// schema-valid payload and a minimal markdown artifact.
func (s *RenderStage) Execute(ctx context.Context, ec *ExecContext, input json.RawMessage) (any, error) {
	aggregated := AggregateOutput{Candidates: []Candidate{}}
	if input != nil {
		if err := json.Unmarshal(input, &aggregated); err != nil {
			return nil, &PipelineError{
				Code:    "RENDER_DECODE",
				Kind:    KindInputValidation,
				StageID: StageIDOf(StageResults),
				Message: "aggregator payload malformed",
				Cause:   err,
			}
		}
	}

	out := ResultsOutput{
		Title:        ec.Session.Title,
		Destinations: ec.Session.Destinations,
		DateRange:    ec.Session.DateRange,
		Candidates:   aggregated.Candidates,
		Narrative:    aggregated.Narrative,
		Sources:      buildSourceIndex(aggregated.Candidates),
	}
	if out.Candidates == nil {
		out.Candidates = []Candidate{}
	}
	if out.Destinations == nil {
		out.Destinations = []string{}
	}

	markdown := renderMarkdown(out)
	if _, err := ec.Checkpoints.WriteSidecarRaw(ec.SessionID, ec.RunID, resultsMarkdownFile, []byte(markdown)); err != nil {
		return nil, err
	}
	return out, nil
}

// buildSourceIndex collects every source URL with the candidates it backs,
// sorted by URL for determinism.
func buildSourceIndex(candidates []Candidate) []SourceIndexEntry {
	byURL := make(map[string]*SourceIndexEntry)
	for _, c := range candidates {
		for _, ref := range c.SourceRefs {
			if ref.URL == "" {
				continue
			}
			entry, ok := byURL[ref.URL]
			if !ok {
				entry = &SourceIndexEntry{URL: ref.URL, Publisher: ref.Publisher}
				byURL[ref.URL] = entry
			}
			entry.CandidateIDs = append(entry.CandidateIDs, c.CandidateID)
		}
	}

	out := make([]SourceIndexEntry, 0, len(byURL))
	for _, entry := range byURL {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// renderMarkdown lays out the markdown artifact: summary, narrative (when
// present), up to twenty compact cards, a full-detail appendix and the
// sources index.
func renderMarkdown(out ResultsOutput) string {
	var b strings.Builder

	title := out.Title
	if title == "" {
		title = "Trip Discovery Results"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	if len(out.Destinations) > 0 {
		fmt.Fprintf(&b, "**Destinations:** %s\n\n", strings.Join(out.Destinations, ", "))
	}
	if out.DateRange.Start != "" || out.DateRange.End != "" {
		fmt.Fprintf(&b, "**Dates:** %s to %s\n\n", out.DateRange.Start, out.DateRange.End)
	}
	fmt.Fprintf(&b, "%d candidates discovered.\n\n", len(out.Candidates))

	if out.Narrative != nil {
		renderNarrative(&b, out.Narrative)
	}

	if len(out.Candidates) > 0 {
		b.WriteString("## Top Picks\n\n")
		cards := out.Candidates
		if len(cards) > maxCompactCards {
			cards = cards[:maxCompactCards]
		}
		for i, c := range cards {
			renderCompactCard(&b, i+1, c)
		}

		b.WriteString("## All Candidates\n\n")
		for _, c := range out.Candidates {
			renderFullEntry(&b, c)
		}
	}

	if len(out.Sources) > 0 {
		b.WriteString("## Sources\n\n")
		for i, src := range out.Sources {
			fmt.Fprintf(&b, "%d. %s", i+1, src.URL)
			if src.Publisher != "" {
				fmt.Fprintf(&b, " (%s)", src.Publisher)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderNarrative(b *strings.Builder, n *Narrative) {
	if n.Introduction != "" {
		fmt.Fprintf(b, "%s\n\n", n.Introduction)
	}
	for _, section := range n.Sections {
		fmt.Fprintf(b, "## %s\n\n%s\n\n", section.Heading, section.Content)
	}
	if len(n.Highlights) > 0 {
		b.WriteString("## Highlights\n\n")
		for _, h := range n.Highlights {
			fmt.Fprintf(b, "- **%s**: %s\n", h.Title, h.Description)
		}
		b.WriteString("\n")
	}
	if len(n.Recommendations) > 0 {
		b.WriteString("## Recommendations\n\n")
		for _, r := range n.Recommendations {
			fmt.Fprintf(b, "- %s", r.Text)
			if r.Reasoning != "" {
				fmt.Fprintf(b, " (%s)", r.Reasoning)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if n.Conclusion != "" {
		fmt.Fprintf(b, "%s\n\n", n.Conclusion)
	}
}

func renderCompactCard(b *strings.Builder, rank int, c Candidate) {
	fmt.Fprintf(b, "### %d. %s\n\n", rank, c.Title)
	fmt.Fprintf(b, "*%s* · score %.0f · %s", c.Type, c.Score, c.Confidence)
	if c.LocationText != "" {
		fmt.Fprintf(b, " · %s", c.LocationText)
	}
	b.WriteString("\n\n")
	if c.Summary != "" {
		fmt.Fprintf(b, "%s\n\n", c.Summary)
	}
}

func renderFullEntry(b *strings.Builder, c Candidate) {
	fmt.Fprintf(b, "### %s (`%s`)\n\n", c.Title, c.CandidateID)
	fmt.Fprintf(b, "- Type: %s\n- Origin: %s\n- Score: %.0f\n- Confidence: %s\n", c.Type, c.Origin, c.Score, c.Confidence)
	if c.LocationText != "" {
		fmt.Fprintf(b, "- Location: %s\n", c.LocationText)
	}
	if c.Coordinates != nil {
		fmt.Fprintf(b, "- Coordinates: %.4f, %.4f\n", c.Coordinates.Lat, c.Coordinates.Lng)
	}
	if len(c.Tags) > 0 {
		fmt.Fprintf(b, "- Tags: %s\n", strings.Join(c.Tags, ", "))
	}
	if c.Validation != nil {
		fmt.Fprintf(b, "- Validation: %s\n", c.Validation.Status)
	}
	if c.Summary != "" {
		fmt.Fprintf(b, "\n%s\n", c.Summary)
	}
	if len(c.SourceRefs) > 0 {
		b.WriteString("\nSources:\n")
		for _, ref := range c.SourceRefs {
			fmt.Fprintf(b, "- %s\n", ref.URL)
		}
	}
	b.WriteString("\n")
}
