package pipeline

import "time"

// Session is the durable record of a user's travel intent and the input to
// every pipeline run. Sessions are immutable after creation: reruns against
// the same session produce new runs, never session mutations.
type Session struct {
	// SessionID is a date-slug identifier, e.g. "2026-08-24-tokyo-food-week".
	SessionID string `json:"sessionId"`

	// Title is the user's short description of the trip.
	Title string `json:"title"`

	// Destinations lists the places the user wants to explore.
	Destinations []string `json:"destinations"`

	// DateRange bounds the trip.
	DateRange DateRange `json:"dateRange"`

	// Flexibility qualifies how movable the dates are.
	Flexibility Flexibility `json:"flexibility"`

	// Interests are free-form user interests ("street food", "hiking").
	Interests []string `json:"interests"`

	// Constraints holds open-ended key/value constraints ("budget": "mid").
	Constraints map[string]string `json:"constraints,omitempty"`

	// Attachments are optional multimodal hints (screenshots, links, notes).
	Attachments []Attachment `json:"attachments,omitempty"`

	// CreatedAt records session creation time.
	CreatedAt time.Time `json:"createdAt"`
}

// DateRange is an inclusive trip window. Dates use the "2006-01-02" layout.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// FlexibilityType enumerates how movable the trip dates are.
type FlexibilityType string

const (
	FlexibilityFixed     FlexibilityType = "fixed"
	FlexibilityPlusMinus FlexibilityType = "plus_minus"
	FlexibilityAnytime   FlexibilityType = "anytime"
)

// Flexibility qualifies the date range. Days is only meaningful for
// plus_minus flexibility.
type Flexibility struct {
	Type FlexibilityType `json:"type"`
	Days int             `json:"days,omitempty"`
}

// Attachment is a multimodal hint attached to a session. The pipeline does
// not interpret attachment bytes; they are stored alongside the session and
// surfaced to the enhancement stage as context.
type Attachment struct {
	AttachmentID string `json:"attachmentId"`
	Kind         string `json:"kind"` // "image", "url", "note"
	Path         string `json:"path,omitempty"`
	Note         string `json:"note,omitempty"`
}

// EnrichedIntent is a Session projected through intent extraction: the same
// fields plus tags inferred by the enhancement stage. It is produced by
// stages 0-1 and consumed by the router, workers and ranker.
type EnrichedIntent struct {
	Session

	// InferredTags are interests derived from the title, attachments and
	// enhancement model output; empty when enhancement is skipped.
	InferredTags []string `json:"inferredTags"`
}

// AllInterests returns the union of declared interests and inferred tags,
// preserving order with declared interests first.
func (e EnrichedIntent) AllInterests() []string {
	out := make([]string, 0, len(e.Interests)+len(e.InferredTags))
	seen := make(map[string]bool, len(e.Interests)+len(e.InferredTags))
	for _, s := range append(append([]string{}, e.Interests...), e.InferredTags...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Triage is a lightweight per-session status record written next to
// session.json, used by front-ends to track intake state.
type Triage struct {
	Status    string    `json:"status"` // "new", "enriched", "run_complete", "failed"
	Notes     string    `json:"notes,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}
