package pipeline

import "time"

// CandidateType enumerates the kinds of discovery items the pipeline handles.
type CandidateType string

const (
	TypePlace        CandidateType = "place"
	TypeActivity     CandidateType = "activity"
	TypeNeighborhood CandidateType = "neighborhood"
	TypeDaytrip      CandidateType = "daytrip"
	TypeExperience   CandidateType = "experience"
	TypeFood         CandidateType = "food"
)

// Origin identifies which provider family a candidate came from.
type Origin string

const (
	OriginWeb     Origin = "web"
	OriginPlaces  Origin = "places"
	OriginYouTube Origin = "youtube"
)

// Confidence is the enumerated trust level on a candidate, assigned by the
// normalizer from origin characteristics and upgraded by validation.
type Confidence string

const (
	ConfidenceNeedsVerification Confidence = "needs_verification"
	ConfidenceProvisional       Confidence = "provisional"
	ConfidenceVerified          Confidence = "verified"
	ConfidenceHigh              Confidence = "high"
)

// ValidationStatus is the outcome of external fact-checking (stage 7).
type ValidationStatus string

const (
	ValidationVerified          ValidationStatus = "verified"
	ValidationPartiallyVerified ValidationStatus = "partially_verified"
	ValidationConflictDetected  ValidationStatus = "conflict_detected"
	ValidationUnverified        ValidationStatus = "unverified"
	ValidationNotApplicable     ValidationStatus = "not_applicable"
)

// Coordinates is a WGS84 lat/lng pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SourceRef is a provenance link attached to a candidate. A candidate with
// zero source refs is flagged needs_verification by the normalizer.
type SourceRef struct {
	URL         string    `json:"url"`
	Publisher   string    `json:"publisher,omitempty"`
	RetrievedAt time.Time `json:"retrievedAt"`
	Snippet     string    `json:"snippet,omitempty"`
}

// Validation records the result of external fact-checking on a candidate.
type Validation struct {
	Status  ValidationStatus `json:"status"`
	Notes   string           `json:"notes,omitempty"`
	Sources []string         `json:"sources,omitempty"`
}

// Metadata carries provider-specific fields preserved across stages.
// All fields are optional; absence means the provider did not supply them.
type Metadata struct {
	PlaceID     string  `json:"placeId,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	UserRatings int64   `json:"userRatings,omitempty"`
	ViewCount   int64   `json:"viewCount,omitempty"`
	PublishedAt string  `json:"publishedAt,omitempty"`
	PriceLevel  string  `json:"priceLevel,omitempty"`
	VideoID     string  `json:"videoId,omitempty"`
	Channel     string  `json:"channel,omitempty"`
}

// Candidate is the central entity flowing through stages 3-10: a normalized
// discovery item (place, activity, experience) with provenance, confidence
// and scoring attached as it moves down the pipeline.
//
// Lifecycle: created raw by workers at stage 3; given a stable CandidateID,
// origin and confidence at stage 4; clustered and merged at stage 5; scored
// at stage 6; optionally validated at stage 7; selected and attributed in
// stages 8-10. Candidates are mutated in place through stage 7.
type Candidate struct {
	// CandidateID is stable across runs: derived from origin plus the
	// normalized title and location. Empty only before stage 4.
	CandidateID string `json:"candidateId"`

	Type    CandidateType `json:"type"`
	Title   string        `json:"title"`
	Summary string        `json:"summary,omitempty"`

	// LocationText is a human-readable location ("Minato, Tokyo").
	LocationText string       `json:"locationText,omitempty"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`

	Tags   []string `json:"tags,omitempty"`
	Origin Origin   `json:"origin"`

	// SourceRefs never contain duplicate URLs after stage 5.
	SourceRefs []SourceRef `json:"sourceRefs,omitempty"`

	Confidence Confidence  `json:"confidence"`
	Validation *Validation `json:"validation,omitempty"`

	// Score is 0-100 and meaningful only after stage 6. Before ranking it
	// may hold an origin-specific seed (rating, log-scaled view count).
	Score float64 `json:"score"`

	// ClusterID is assigned in stage 5; exactly one candidate per cluster
	// exits that stage.
	ClusterID string `json:"clusterId,omitempty"`

	Metadata *Metadata `json:"metadata,omitempty"`
}

// HasTag reports whether the candidate carries the tag, case-insensitively.
func (c *Candidate) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if equalFold(t, tag) {
			return true
		}
	}
	return false
}

// Cluster is an equivalence class of candidates deemed the same underlying
// entity. The representative carries the merged sourceRefs and tags; up to
// three origin-diverse alternates are retained for audit.
type Cluster struct {
	ClusterID      string      `json:"clusterId"`
	Representative Candidate   `json:"representative"`
	Alternates     []Candidate `json:"alternates,omitempty"`
	MemberCount    int         `json:"memberCount"`
}
