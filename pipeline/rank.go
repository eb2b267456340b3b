package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"
)

// Ranking weights. They sum to 1.0 so a perfect candidate scores 100.
const (
	weightRelevance   = 0.35
	weightCredibility = 0.30
	weightRecency     = 0.20
	weightDiversity   = 0.15
)

// diversityCapWindow and diversityCapPerType bound type repetition in the
// head of the ranking: within the first 20 results no type may appear more
// than 4 times.
const (
	diversityCapWindow  = 20
	diversityCapPerType = 4
)

// typeKeywords maps candidate types onto the interest keywords that earn a
// type bonus. Types not listed earn none.
var typeKeywords = map[CandidateType][]string{
	TypeFood:       {"food", "culinary", "cuisine", "restaurant", "eat", "street food"},
	TypeActivity:   {"adventure", "outdoor", "hike", "hiking", "sport", "active"},
	TypeExperience: {"culture", "cultural", "local", "tradition", "workshop"},
}

// RankStats summarizes a ranking pass.
type RankStats struct {
	RankedCount int            `json:"rankedCount"`
	ByType      map[string]int `json:"byType"`
	CapSwaps    int            `json:"capSwaps"`
}

// RankOutput is the stage-6 payload.
type RankOutput struct {
	Candidates []Candidate `json:"candidates"`
	Stats      RankStats   `json:"stats"`
}

// RankStage (stage 6) orders candidates by a weighted sum of relevance,
// credibility, recency and diversity, then enforces a hard per-type cap in
// the top of the ranking.
type RankStage struct {
	// Now supplies the recency reference time; nil means time.Now.
	Now func() time.Time
}

func (s *RankStage) Number() int  { return StageCandidatesRanked }
func (s *RankStage) Name() string { return StageName(StageCandidatesRanked) }

// Execute ranks the deduped candidates. Nil input yields an empty but
// schema-valid payload.
func (s *RankStage) Execute(ctx context.Context, ec *ExecContext, input json.RawMessage) (any, error) {
	out := RankOutput{Candidates: []Candidate{}, Stats: RankStats{ByType: map[string]int{}}}
	if input == nil {
		return out, nil
	}

	var deduped DedupeOutput
	if err := json.Unmarshal(input, &deduped); err != nil {
		return nil, &PipelineError{
			Code:    "RANK_DECODE",
			Kind:    KindInputValidation,
			StageID: StageIDOf(StageCandidatesRanked),
			Message: "deduped payload malformed",
			Cause:   err,
		}
	}
	if len(deduped.Candidates) == 0 {
		return out, nil
	}

	var intent EnrichedIntent
	if ec.Intent != nil {
		intent = *ec.Intent
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	ranked := rankCandidates(deduped.Candidates, intent, now())
	swaps := enforceTypeCap(ranked)

	out.Candidates = ranked
	out.Stats.RankedCount = len(ranked)
	out.Stats.CapSwaps = swaps
	for _, c := range ranked {
		out.Stats.ByType[string(c.Type)]++
	}
	if ec.Metrics != nil {
		ec.Metrics.SetCandidateCount(StageIDOf(StageCandidatesRanked), len(ranked))
	}
	return out, nil
}

// rankCandidates runs the two-pass ranking: first with an empty predecessor
// list so the diversity term does not bias relative order, then a re-scan in
// sorted order with the running predecessor list applying the penalty.
func rankCandidates(candidates []Candidate, intent EnrichedIntent, now time.Time) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)

	for i := range ranked {
		ranked[i].Score = scoreCandidate(ranked[i], intent, now, nil)
	}
	sortByScore(ranked)

	predecessors := make([]Candidate, 0, len(ranked))
	for i := range ranked {
		ranked[i].Score = scoreCandidate(ranked[i], intent, now, predecessors)
		predecessors = append(predecessors, ranked[i])
	}
	sortByScore(ranked)
	return ranked
}

// sortByScore orders by score descending, ties broken by candidate ID so
// ordering is reproducible across runs.
func sortByScore(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].CandidateID < candidates[j].CandidateID
	})
}

// scoreCandidate computes the weighted score, rounded and clamped to [0,100].
func scoreCandidate(c Candidate, intent EnrichedIntent, now time.Time, predecessors []Candidate) float64 {
	score := weightRelevance*relevanceScore(c, intent) +
		weightCredibility*credibilityScore(c) +
		weightRecency*recencyScore(c, now) +
		weightDiversity*diversityScore(c, predecessors)
	return clampScore(math.Round(score))
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// relevanceScore is destination match (0-30) + interest overlap (0-40) +
// type bonus (0-30).
func relevanceScore(c Candidate, intent EnrichedIntent) float64 {
	return destinationScore(c, intent) + interestScore(c, intent) + typeBonus(c, intent)
}

// destinationScore awards 30 when any destination substring-matches the
// candidate's location, title or summary after normalization.
func destinationScore(c Candidate, intent EnrichedIntent) float64 {
	haystack := c.LocationText + " " + c.Title + " " + c.Summary
	for _, dest := range intent.Destinations {
		if normalizeText(dest) == "" {
			continue
		}
		if containsFold(haystack, dest) {
			return 30
		}
	}
	return 0
}

// interestScore awards 40·m/min(|T|,|I|) where m is the overlap between the
// candidate's tags and the user's interests, both lowercased.
func interestScore(c Candidate, intent EnrichedIntent) float64 {
	tags := lowerSet(c.Tags)
	interests := lowerSet(intent.AllInterests())
	if len(tags) == 0 || len(interests) == 0 {
		return 0
	}

	m := 0
	for tag := range tags {
		if interests[tag] {
			m++
		}
	}
	if m == 0 {
		return 0
	}

	denom := len(tags)
	if len(interests) < denom {
		denom = len(interests)
	}
	score := 40 * float64(m) / float64(denom)
	if score > 40 {
		return 40
	}
	return score
}

// typeBonus awards +10 per user interest matching the candidate type's
// keyword set (substring in either direction), capped at 30.
func typeBonus(c Candidate, intent EnrichedIntent) float64 {
	keywords, ok := typeKeywords[c.Type]
	if !ok {
		return 0
	}

	bonus := 0.0
	for _, interest := range intent.AllInterests() {
		lower := strings.ToLower(interest)
		for _, keyword := range keywords {
			if strings.Contains(lower, keyword) || strings.Contains(keyword, lower) {
				bonus += 10
				break
			}
		}
		if bonus >= 30 {
			return 30
		}
	}
	return bonus
}

// credibilityScore is an origin-based base plus a validation boost, clamped.
func credibilityScore(c Candidate) float64 {
	var base float64
	switch c.Origin {
	case OriginPlaces:
		base = 90
	case OriginWeb:
		if len(c.SourceRefs) >= 2 {
			base = 80
		} else {
			base = 60
		}
	case OriginYouTube:
		if c.Confidence == ConfidenceVerified || c.Confidence == ConfidenceHigh {
			base = 50
		} else {
			base = 30
		}
	default:
		base = 50
	}

	if c.Validation != nil {
		switch c.Validation.Status {
		case ValidationVerified:
			base += 35
		case ValidationPartiallyVerified:
			base += 15
		}
	}
	if base > 100 {
		return 100
	}
	return base
}

// recencyScore is a step function over metadata.publishedAt: newer content
// scores higher, a missing or unparseable date is neutral, future dates are
// treated as current.
func recencyScore(c Candidate, now time.Time) float64 {
	if c.Metadata == nil || c.Metadata.PublishedAt == "" {
		return 50
	}
	published, err := parsePublishedAt(c.Metadata.PublishedAt)
	if err != nil {
		return 50
	}
	age := now.Sub(published)
	switch {
	case age < 0:
		return 100
	case age <= 30*24*time.Hour:
		return 100
	case age <= 90*24*time.Hour:
		return 80
	case age <= 180*24*time.Hour:
		return 60
	case age <= 365*24*time.Hour:
		return 40
	default:
		return 20
	}
}

func parsePublishedAt(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

// diversityScore is 100 minus 10 per same-type predecessor, floored at 0.
func diversityScore(c Candidate, predecessors []Candidate) float64 {
	same := 0
	for _, p := range predecessors {
		if p.Type == c.Type {
			same++
		}
	}
	score := 100 - 10*float64(same)
	if score < 0 {
		return 0
	}
	return score
}

// enforceTypeCap applies the hard post-pass cap: within the first
// diversityCapWindow results no type may appear more than diversityCapPerType
// times. Excess candidates are swapped with the highest-scoring candidate
// beyond the window whose type is under the cap; the lowest-scoring excess
// leaves first. When every beyond-window candidate's type is itself at the
// cap (a pool with too few types to fill the window), enforcement stops with
// the excess in place. Returns the number of swaps performed.
func enforceTypeCap(ranked []Candidate) int {
	window := diversityCapWindow
	if len(ranked) <= window {
		return 0
	}

	swaps := 0
	for {
		counts := make(map[CandidateType]int)
		for _, c := range ranked[:window] {
			counts[c.Type]++
		}

		// When several types exceed the cap, fix the one appearing first in
		// the window so the pass is order-deterministic.
		excessType := CandidateType("")
		for _, c := range ranked[:window] {
			if counts[c.Type] > diversityCapPerType {
				excessType = c.Type
				break
			}
		}
		if excessType == "" {
			return swaps
		}

		// Lowest-scoring in-window candidate of the over-represented type
		// (the last one, since the window is score-ordered).
		out := -1
		for i := window - 1; i >= 0; i-- {
			if ranked[i].Type == excessType {
				out = i
				break
			}
		}

		// Highest-scoring candidate beyond the window whose type stays
		// under the cap (the first such, since the tail is score-ordered).
		in := -1
		for i := window; i < len(ranked); i++ {
			if ranked[i].Type != excessType && counts[ranked[i].Type] < diversityCapPerType {
				in = i
				break
			}
		}
		if out < 0 || in < 0 {
			// No eligible replacement; the cap cannot be satisfied.
			return swaps
		}

		ranked[out], ranked[in] = ranked[in], ranked[out]
		swaps++
	}
}

// lowerSet builds a lowercase membership set, dropping empties.
func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower != "" {
			set[lower] = true
		}
	}
	return set
}
