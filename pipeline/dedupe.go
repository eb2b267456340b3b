package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// similarityThreshold is the default fuzzy-merge cutoff.
const similarityThreshold = 0.85

// maxAlternates caps how many non-representative members a cluster keeps.
const maxAlternates = 3

// DedupeStats summarizes a dedupe pass.
type DedupeStats struct {
	OriginalCount     int `json:"originalCount"`
	ClusterCount      int `json:"clusterCount"`
	DedupedCount      int `json:"dedupedCount"`
	DuplicatesRemoved int `json:"duplicatesRemoved"`
}

// DedupeOutput is the stage-5 payload: one merged candidate per cluster,
// with the full cluster records retained for audit.
type DedupeOutput struct {
	Candidates []Candidate `json:"candidates"`
	Clusters   []Cluster   `json:"clusters"`
	Stats      DedupeStats `json:"stats"`
}

// DedupeStage (stage 5) collapses candidates describing the same underlying
// entity in two phases: exact bucketing by place ID or content hash, then a
// single-pass agglomerative merge over weighted title and location
// similarity.
type DedupeStage struct {
	// Threshold overrides similarityThreshold when > 0.
	Threshold float64
}

func (s *DedupeStage) Number() int  { return StageCandidatesDeduped }
func (s *DedupeStage) Name() string { return StageName(StageCandidatesDeduped) }

// Execute dedupes the normalized candidates. Nil input yields an empty but
// schema-valid payload.
func (s *DedupeStage) Execute(ctx context.Context, ec *ExecContext, input json.RawMessage) (any, error) {
	out := DedupeOutput{Candidates: []Candidate{}, Clusters: []Cluster{}}
	if input == nil {
		return out, nil
	}

	var normalized NormalizeOutput
	if err := json.Unmarshal(input, &normalized); err != nil {
		return nil, &PipelineError{
			Code:    "DEDUPE_DECODE",
			Kind:    KindInputValidation,
			StageID: StageIDOf(StageCandidatesDeduped),
			Message: "normalized payload malformed",
			Cause:   err,
		}
	}

	threshold := s.Threshold
	if threshold <= 0 {
		threshold = similarityThreshold
	}

	groups := exactBuckets(normalized.Candidates)
	merged := mergeSimilarGroups(groups, threshold)

	for i, group := range merged {
		cluster := buildCluster(group, i)
		out.Clusters = append(out.Clusters, cluster)

		candidate := cluster.Representative
		candidate.ClusterID = cluster.ClusterID
		out.Candidates = append(out.Candidates, candidate)
	}

	out.Stats = DedupeStats{
		OriginalCount:     len(normalized.Candidates),
		ClusterCount:      len(merged),
		DedupedCount:      len(out.Candidates),
		DuplicatesRemoved: len(normalized.Candidates) - len(out.Candidates),
	}
	if ec.Metrics != nil {
		ec.Metrics.SetCandidateCount(StageIDOf(StageCandidatesDeduped), len(out.Candidates))
	}
	return out, nil
}

// exactBuckets groups candidates by place ID when present, else by content
// hash, preserving first-appearance order of buckets and input order within
// each bucket.
func exactBuckets(candidates []Candidate) [][]Candidate {
	index := make(map[string]int)
	var groups [][]Candidate
	for _, c := range candidates {
		key := bucketKey(c)
		if i, ok := index[key]; ok {
			groups[i] = append(groups[i], c)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, []Candidate{c})
	}
	return groups
}

func bucketKey(c Candidate) string {
	if c.Metadata != nil && c.Metadata.PlaceID != "" {
		return "place:" + c.Metadata.PlaceID
	}
	return "hash:" + contentHash(c)
}

// contentHash is sha256(placeId "|" normalize(title) "|" city(locationText))
// truncated to 16 hex characters.
func contentHash(c Candidate) string {
	var placeID string
	if c.Metadata != nil {
		placeID = c.Metadata.PlaceID
	}
	key := placeID + "|" + normalizeText(c.Title) + "|" + city(c.LocationText)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// city extracts the last comma-separated segment of a location, normalized;
// empty input yields empty.
func city(locationText string) string {
	if locationText == "" {
		return ""
	}
	parts := strings.Split(locationText, ",")
	return normalizeText(parts[len(parts)-1])
}

// mergeSimilarGroups runs the single-pass agglomerative merge: each
// unmerged group absorbs every later unmerged group whose representative is
// similar enough. Similarity is computed against the original
// representatives, not recomputed as groups grow.
func mergeSimilarGroups(groups [][]Candidate, threshold float64) [][]Candidate {
	reps := make([]Candidate, len(groups))
	for i, group := range groups {
		reps[i] = highestScored(group)
	}

	absorbed := make([]bool, len(groups))
	var out [][]Candidate
	for i := range groups {
		if absorbed[i] {
			continue
		}
		merged := groups[i]
		for j := i + 1; j < len(groups); j++ {
			if absorbed[j] {
				continue
			}
			if candidateSimilarity(reps[i], reps[j]) >= threshold {
				merged = append(merged, groups[j]...)
				absorbed[j] = true
			}
		}
		out = append(out, merged)
	}
	return out
}

// highestScored returns the member with the highest score, ties broken by
// input order.
func highestScored(group []Candidate) Candidate {
	best := group[0]
	for _, c := range group[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best
}

// candidateSimilarity is 0.6·title similarity + 0.4·location similarity.
func candidateSimilarity(a, b Candidate) float64 {
	return 0.6*titleSimilarity(a.Title, b.Title) + 0.4*locationSimilarity(a, b)
}

// titleSimilarity is token Jaccard, except that full containment of one
// title's tokens in the other's counts as a match: "Tokyo Tower Observation
// Deck" names the same entity as "Tokyo Tower".
func titleSimilarity(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if containsAll(ta, tb) || containsAll(tb, ta) {
		return 1.0
	}
	return jaccard(ta, tb)
}

// containsAll reports whether every token of inner appears in outer.
// An empty inner only matches an empty outer.
func containsAll(outer, inner []string) bool {
	if len(inner) == 0 {
		return len(outer) == 0
	}
	set := make(map[string]bool, len(outer))
	for _, t := range outer {
		set[t] = true
	}
	for _, t := range inner {
		if !set[t] {
			return false
		}
	}
	return true
}

// locationSimilarity uses a Haversine step function when both candidates
// have coordinates, else token Jaccard over the location texts.
func locationSimilarity(a, b Candidate) float64 {
	if a.Coordinates != nil && b.Coordinates != nil {
		meters := haversineMeters(*a.Coordinates, *b.Coordinates)
		switch {
		case meters < 50:
			return 1.0
		case meters < 200:
			return 0.8
		case meters < 500:
			return 0.5
		default:
			return 0.0
		}
	}
	return jaccard(tokenize(normalizeText(a.LocationText)), tokenize(normalizeText(b.LocationText)))
}

// haversineMeters is the great-circle distance between two WGS84 points.
func haversineMeters(a, b Coordinates) float64 {
	const earthRadiusM = 6371000.0
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// buildCluster constructs the cluster record for one merged group:
// representative by score, up to three origin-diverse alternates, merged
// source refs and tags.
func buildCluster(group []Candidate, index int) Cluster {
	rep := highestScored(group)

	rest := make([]Candidate, 0, len(group)-1)
	taken := false
	for _, c := range group {
		// The representative appears once; equal-score duplicates of it
		// remain eligible as alternates.
		if !taken && c.CandidateID == rep.CandidateID && c.Score == rep.Score {
			taken = true
			continue
		}
		rest = append(rest, c)
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Score > rest[j].Score })

	// First pass: one alternate per unrepresented origin.
	origins := map[Origin]bool{rep.Origin: true}
	var alternates []Candidate
	used := make([]bool, len(rest))
	for i, c := range rest {
		if len(alternates) >= maxAlternates {
			break
		}
		if !origins[c.Origin] {
			origins[c.Origin] = true
			alternates = append(alternates, c)
			used[i] = true
		}
	}
	// Top up by score.
	for i, c := range rest {
		if len(alternates) >= maxAlternates {
			break
		}
		if !used[i] {
			alternates = append(alternates, c)
			used[i] = true
		}
	}

	rep.SourceRefs = mergeSourceRefs(rep, alternates)
	rep.Tags = mergeTags(rep, alternates)

	return Cluster{
		ClusterID:      fmt.Sprintf("cluster_%03d", index),
		Representative: rep,
		Alternates:     alternates,
		MemberCount:    len(group),
	}
}

// mergeSourceRefs unions refs with the representative's first, deduped by
// URL, first occurrence winning.
func mergeSourceRefs(rep Candidate, alternates []Candidate) []SourceRef {
	seen := make(map[string]bool)
	var out []SourceRef
	add := func(refs []SourceRef) {
		for _, ref := range refs {
			if ref.URL == "" || seen[ref.URL] {
				continue
			}
			seen[ref.URL] = true
			out = append(out, ref)
		}
	}
	add(rep.SourceRefs)
	for _, alt := range alternates {
		add(alt.SourceRefs)
	}
	return out
}

// mergeTags unions tags case-insensitively, output lowercased and sorted
// for determinism.
func mergeTags(rep Candidate, alternates []Candidate) []string {
	seen := make(map[string]bool)
	add := func(tags []string) {
		for _, tag := range tags {
			lower := strings.ToLower(tag)
			if lower != "" {
				seen[lower] = true
			}
		}
	}
	add(rep.Tags)
	for _, alt := range alternates {
		add(alt.Tags)
	}

	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
