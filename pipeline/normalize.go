package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// normalizeSoftBudget is a logging-only stage budget; normalization is
// CPU-local and never time-bounded per candidate.
const normalizeSoftBudget = 10 * time.Second

// NormalizeStats summarizes a normalization pass.
type NormalizeStats struct {
	TotalCandidates int            `json:"totalCandidates"`
	ByWorker        map[string]int `json:"byWorker"`
	ByOrigin        map[string]int `json:"byOrigin"`
	Errors          []string       `json:"errors"`
}

// NormalizeOutput is the stage-4 payload.
type NormalizeOutput struct {
	Candidates []Candidate    `json:"candidates"`
	Stats      NormalizeStats `json:"stats"`
}

// NormalizeStage (stage 4) maps heterogeneous worker candidates onto the
// uniform Candidate shape: origin-appropriate confidence, score seeds,
// stable candidate IDs.
type NormalizeStage struct {
	// Cache memoizes the per-origin mapping by raw payload hash, so
	// re-running the funnel over the same worker outputs skips
	// re-derivation. Nil disables memoization.
	Cache *ContentCache
}

func (s *NormalizeStage) Number() int  { return StageCandidatesNormalized }
func (s *NormalizeStage) Name() string { return StageName(StageCandidatesNormalized) }

// Execute normalizes the worker outputs. Nil input yields an empty but
// schema-valid payload.
func (s *NormalizeStage) Execute(ctx context.Context, ec *ExecContext, input json.RawMessage) (any, error) {
	start := time.Now()
	out := NormalizeOutput{
		Candidates: []Candidate{},
		Stats: NormalizeStats{
			ByWorker: map[string]int{},
			ByOrigin: map[string]int{},
			Errors:   []string{},
		},
	}
	if input == nil {
		return out, nil
	}

	var outputs []WorkerOutput
	if err := json.Unmarshal(input, &outputs); err != nil {
		return nil, &PipelineError{
			Code:    "NORMALIZE_DECODE",
			Kind:    KindInputValidation,
			StageID: StageIDOf(StageCandidatesNormalized),
			Message: "worker outputs malformed",
			Cause:   err,
		}
	}

	for _, wo := range outputs {
		if wo.Status == WorkerError || wo.Status == WorkerSkipped {
			if wo.Error != "" {
				out.Stats.Errors = append(out.Stats.Errors, fmt.Sprintf("%s: %s", wo.WorkerID, wo.Error))
			}
			continue
		}
		// Partial outputs are processed normally; their failure detail
		// already lives in the worker output file.
		for _, c := range wo.Candidates {
			normalized, ok := s.derive(wo.WorkerID, c)
			if !ok {
				continue
			}
			out.Candidates = append(out.Candidates, normalized)
			out.Stats.ByWorker[wo.WorkerID]++
			out.Stats.ByOrigin[string(normalized.Origin)]++
		}
	}

	ensureUniqueIDs(out.Candidates)
	out.Stats.TotalCandidates = len(out.Candidates)

	if elapsed := time.Since(start); elapsed > normalizeSoftBudget {
		ec.emitStage(StageCandidatesNormalized, "normalize_slow", map[string]interface{}{
			"duration_ms": elapsed.Milliseconds(),
		})
	}
	if ec.Metrics != nil {
		ec.Metrics.SetCandidateCount(StageIDOf(StageCandidatesNormalized), len(out.Candidates))
	}
	return out, nil
}

// derive runs the per-origin mapping through the cache when one is
// configured.
func (s *NormalizeStage) derive(workerID string, c Candidate) (Candidate, bool) {
	if s.Cache == nil {
		return normalizeCandidate(workerID, c)
	}
	key := rawCandidateKey(workerID, c)
	if hit, ok := s.Cache.Get(key); ok {
		return hit, true
	}
	normalized, ok := normalizeCandidate(workerID, c)
	if ok {
		s.Cache.Put(key, normalized)
	}
	return normalized, ok
}

// rawCandidateKey hashes the full raw payload; two candidates share a key
// only when every field matches.
func rawCandidateKey(workerID string, c Candidate) string {
	raw, err := json.Marshal(c)
	if err != nil {
		return workerID + ":" + c.Title
	}
	sum := sha256.Sum256(raw)
	return workerID + ":" + hex.EncodeToString(sum[:])
}

// normalizeCandidate applies the per-origin mapping. Candidates failing
// schema validation (empty title) are silently dropped.
func normalizeCandidate(workerID string, c Candidate) (Candidate, bool) {
	if c.Title == "" {
		return Candidate{}, false
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}

	switch workerID {
	case WorkerWeb:
		c.Origin = OriginWeb
		switch {
		case len(c.SourceRefs) >= 2:
			c.Confidence = ConfidenceVerified
		case len(c.SourceRefs) == 1:
			c.Confidence = ConfidenceProvisional
		default:
			c.Confidence = ConfidenceNeedsVerification
		}

	case WorkerPlaces:
		c.Origin = OriginPlaces
		c.Confidence = ConfidenceVerified
		if c.Metadata != nil && c.Metadata.Rating > 0 {
			// 0-5 rating seeds a 0-100 score.
			c.Score = c.Metadata.Rating * 20
		}

	case WorkerYouTube:
		c.Origin = OriginYouTube
		c.Confidence = ConfidenceProvisional
		if c.Metadata != nil {
			c.Score = logScaledViewScore(c.Metadata.ViewCount)
		}
		if !c.HasTag("youtube") {
			c.Tags = append(c.Tags, "youtube")
		}

	default:
		// Unknown worker family: pass through with minimal validation.
		if c.Origin == "" {
			c.Origin = OriginWeb
		}
		if c.Confidence == "" {
			c.Confidence = ConfidenceNeedsVerification
		}
	}

	if len(c.SourceRefs) == 0 {
		c.Confidence = ConfidenceNeedsVerification
	}

	c.CandidateID = generateCandidateID(c)
	return c, true
}

// generateCandidateID derives the stable candidate identifier:
// origin-hex(sha256(normalize(title)|normalize(location)|origin))[0:8].
func generateCandidateID(c Candidate) string {
	key := normalizeText(c.Title) + "|" + normalizeText(c.LocationText) + "|" + string(c.Origin)
	sum := sha256.Sum256([]byte(key))
	return string(c.Origin) + "-" + hex.EncodeToString(sum[:])[:8]
}

// ensureUniqueIDs resolves ID collisions by appending "-k" (k=1,2,...) in
// insertion order, so earlier candidates keep the canonical ID.
func ensureUniqueIDs(candidates []Candidate) {
	seen := make(map[string]int, len(candidates))
	for i := range candidates {
		id := candidates[i].CandidateID
		n, dup := seen[id]
		if !dup {
			seen[id] = 0
			continue
		}
		seen[id] = n + 1
		candidates[i].CandidateID = fmt.Sprintf("%s-%d", id, n+1)
	}
}
