package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dshills/tripflow-go/pipeline/provider"
)

// WebWorker adapts the grounded web-knowledge endpoint. Each query runs
// under the standard retry policy; partial query failures still surface the
// candidates gathered so far.
type WebWorker struct {
	Searcher provider.WebSearcher
	Costs    *CostTracker
	Retry    RetryPolicy
}

// NewWebWorker creates a web worker with the standard retry policy.
func NewWebWorker(searcher provider.WebSearcher, costs *CostTracker) *WebWorker {
	return &WebWorker{Searcher: searcher, Costs: costs, Retry: DefaultRetryPolicy()}
}

// ID implements Worker.
func (w *WebWorker) ID() string { return WorkerWeb }

// Execute implements Worker.
func (w *WebWorker) Execute(ctx context.Context, assignment WorkerAssignment, intent EnrichedIntent) ([]Candidate, error) {
	var candidates []Candidate
	var failed []string
	seen := make(map[string]bool)

	for _, query := range assignment.Queries {
		var results []provider.WebResult
		err := Retry(ctx, w.Retry, func(ctx context.Context) error {
			var err error
			results, err = w.Searcher.SearchWeb(ctx, query, assignment.MaxResults)
			return err
		})
		if w.Costs != nil {
			w.Costs.RecordProviderCall(WorkerWeb, 1)
		}
		if err != nil {
			if ctx.Err() != nil {
				return candidates, ctx.Err()
			}
			failed = append(failed, fmt.Sprintf("%s: %v", query, err))
			continue
		}

		for _, r := range results {
			// The same page routinely answers several queries.
			if seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			candidates = append(candidates, webCandidate(r))
		}
		if assignment.MaxResults > 0 && len(candidates) >= assignment.MaxResults {
			candidates = candidates[:assignment.MaxResults]
			break
		}
	}

	if len(failed) > 0 {
		err := fmt.Errorf("%w: %s", ErrPartialResults, strings.Join(failed, "; "))
		if len(candidates) == 0 {
			return nil, fmt.Errorf("all queries failed: %s", strings.Join(failed, "; "))
		}
		return candidates, err
	}
	return candidates, nil
}

// webCandidate maps a search hit to a raw candidate; confidence and ID are
// the normalizer's job.
func webCandidate(r provider.WebResult) Candidate {
	return Candidate{
		Type:    inferTypeFromText(r.Title + " " + r.Snippet),
		Title:   r.Title,
		Summary: r.Snippet,
		Origin:  OriginWeb,
		Tags:    []string{},
		SourceRefs: []SourceRef{{
			URL:       r.URL,
			Publisher: r.Publisher,
			Snippet:   r.Snippet,
		}},
	}
}

// PlacesWorker adapts the places/POI endpoint. It deduplicates by place ID
// across its own query fan-out and tries a details fetch per result,
// falling back to the search-level fields when details fail.
type PlacesWorker struct {
	Searcher provider.PlaceSearcher
	Costs    *CostTracker
	Retry    RetryPolicy

	// SkipDetails disables the per-result details fetch (tests, quota).
	SkipDetails bool
}

// NewPlacesWorker creates a places worker with the standard retry policy.
func NewPlacesWorker(searcher provider.PlaceSearcher, costs *CostTracker) *PlacesWorker {
	return &PlacesWorker{Searcher: searcher, Costs: costs, Retry: DefaultRetryPolicy()}
}

// ID implements Worker.
func (w *PlacesWorker) ID() string { return WorkerPlaces }

// Execute implements Worker.
func (w *PlacesWorker) Execute(ctx context.Context, assignment WorkerAssignment, intent EnrichedIntent) ([]Candidate, error) {
	var results []provider.PlaceResult
	var failed []string
	seen := make(map[string]bool)

	for _, query := range assignment.Queries {
		var batch []provider.PlaceResult
		err := Retry(ctx, w.Retry, func(ctx context.Context) error {
			var err error
			batch, err = w.Searcher.SearchPlaces(ctx, query, assignment.MaxResults)
			return err
		})
		if w.Costs != nil {
			w.Costs.RecordProviderCall(WorkerPlaces, 1)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed = append(failed, fmt.Sprintf("%s: %v", query, err))
			continue
		}
		for _, place := range batch {
			if place.PlaceID == "" || seen[place.PlaceID] {
				continue
			}
			seen[place.PlaceID] = true
			results = append(results, place)
		}
	}

	if assignment.MaxResults > 0 && len(results) > assignment.MaxResults {
		results = results[:assignment.MaxResults]
	}

	candidates := make([]Candidate, 0, len(results))
	for _, place := range results {
		candidates = append(candidates, w.placeCandidate(ctx, place))
	}

	if len(failed) > 0 {
		if len(candidates) == 0 {
			return nil, fmt.Errorf("all queries failed: %s", strings.Join(failed, "; "))
		}
		return candidates, fmt.Errorf("%w: %s", ErrPartialResults, strings.Join(failed, "; "))
	}
	return candidates, nil
}

// placeCandidate enriches one place with details when possible, falling
// back to basic search fields.
func (w *PlacesWorker) placeCandidate(ctx context.Context, place provider.PlaceResult) Candidate {
	if !w.SkipDetails {
		detail, err := w.Searcher.PlaceDetails(ctx, place.PlaceID)
		if w.Costs != nil {
			w.Costs.RecordProviderCall(WorkerPlaces, 1)
		}
		if err == nil && detail.PlaceID == place.PlaceID {
			place = detail
		}
	}

	summary := place.Summary
	if summary == "" {
		summary = place.Address
	}

	return Candidate{
		Type:         placeType(place.Types),
		Title:        place.Name,
		Summary:      summary,
		LocationText: place.Address,
		Coordinates:  &Coordinates{Lat: place.Lat, Lng: place.Lng},
		Origin:       OriginPlaces,
		Tags:         lowerAll(place.Types),
		SourceRefs: []SourceRef{{
			URL:       "https://www.google.com/maps/place/?q=place_id:" + place.PlaceID,
			Publisher: "Google Maps",
		}},
		Metadata: &Metadata{
			PlaceID:     place.PlaceID,
			Rating:      place.Rating,
			UserRatings: place.UserRatings,
			PriceLevel:  place.PriceLevel,
		},
	}
}

// VideoWorker adapts the video-social endpoint with the lighter retry
// policy (its backoff caps at 8s).
type VideoWorker struct {
	Searcher provider.VideoSearcher
	Costs    *CostTracker
	Retry    RetryPolicy
}

// NewVideoWorker creates a video worker with the light retry policy.
func NewVideoWorker(searcher provider.VideoSearcher, costs *CostTracker) *VideoWorker {
	return &VideoWorker{Searcher: searcher, Costs: costs, Retry: LightRetryPolicy()}
}

// ID implements Worker.
func (w *VideoWorker) ID() string { return WorkerYouTube }

// Execute implements Worker.
func (w *VideoWorker) Execute(ctx context.Context, assignment WorkerAssignment, intent EnrichedIntent) ([]Candidate, error) {
	var candidates []Candidate
	var failed []string
	seen := make(map[string]bool)

	for _, query := range assignment.Queries {
		var results []provider.VideoResult
		err := Retry(ctx, w.Retry, func(ctx context.Context) error {
			var err error
			results, err = w.Searcher.SearchVideos(ctx, query, assignment.MaxResults)
			return err
		})
		if w.Costs != nil {
			w.Costs.RecordProviderCall(WorkerYouTube, 1)
		}
		if err != nil {
			if ctx.Err() != nil {
				return candidates, ctx.Err()
			}
			failed = append(failed, fmt.Sprintf("%s: %v", query, err))
			continue
		}
		for _, video := range results {
			if seen[video.VideoID] {
				continue
			}
			seen[video.VideoID] = true
			candidates = append(candidates, videoCandidate(video))
		}
		if assignment.MaxResults > 0 && len(candidates) >= assignment.MaxResults {
			candidates = candidates[:assignment.MaxResults]
			break
		}
	}

	if len(failed) > 0 {
		if len(candidates) == 0 {
			return nil, fmt.Errorf("all queries failed: %s", strings.Join(failed, "; "))
		}
		return candidates, fmt.Errorf("%w: %s", ErrPartialResults, strings.Join(failed, "; "))
	}
	return candidates, nil
}

func videoCandidate(video provider.VideoResult) Candidate {
	summary := video.Description
	if len(summary) > 280 {
		cut := 280
		// Back off to a rune boundary so the cut never splits a multi-byte
		// character.
		for cut > 0 && !utf8.RuneStart(summary[cut]) {
			cut--
		}
		summary = summary[:cut]
	}
	var publishedAt string
	if !video.PublishedAt.IsZero() {
		publishedAt = video.PublishedAt.UTC().Format(time.RFC3339)
	}
	return Candidate{
		Type:    inferTypeFromText(video.Title + " " + video.Description),
		Title:   video.Title,
		Summary: summary,
		Origin:  OriginYouTube,
		Tags:    []string{},
		SourceRefs: []SourceRef{{
			URL:       video.URL,
			Publisher: video.Channel,
			Snippet:   summary,
		}},
		Metadata: &Metadata{
			VideoID:     video.VideoID,
			Channel:     video.Channel,
			ViewCount:   video.ViewCount,
			PublishedAt: publishedAt,
		},
	}
}

// placeType maps provider place types onto the candidate taxonomy.
func placeType(types []string) CandidateType {
	for _, t := range types {
		switch strings.ToLower(t) {
		case "restaurant", "cafe", "bakery", "bar", "food", "meal_takeaway":
			return TypeFood
		case "neighborhood", "sublocality":
			return TypeNeighborhood
		case "amusement_park", "zoo", "aquarium", "hiking_area", "park":
			return TypeActivity
		}
	}
	return TypePlace
}

// inferTypeFromText guesses a candidate type from free text; place is the
// safe default.
func inferTypeFromText(text string) CandidateType {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "restaurant", "food", "eat", "cuisine", "dish", "cafe", "street food"):
		return TypeFood
	case containsAny(lower, "day trip", "daytrip", "excursion"):
		return TypeDaytrip
	case containsAny(lower, "neighborhood", "district", "quarter"):
		return TypeNeighborhood
	case containsAny(lower, "hike", "tour", "climb", "kayak", "surf", "ski", "activity"):
		return TypeActivity
	case containsAny(lower, "experience", "workshop", "class", "ceremony"):
		return TypeExperience
	}
	return TypePlace
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// logScaledViewScore seeds a 0-100 score from a view count:
// 10·log10(views+1), capped at 100.
func logScaledViewScore(views int64) float64 {
	if views <= 0 {
		return 0
	}
	score := 10 * math.Log10(float64(views)+1)
	if score > 100 {
		return 100
	}
	return score
}
