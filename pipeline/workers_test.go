package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/dshills/tripflow-go/pipeline/provider"
)

// flakyWebSearcher fails every query without an entry in good, for
// partial-result scenarios the shared mock's single Err field cannot express.
type flakyWebSearcher struct {
	good map[string][]provider.WebResult
}

func (f *flakyWebSearcher) SearchWeb(ctx context.Context, query string, maxResults int) ([]provider.WebResult, error) {
	if results, ok := f.good[query]; ok {
		return results, nil
	}
	return nil, errors.New("quota exceeded")
}

func testIntent() EnrichedIntent {
	return EnrichedIntent{Session: testSession(), InferredTags: []string{}}
}

func TestWebWorkerDedupesURLs(t *testing.T) {
	guide := provider.WebResult{
		Title:     "Tokyo street food guide",
		URL:       "https://example.com/guide",
		Snippet:   "Where to eat in Tokyo",
		Publisher: "Example Travel",
	}
	mock := &provider.MockWebSearcher{Results: map[string][]provider.WebResult{
		"Tokyo travel guide":    {guide, {Title: "Shibuya at night", URL: "https://example.com/shibuya"}},
		"street food in Tokyo":  {guide},
	}}
	worker := NewWebWorker(mock, nil)

	candidates, err := worker.Execute(context.Background(), WorkerAssignment{
		WorkerID: WorkerWeb,
		Queries:  []string{"Tokyo travel guide", "street food in Tokyo"},
	}, testIntent())
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 2 {
		t.Fatalf("candidates = %d, want 2 after URL dedupe", len(candidates))
	}

	got := candidates[0]
	if got.Title != guide.Title || got.Origin != OriginWeb || got.Type != TypeFood {
		t.Errorf("candidate = %+v", got)
	}
	if len(got.SourceRefs) != 1 || got.SourceRefs[0].Publisher != "Example Travel" {
		t.Errorf("sourceRefs = %+v", got.SourceRefs)
	}
}

func TestWebWorkerPartialFailure(t *testing.T) {
	searcher := &flakyWebSearcher{good: map[string][]provider.WebResult{
		"Tokyo travel guide": {{Title: "Tokyo guide", URL: "https://example.com/guide"}},
	}}
	worker := NewWebWorker(searcher, nil)

	candidates, err := worker.Execute(context.Background(), WorkerAssignment{
		WorkerID: WorkerWeb,
		Queries:  []string{"Tokyo travel guide", "ramen in Tokyo"},
	}, testIntent())
	if !errors.Is(err, ErrPartialResults) {
		t.Fatalf("err = %v, want ErrPartialResults", err)
	}
	if len(candidates) != 1 {
		t.Errorf("candidates = %d, want the successful query's results", len(candidates))
	}
}

func TestWebWorkerAllQueriesFail(t *testing.T) {
	worker := NewWebWorker(&flakyWebSearcher{}, nil)

	candidates, err := worker.Execute(context.Background(), WorkerAssignment{
		WorkerID: WorkerWeb,
		Queries:  []string{"Tokyo travel guide"},
	}, testIntent())
	if err == nil || errors.Is(err, ErrPartialResults) {
		t.Fatalf("err = %v, want a hard failure", err)
	}
	if len(candidates) != 0 {
		t.Errorf("candidates = %d", len(candidates))
	}
}

func TestWebWorkerMaxResults(t *testing.T) {
	mock := &provider.MockWebSearcher{Default: []provider.WebResult{
		{Title: "a", URL: "https://a"},
		{Title: "b", URL: "https://b"},
		{Title: "c", URL: "https://c"},
	}}
	costs := NewCostTracker("run-1")
	worker := NewWebWorker(mock, costs)

	candidates, err := worker.Execute(context.Background(), WorkerAssignment{
		WorkerID:   WorkerWeb,
		Queries:    []string{"q1", "q2"},
		MaxResults: 2,
	}, testIntent())
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 2 {
		t.Errorf("candidates = %d, want capped at 2", len(candidates))
	}
	// The cap short-circuits the second query.
	if mock.CallCount() != 1 {
		t.Errorf("searches = %d, want 1", mock.CallCount())
	}
	if costs.ProviderCalls()[WorkerWeb] != 1 {
		t.Errorf("provider calls = %v", costs.ProviderCalls())
	}
}

func TestPlacesWorkerDetails(t *testing.T) {
	search := provider.PlaceResult{
		PlaceID: "P1",
		Name:    "Tsukiji Outer Market",
		Address: "Tsukiji, Tokyo",
		Lat:     35.6654, Lng: 139.7707,
		Types: []string{"Food", "market"},
	}
	detail := search
	detail.Rating = 4.6
	detail.UserRatings = 18234
	detail.Summary = "Sprawling seafood and street-food market"

	mock := &provider.MockPlaceSearcher{
		Default: []provider.PlaceResult{search},
		Details: map[string]provider.PlaceResult{"P1": detail},
	}
	worker := NewPlacesWorker(mock, nil)

	candidates, err := worker.Execute(context.Background(), WorkerAssignment{
		WorkerID: WorkerPlaces,
		Queries:  []string{"Tokyo things to do"},
	}, testIntent())
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d", len(candidates))
	}

	got := candidates[0]
	if got.Summary != detail.Summary {
		t.Errorf("summary = %q, want the details record used", got.Summary)
	}
	if got.Type != TypeFood {
		t.Errorf("type = %q", got.Type)
	}
	if got.Metadata == nil || got.Metadata.Rating != 4.6 || got.Metadata.PlaceID != "P1" {
		t.Errorf("metadata = %+v", got.Metadata)
	}
	if got.Tags[0] != "food" {
		t.Errorf("tags = %v, want lowercased provider types", got.Tags)
	}
	if !strings.Contains(got.SourceRefs[0].URL, "place_id:P1") {
		t.Errorf("source URL = %q", got.SourceRefs[0].URL)
	}
	if got.Coordinates == nil || got.Coordinates.Lat != 35.6654 {
		t.Errorf("coordinates = %+v", got.Coordinates)
	}
	if len(mock.DetailCalls) != 1 {
		t.Errorf("detail calls = %v", mock.DetailCalls)
	}
}

func TestPlacesWorkerDetailsFallback(t *testing.T) {
	search := provider.PlaceResult{PlaceID: "P2", Name: "Ueno Park", Address: "Ueno, Tokyo"}
	mock := &provider.MockPlaceSearcher{
		Default:    []provider.PlaceResult{search},
		DetailsErr: errors.New("quota exceeded"),
	}
	worker := NewPlacesWorker(mock, nil)

	candidates, err := worker.Execute(context.Background(), WorkerAssignment{
		WorkerID: WorkerPlaces,
		Queries:  []string{"Tokyo things to do"},
	}, testIntent())
	if err != nil {
		t.Fatal(err)
	}
	got := candidates[0]
	if got.Title != "Ueno Park" {
		t.Errorf("title = %q", got.Title)
	}
	// No summary from details: the address stands in.
	if got.Summary != "Ueno, Tokyo" {
		t.Errorf("summary = %q, want the search-level address", got.Summary)
	}
}

func TestPlacesWorkerSkipDetails(t *testing.T) {
	mock := &provider.MockPlaceSearcher{
		Default: []provider.PlaceResult{{PlaceID: "P1", Name: "Senso-ji"}},
		Details: map[string]provider.PlaceResult{"P1": {PlaceID: "P1", Name: "Senso-ji", Summary: "detail"}},
	}
	worker := NewPlacesWorker(mock, nil)
	worker.SkipDetails = true

	candidates, err := worker.Execute(context.Background(), WorkerAssignment{
		WorkerID: WorkerPlaces,
		Queries:  []string{"Tokyo things to do"},
	}, testIntent())
	if err != nil {
		t.Fatal(err)
	}
	if candidates[0].Summary == "detail" || len(mock.DetailCalls) != 0 {
		t.Errorf("details fetched despite SkipDetails: calls %v", mock.DetailCalls)
	}
}

func TestPlacesWorkerDedupesByPlaceID(t *testing.T) {
	shared := provider.PlaceResult{PlaceID: "P1", Name: "Meiji Shrine"}
	mock := &provider.MockPlaceSearcher{
		Results: map[string][]provider.PlaceResult{
			"q1": {shared, {Name: "no id"}},
			"q2": {shared, {PlaceID: "P2", Name: "Yoyogi Park"}},
		},
	}
	worker := NewPlacesWorker(mock, nil)
	worker.SkipDetails = true

	candidates, err := worker.Execute(context.Background(), WorkerAssignment{
		WorkerID: WorkerPlaces,
		Queries:  []string{"q1", "q2"},
	}, testIntent())
	if err != nil {
		t.Fatal(err)
	}
	// The shared place appears once; the record without a place ID is dropped.
	if len(candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(candidates))
	}
}

func TestVideoWorker(t *testing.T) {
	long := strings.Repeat("Tokyo street food tour. ", 20) // well past 280 chars
	published := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	video := provider.VideoResult{
		VideoID:     "v1",
		Title:       "Tokyo street food tour",
		Description: long,
		Channel:     "Travel Channel",
		PublishedAt: published,
		ViewCount:   1_200_000,
		URL:         "https://youtube.com/watch?v=v1",
	}
	mock := &provider.MockVideoSearcher{Results: map[string][]provider.VideoResult{
		"q1": {video},
		"q2": {video},
	}}
	costs := NewCostTracker("run-1")
	worker := NewVideoWorker(mock, costs)

	candidates, err := worker.Execute(context.Background(), WorkerAssignment{
		WorkerID: WorkerYouTube,
		Queries:  []string{"q1", "q2"},
	}, testIntent())
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want video ID dedupe across queries", len(candidates))
	}

	got := candidates[0]
	if len(got.Summary) != 280 {
		t.Errorf("summary length = %d, want truncated to 280", len(got.Summary))
	}
	if got.Origin != OriginYouTube || got.Type != TypeFood {
		t.Errorf("candidate = %+v", got)
	}
	if got.Metadata == nil || got.Metadata.VideoID != "v1" || got.Metadata.ViewCount != 1_200_000 {
		t.Errorf("metadata = %+v", got.Metadata)
	}
	if got.Metadata.PublishedAt != published.Format(time.RFC3339) {
		t.Errorf("publishedAt = %q", got.Metadata.PublishedAt)
	}
	if got.SourceRefs[0].Publisher != "Travel Channel" {
		t.Errorf("sourceRefs = %+v", got.SourceRefs)
	}
	if costs.ProviderCalls()[WorkerYouTube] != 2 {
		t.Errorf("provider calls = %v", costs.ProviderCalls())
	}
}

func TestVideoWorkerSummaryRuneBoundary(t *testing.T) {
	// Byte 280 falls inside a multi-byte character; the truncation must back
	// off to the rune boundary instead of emitting invalid UTF-8.
	description := strings.Repeat("a", 279) + "日本の屋台グルメ"
	mock := &provider.MockVideoSearcher{Default: []provider.VideoResult{{
		VideoID:     "v1",
		Title:       "Tokyo street food tour",
		Description: description,
		URL:         "https://youtube.com/watch?v=v1",
	}}}
	worker := NewVideoWorker(mock, nil)

	candidates, err := worker.Execute(context.Background(), WorkerAssignment{
		WorkerID: WorkerYouTube,
		Queries:  []string{"q"},
	}, testIntent())
	if err != nil {
		t.Fatal(err)
	}

	got := candidates[0].Summary
	if len(got) > 280 {
		t.Errorf("summary length = %d bytes", len(got))
	}
	if !utf8.ValidString(got) {
		t.Errorf("summary is not valid UTF-8: %q", got)
	}
	if got != strings.Repeat("a", 279) {
		t.Errorf("summary = %q, want the cut moved back to the rune boundary", got)
	}
}

func TestPlaceType(t *testing.T) {
	tests := []struct {
		types []string
		want  CandidateType
	}{
		{[]string{"restaurant", "point_of_interest"}, TypeFood},
		{[]string{"Cafe"}, TypeFood},
		{[]string{"neighborhood"}, TypeNeighborhood},
		{[]string{"amusement_park"}, TypeActivity},
		{[]string{"point_of_interest"}, TypePlace},
		{nil, TypePlace},
	}
	for _, tc := range tests {
		if got := placeType(tc.types); got != tc.want {
			t.Errorf("placeType(%v) = %q, want %q", tc.types, got, tc.want)
		}
	}
}

func TestInferTypeFromText(t *testing.T) {
	tests := []struct {
		text string
		want CandidateType
	}{
		{"Best street food stalls", TypeFood},
		{"Day trip to Nikko", TypeDaytrip},
		{"Exploring the Yanaka district", TypeNeighborhood},
		{"Mount Takao hike", TypeActivity},
		{"Tea ceremony workshop", TypeExperience},
		{"Tokyo Tower", TypePlace},
	}
	for _, tc := range tests {
		if got := inferTypeFromText(tc.text); got != tc.want {
			t.Errorf("inferTypeFromText(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestLogScaledViewScore(t *testing.T) {
	if got := logScaledViewScore(0); got != 0 {
		t.Errorf("score(0) = %f", got)
	}
	if got := logScaledViewScore(999); got < 29 || got > 31 {
		t.Errorf("score(999) = %f, want ~30", got)
	}
	if got := logScaledViewScore(1_000_000_000_000); got != 100 {
		t.Errorf("score(1e12) = %f, want capped at 100", got)
	}
}
