// Package provider holds the narrow external-provider interfaces the
// discovery workers consume: grounded web search, places/POI lookup and
// video-social search. No provider SDK types leak past this package.
package provider

import (
	"context"
	"fmt"
	"time"
)

// WebSearcher is the grounded-knowledge search endpoint.
type WebSearcher interface {
	// SearchWeb runs one query and returns up to maxResults results.
	SearchWeb(ctx context.Context, query string, maxResults int) ([]WebResult, error)
}

// PlaceSearcher is the places/POI endpoint with stable identifiers and
// ratings.
type PlaceSearcher interface {
	// SearchPlaces runs one text query and returns up to maxResults places.
	SearchPlaces(ctx context.Context, query string, maxResults int) ([]PlaceResult, error)

	// PlaceDetails fetches the full record for one place ID. Workers treat
	// a failure here as non-fatal and keep the search-level fields.
	PlaceDetails(ctx context.Context, placeID string) (PlaceResult, error)
}

// VideoSearcher is the video-social endpoint.
type VideoSearcher interface {
	// SearchVideos runs one query and returns up to maxResults videos.
	SearchVideos(ctx context.Context, query string, maxResults int) ([]VideoResult, error)
}

// WebResult is one grounded search hit.
type WebResult struct {
	Title     string
	URL       string
	Snippet   string
	Publisher string
}

// PlaceResult is one POI record.
type PlaceResult struct {
	PlaceID     string
	Name        string
	Address     string
	Lat         float64
	Lng         float64
	Rating      float64
	UserRatings int64
	PriceLevel  string
	Types       []string
	Summary     string
}

// VideoResult is one video hit.
type VideoResult struct {
	VideoID     string
	Title       string
	Description string
	Channel     string
	PublishedAt time.Time
	ViewCount   int64
	URL         string
}

// ProviderError carries the provider name and HTTP status so retry logic
// can classify it without depending on SDK error types.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// HTTPStatus implements the status-code probe used by retry classification.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

// NewRateLimitError builds a 429 ProviderError, the retryable signal for
// throttled providers.
func NewRateLimitError(provider string) *ProviderError {
	return &ProviderError{Provider: provider, StatusCode: 429, Message: "rate limit exceeded"}
}
