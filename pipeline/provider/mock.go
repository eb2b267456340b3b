package provider

import (
	"context"
	"sync"
)

// MockWebSearcher is a test implementation of WebSearcher with configurable
// results, error injection and call recording. Thread-safe.
type MockWebSearcher struct {
	// Results maps query to results. The Default slice serves queries with
	// no entry.
	Results map[string][]WebResult
	Default []WebResult

	// Err, if set, is returned instead of results.
	Err error

	mu      sync.Mutex
	Queries []string
}

// SearchWeb implements WebSearcher.
func (m *MockWebSearcher) SearchWeb(ctx context.Context, query string, maxResults int) ([]WebResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	m.Queries = append(m.Queries, query)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	results, ok := m.Results[query]
	if !ok {
		results = m.Default
	}
	return capWeb(results, maxResults), nil
}

// CallCount returns how many searches have been issued.
func (m *MockWebSearcher) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Queries)
}

func capWeb(results []WebResult, n int) []WebResult {
	if n > 0 && len(results) > n {
		return results[:n]
	}
	return results
}

// MockPlaceSearcher is a test implementation of PlaceSearcher. Thread-safe.
type MockPlaceSearcher struct {
	// Results maps query to places; Default serves unmatched queries.
	Results map[string][]PlaceResult
	Default []PlaceResult

	// Details maps placeID to the full record returned by PlaceDetails.
	Details map[string]PlaceResult

	// Err fails SearchPlaces; DetailsErr fails PlaceDetails.
	Err        error
	DetailsErr error

	mu          sync.Mutex
	Queries     []string
	DetailCalls []string
}

// SearchPlaces implements PlaceSearcher.
func (m *MockPlaceSearcher) SearchPlaces(ctx context.Context, query string, maxResults int) ([]PlaceResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	m.Queries = append(m.Queries, query)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	results, ok := m.Results[query]
	if !ok {
		results = m.Default
	}
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// PlaceDetails implements PlaceSearcher.
func (m *MockPlaceSearcher) PlaceDetails(ctx context.Context, placeID string) (PlaceResult, error) {
	if ctx.Err() != nil {
		return PlaceResult{}, ctx.Err()
	}
	m.mu.Lock()
	m.DetailCalls = append(m.DetailCalls, placeID)
	m.mu.Unlock()
	if m.DetailsErr != nil {
		return PlaceResult{}, m.DetailsErr
	}
	if detail, ok := m.Details[placeID]; ok {
		return detail, nil
	}
	return PlaceResult{}, &ProviderError{Provider: placesProviderName, StatusCode: 404, Message: "place not found"}
}

// MockVideoSearcher is a test implementation of VideoSearcher. Thread-safe.
type MockVideoSearcher struct {
	Results map[string][]VideoResult
	Default []VideoResult
	Err     error

	mu      sync.Mutex
	Queries []string
}

// SearchVideos implements VideoSearcher.
func (m *MockVideoSearcher) SearchVideos(ctx context.Context, query string, maxResults int) ([]VideoResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	m.Queries = append(m.Queries, query)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	results, ok := m.Results[query]
	if !ok {
		results = m.Default
	}
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}
