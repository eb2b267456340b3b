package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// webProviderName labels errors from the web-knowledge endpoint.
const webProviderName = "web_knowledge"

// customSearchMax is the API's per-request result ceiling.
const customSearchMax = 10

// WebSearch implements WebSearcher over the Google Programmable Search
// (Custom Search JSON) API.
//
// Example:
//
//	ws, err := provider.NewWebSearch(ctx,
//	    os.Getenv("GOOGLE_API_KEY"), os.Getenv("GOOGLE_CSE_ID"))
type WebSearch struct {
	service  *customsearch.Service
	engineID string
}

// NewWebSearch creates a client for one programmable search engine.
func NewWebSearch(ctx context.Context, apiKey, engineID string) (*WebSearch, error) {
	if apiKey == "" {
		return nil, errors.New("web search: API key is required")
	}
	if engineID == "" {
		return nil, errors.New("web search: search engine ID is required")
	}
	service, err := customsearch.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("web search: creating service: %w", err)
	}
	return &WebSearch{service: service, engineID: engineID}, nil
}

// SearchWeb implements WebSearcher.
func (w *WebSearch) SearchWeb(ctx context.Context, query string, maxResults int) ([]WebResult, error) {
	if maxResults <= 0 || maxResults > customSearchMax {
		maxResults = customSearchMax
	}

	resp, err := w.service.Cse.List().
		Q(query).
		Cx(w.engineID).
		Num(int64(maxResults)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapGoogleAPIError(webProviderName, err)
	}

	results := make([]WebResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Link == "" {
			continue
		}
		results = append(results, WebResult{
			Title:     item.Title,
			URL:       item.Link,
			Snippet:   item.Snippet,
			Publisher: item.DisplayLink,
		})
	}
	return results, nil
}

// wrapGoogleAPIError converts a googleapi error into a ProviderError so the
// retry layer can read its HTTP status.
func wrapGoogleAPIError(provider string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   provider,
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Cause:      err,
		}
	}
	return &ProviderError{Provider: provider, Message: err.Error(), Cause: err}
}
