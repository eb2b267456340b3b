package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// youtubeProviderName labels errors from the video-social endpoint.
const youtubeProviderName = "youtube"

// YouTubeClient implements VideoSearcher over the YouTube Data API v3.
//
// Search results carry no statistics, so a second videos.list call fills in
// view counts; its failure is tolerated and leaves counts at zero.
//
// Example:
//
//	yc, err := provider.NewYouTubeClient(ctx, os.Getenv("YOUTUBE_API_KEY"))
type YouTubeClient struct {
	service *youtube.Service
}

// NewYouTubeClient creates a YouTube Data API client.
func NewYouTubeClient(ctx context.Context, apiKey string) (*YouTubeClient, error) {
	if apiKey == "" {
		return nil, errors.New("youtube: API key is required")
	}
	service, err := youtube.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("youtube: creating service: %w", err)
	}
	return &YouTubeClient{service: service}, nil
}

// SearchVideos implements VideoSearcher.
func (y *YouTubeClient) SearchVideos(ctx context.Context, query string, maxResults int) ([]VideoResult, error) {
	if maxResults <= 0 || maxResults > 50 {
		maxResults = 25
	}

	resp, err := y.service.Search.List([]string{"snippet"}).
		Q(query).
		Type("video").
		MaxResults(int64(maxResults)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapGoogleAPIError(youtubeProviderName, err)
	}

	results := make([]VideoResult, 0, len(resp.Items))
	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.VideoId == "" || item.Snippet == nil {
			continue
		}
		publishedAt, _ := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
		results = append(results, VideoResult{
			VideoID:     item.Id.VideoId,
			Title:       item.Snippet.Title,
			Description: item.Snippet.Description,
			Channel:     item.Snippet.ChannelTitle,
			PublishedAt: publishedAt,
			URL:         "https://www.youtube.com/watch?v=" + item.Id.VideoId,
		})
		ids = append(ids, item.Id.VideoId)
	}

	y.fillViewCounts(ctx, ids, results)
	return results, nil
}

// fillViewCounts annotates results with statistics; failures leave view
// counts at zero rather than failing the search.
func (y *YouTubeClient) fillViewCounts(ctx context.Context, ids []string, results []VideoResult) {
	if len(ids) == 0 {
		return
	}
	resp, err := y.service.Videos.List([]string{"statistics"}).
		Id(strings.Join(ids, ",")).
		Context(ctx).
		Do()
	if err != nil {
		return
	}
	counts := make(map[string]int64, len(resp.Items))
	for _, item := range resp.Items {
		if item.Statistics != nil {
			counts[item.Id] = int64(item.Statistics.ViewCount) // #nosec G115 -- view counts fit in int64
		}
	}
	for i := range results {
		results[i].ViewCount = counts[results[i].VideoID]
	}
}
