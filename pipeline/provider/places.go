package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/places/v1"
)

// placesProviderName labels errors from the places endpoint.
const placesProviderName = "places"

// Field masks are mandatory on Places API v1 calls; requesting only what
// the pipeline maps keeps the calls in the cheaper SKU tiers.
const (
	searchFieldMask = "places.id,places.displayName,places.formattedAddress," +
		"places.location,places.rating,places.userRatingCount,places.types,places.priceLevel"
	detailsFieldMask = "id,displayName,formattedAddress,location,rating," +
		"userRatingCount,types,priceLevel,editorialSummary"
)

// PlacesClient implements PlaceSearcher over the Google Places API (New).
//
// Example:
//
//	pc, err := provider.NewPlacesClient(ctx, os.Getenv("GOOGLE_API_KEY"))
type PlacesClient struct {
	service *places.Service
}

// NewPlacesClient creates a Places API v1 client.
func NewPlacesClient(ctx context.Context, apiKey string) (*PlacesClient, error) {
	if apiKey == "" {
		return nil, errors.New("places: API key is required")
	}
	service, err := places.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("places: creating service: %w", err)
	}
	return &PlacesClient{service: service}, nil
}

// SearchPlaces implements PlaceSearcher using text search.
func (p *PlacesClient) SearchPlaces(ctx context.Context, query string, maxResults int) ([]PlaceResult, error) {
	if maxResults <= 0 || maxResults > 20 {
		maxResults = 20
	}

	call := p.service.Places.SearchText(&places.GoogleMapsPlacesV1SearchTextRequest{
		TextQuery:      query,
		MaxResultCount: int64(maxResults),
	})
	call.Header().Set("X-Goog-FieldMask", searchFieldMask)

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, wrapGoogleAPIError(placesProviderName, err)
	}

	results := make([]PlaceResult, 0, len(resp.Places))
	for _, place := range resp.Places {
		if place.Id == "" {
			continue
		}
		results = append(results, convertPlace(place))
	}
	return results, nil
}

// PlaceDetails implements PlaceSearcher. The details call adds the
// editorial summary on top of the search fields.
func (p *PlacesClient) PlaceDetails(ctx context.Context, placeID string) (PlaceResult, error) {
	call := p.service.Places.Get("places/" + placeID)
	call.Header().Set("X-Goog-FieldMask", detailsFieldMask)

	place, err := call.Context(ctx).Do()
	if err != nil {
		return PlaceResult{}, wrapGoogleAPIError(placesProviderName, err)
	}
	return convertPlace(place), nil
}

func convertPlace(place *places.GoogleMapsPlacesV1Place) PlaceResult {
	result := PlaceResult{
		PlaceID:     place.Id,
		Address:     place.FormattedAddress,
		Rating:      place.Rating,
		UserRatings: place.UserRatingCount,
		PriceLevel:  place.PriceLevel,
		Types:       place.Types,
	}
	if place.DisplayName != nil {
		result.Name = place.DisplayName.Text
	}
	if place.Location != nil {
		result.Lat = place.Location.Latitude
		result.Lng = place.Location.Longitude
	}
	if place.EditorialSummary != nil {
		result.Summary = place.EditorialSummary.Text
	}
	return result
}
