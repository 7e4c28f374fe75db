// Package address turns free-text input into deliverable addresses via
// the Google Places API and backs the delivery-address checks on order
// creation.
package address

import (
	"context"
	"strings"

	"github.com/tavolahq/tavola-backend/pkg/errors"
	"github.com/tavolahq/tavola-backend/pkg/maps"
	"github.com/tavolahq/tavola-backend/pkg/types"
)

// maxSuggestions caps autocomplete results returned to the storefront.
const maxSuggestions = 5

// Service resolves storefront address input.
type Service interface {
	Suggest(ctx context.Context, req SuggestRequest) ([]Suggestion, error)
	Resolve(ctx context.Context, req ResolveRequest) (types.Address, error)
	Verify(ctx context.Context, addr types.Address) error
}

type SuggestRequest struct {
	Query    string
	Country  string
	Language string
}

type ResolveRequest struct {
	PlaceID string
}

// Suggestion is one autocomplete prediction.
type Suggestion struct {
	PlaceID     string `json:"place_id"`
	Description string `json:"description"`
}

type placesService struct {
	places         *maps.Client
	defaultCountry string
}

// NewService builds the Places-backed address service. country biases
// autocomplete when the caller sends no region; empty means US.
func NewService(places *maps.Client, country string) Service {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		country = "US"
	}
	return &placesService{places: places, defaultCountry: country}
}

func (s *placesService) Suggest(ctx context.Context, req SuggestRequest) ([]Suggestion, error) {
	if s == nil || s.places == nil {
		return nil, errors.New(errors.CodeDependency, "address service unavailable")
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, errors.New(errors.CodeValidation, "query is required")
	}

	country := strings.ToUpper(strings.TrimSpace(req.Country))
	if country == "" {
		country = s.defaultCountry
	}
	autocomplete := maps.AutocompleteRequest{
		Input:               query,
		IncludedRegionCodes: []string{country},
	}
	if lang := strings.TrimSpace(req.Language); lang != "" {
		autocomplete.LanguageCode = lang
	}

	predictions, err := s.places.Autocomplete(ctx, autocomplete)
	if err != nil {
		return nil, err
	}
	if len(predictions) > maxSuggestions {
		predictions = predictions[:maxSuggestions]
	}
	suggestions := make([]Suggestion, 0, len(predictions))
	for _, prediction := range predictions {
		suggestions = append(suggestions, Suggestion{
			PlaceID:     prediction.PlaceID,
			Description: prediction.Description,
		})
	}
	return suggestions, nil
}

func (s *placesService) Resolve(ctx context.Context, req ResolveRequest) (types.Address, error) {
	if s == nil || s.places == nil {
		return types.Address{}, errors.New(errors.CodeDependency, "address service unavailable")
	}
	if strings.TrimSpace(req.PlaceID) == "" {
		return types.Address{}, errors.New(errors.CodeValidation, "place_id is required")
	}

	details, err := s.places.ResolvePlace(ctx, req.PlaceID)
	if err != nil {
		return types.Address{}, err
	}
	return addressFromPlace(details)
}

// Verify confirms an address is structurally complete and known to the
// places index. Called before a courier is quoted or dispatched
// against the address.
func (s *placesService) Verify(ctx context.Context, addr types.Address) error {
	if !addr.Complete() {
		return errors.New(errors.CodeValidation, "Invalid address")
	}
	if s == nil || s.places == nil {
		return nil
	}

	predictions, err := s.places.Autocomplete(ctx, maps.AutocompleteRequest{
		Input: addr.Line1 + ", " + addr.City,
	})
	if err != nil {
		// A places outage must not block checkout; the structural
		// check already passed.
		return nil
	}
	if len(predictions) == 0 {
		return errors.New(errors.CodeValidation, "Invalid address")
	}
	return nil
}

// componentIndex maps a places component type to its first long name.
type componentIndex map[string]string

func indexComponents(details *maps.PlaceDetails) componentIndex {
	index := componentIndex{}
	for _, component := range details.AddressComponents {
		name := strings.TrimSpace(component.LongName)
		if name == "" {
			continue
		}
		for _, kind := range component.Types {
			if _, seen := index[kind]; !seen {
				index[kind] = name
			}
		}
	}
	return index
}

func (c componentIndex) firstOf(kinds ...string) string {
	for _, kind := range kinds {
		if value := c[kind]; value != "" {
			return value
		}
	}
	return ""
}

// countryCode returns the two-letter region code for the place.
// Couriers and payment descriptors take ISO codes, not display names.
func countryCode(details *maps.PlaceDetails) string {
	for _, component := range details.AddressComponents {
		for _, kind := range component.Types {
			if kind == "country" {
				return strings.ToUpper(strings.TrimSpace(component.ShortName))
			}
		}
	}
	return ""
}

// addressFromPlace builds the canonical address from place details.
// Places lacking the fields a courier needs are rejected as invalid
// rather than passed through half-filled.
func addressFromPlace(details *maps.PlaceDetails) (types.Address, error) {
	if details == nil {
		return types.Address{}, errors.New(errors.CodeDependency, "place details missing")
	}
	components := indexComponents(details)

	line1 := strings.TrimSpace(components["street_number"] + " " + components["route"])
	if line1 == "" {
		first, _, _ := strings.Cut(details.FormattedAddress, ",")
		line1 = strings.TrimSpace(first)
	}
	city := components.firstOf("locality", "postal_town", "administrative_area_level_2")
	state := components["administrative_area_level_1"]
	postalCode := components["postal_code"]

	var missing []string
	if line1 == "" {
		missing = append(missing, "line1")
	}
	if city == "" {
		missing = append(missing, "city")
	}
	if state == "" {
		missing = append(missing, "state")
	}
	if postalCode == "" {
		missing = append(missing, "postal_code")
	}
	if details.Location.Latitude == 0 && details.Location.Longitude == 0 {
		missing = append(missing, "location")
	}
	if len(missing) > 0 {
		return types.Address{}, errors.New(errors.CodeValidation, "Invalid address").
			WithDetails(map[string]any{"missing": missing})
	}

	addr := types.Address{
		Line1:      line1,
		City:       city,
		State:      state,
		PostalCode: postalCode,
		Country:    countryCode(details),
		Lat:        details.Location.Latitude,
		Lng:        details.Location.Longitude,
	}
	if sub := components["subpremise"]; sub != "" {
		addr.Line2 = &sub
	}
	if addr.Country == "" {
		addr.Country = "US"
	}
	return addr, nil
}
