package maps

import (
	"strings"

	"github.com/tavolahq/tavola-backend/pkg/types"
)

// Address converts resolved place details into the delivery address
// shape stored on orders.
func (p *PlaceDetails) Address() types.Address {
	if p == nil {
		return types.Address{}
	}

	addr := types.Address{
		Lat: p.Location.Latitude,
		Lng: p.Location.Longitude,
	}

	var streetNumber, route string
	for _, comp := range p.AddressComponents {
		for _, t := range comp.Types {
			switch t {
			case "street_number":
				streetNumber = comp.LongName
			case "route":
				route = comp.LongName
			case "locality", "postal_town":
				addr.City = comp.LongName
			case "administrative_area_level_1":
				addr.State = comp.ShortName
			case "postal_code":
				addr.PostalCode = comp.LongName
			case "country":
				addr.Country = comp.ShortName
			}
		}
	}

	addr.Line1 = strings.TrimSpace(streetNumber + " " + route)
	return addr
}
