package domain

import (
	"context"
	"log/slog"
)

// EnrichWithGeocoding adds address and place payload fields to a delta that
// carries a position. A nil geocoder, a failed lookup, or an empty result
// leaves the delta as it was.
func EnrichWithGeocoding(ctx context.Context, d Delta, geocoder Geocoder, logger *slog.Logger) Delta {
	if geocoder == nil || d.Position == nil || d.Remove {
		return d
	}

	result, err := geocoder.ReverseGeocode(ctx, d.Position.Lat, d.Position.Lon)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"marker_id", d.ID,
			"lat", d.Position.Lat,
			"lon", d.Position.Lon,
			"error", err,
		)
		return d
	}
	if result.FormattedAddress == "" {
		return d
	}

	p := d.Payload.Clone()
	if p == nil {
		p = Payload{}
	}
	p["address"] = result.FormattedAddress
	if result.PlaceName != "" {
		p["place"] = result.PlaceName
	}
	d.Payload = p
	return d
}
