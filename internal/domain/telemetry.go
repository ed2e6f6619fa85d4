package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TelemetryMessage is the wire shape of one push-feed message.
type TelemetryMessage struct {
	ID          string   `json:"id"`
	Lat         *float64 `json:"lat"`
	Long        *float64 `json:"long"`
	Radio       *float64 `json:"radio"`
	Wind        *float64 `json:"wind"`
	Direction   any      `json:"direction"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Name        *string  `json:"name"`
	Withdrawn   bool     `json:"withdrawn"`
}

// ErrMalformedTelemetry marks a push message that cannot become a delta.
var ErrMalformedTelemetry = errors.New("malformed telemetry message")

// ParseTelemetry decodes one push message into a SensorTelemetry delta.
func ParseTelemetry(raw []byte, source string) (Delta, error) {
	var msg TelemetryMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Delta{}, fmt.Errorf("%w: %w", ErrMalformedTelemetry, err)
	}
	return msg.Delta(source)
}

// Delta maps the message onto marker fields. radio becomes payload.frequency
// and wind becomes payload.windSpeed.
func (m TelemetryMessage) Delta(source string) (Delta, error) {
	if m.ID == "" {
		return Delta{}, fmt.Errorf("%w: missing id", ErrMalformedTelemetry)
	}
	d := Delta{ID: m.ID, Kind: string(KindSensorTelemetry), Source: source}
	if m.Withdrawn {
		d.Remove = true
		return d, nil
	}

	switch {
	case m.Lat != nil && m.Long != nil:
		d.Position = &Position{Lat: *m.Lat, Lon: *m.Long}
	case m.Lat != nil || m.Long != nil:
		return Delta{}, fmt.Errorf("%w: %q has only one of lat/long", ErrMalformedTelemetry, m.ID)
	}
	if m.Name != nil {
		d.Label = m.Name
	}

	p := Payload{}
	if m.Radio != nil {
		p["frequency"] = *m.Radio
	}
	if m.Wind != nil {
		p["windSpeed"] = *m.Wind
	}
	if m.Direction != nil {
		p["direction"] = m.Direction
	}
	if m.Temperature != nil {
		p["temperature"] = *m.Temperature
	}
	if m.Humidity != nil {
		p["humidity"] = *m.Humidity
	}
	if len(p) > 0 {
		d.Payload = p
	}
	return d, nil
}
