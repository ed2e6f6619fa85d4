package domain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterIncidents(t *testing.T) {
	now := time.Date(2025, 4, 26, 14, 0, 0, 0, time.UTC)
	point := &IncidentPoint{Type: "Point", Coordinates: []float64{-122.41, 37.77}}
	records := []IncidentRecord{
		{IncidentNumber: "1", CallType: "AUDIBLE ALARM", DispatchDateTime: "2025-04-26T13:45:07.000", Point: point},
		{IncidentNumber: "2", CallType: "TRAFFIC HAZARD", DispatchDateTime: "2025-04-26T02:00:00.000", Point: point},
		{IncidentNumber: "3", CallType: "FIRE", DispatchDateTime: "2025-04-26T02:00:00.001", Point: point},
		{IncidentNumber: "4", CallType: "SUSPICIOUS PERSON", DispatchDateTime: "2025-04-26T13:00:00.000", Point: point},
		{IncidentNumber: "5", CallType: "FIRE", DispatchDateTime: "2025-04-26T13:00:00.000"},
		{IncidentNumber: "6", CallType: "FIRE", DispatchDateTime: "garbage", Point: point},
	}

	got := FilterIncidents(records, IncidentFilter{Categories: DefaultIncidentCategories, Window: 12 * time.Hour}, now)

	ids := make([]string, 0, len(got))
	for _, r := range got {
		ids = append(ids, r.IncidentNumber)
	}
	assert.Equal(t, []string{"1", "3"}, ids, "exactly now-12h is not strictly newer")
}

func TestIncidentDeltas(t *testing.T) {
	records := []IncidentRecord{{
		IncidentNumber:   "251160123",
		CallType:         "AUDIBLE ALARM",
		DispatchDateTime: "2025-04-26T13:45:07.000",
		Point:            &IncidentPoint{Type: "Point", Coordinates: []float64{-122.41, 37.77}},
		IntersectionName: "MARKET ST \\ 5TH ST",
	}, {
		CallType:         "FIRE",
		DispatchDateTime: "2025-04-26T13:45:07.000",
		Point:            &IncidentPoint{Type: "Point", Coordinates: []float64{-122.5, 37.7}},
	}}

	ds := IncidentDeltas(records, "sfgov")

	require.Len(t, ds, 2)
	assert.Equal(t, "police-call-251160123", ds[0].ID)
	assert.Equal(t, string(KindPoliceCall), ds[0].Kind)
	assert.Equal(t, Position{Lat: 37.77, Lon: -122.41}, *ds[0].Position)
	assert.Equal(t, "Police Call", *ds[0].Label)
	assert.Equal(t, "#FFFFFF", *ds[0].Color)
	assert.Equal(t, "AUDIBLE ALARM", ds[0].Payload["issue"])
	assert.Equal(t, "2025-04-26T13:45:07Z", ds[0].Payload["dispatchedAt"])
	assert.Equal(t, "sfgov", ds[0].Source)

	assert.Regexp(t, `^police-call-[0-9a-f]{16}$`, ds[1].ID)
	assert.Equal(t, ds[1].ID, IncidentDeltas(records[1:], "sfgov")[0].ID, "hash id is deterministic")
}

const seismicBody = `#EventID|Time|Latitude|Longitude|Depth/km|Author|Catalog|Contributor|ContributorID|MagType|Magnitude|MagAuthor|EventLocationName
nc75157371|2025-04-26T10:02:11.520|37.6|-122.4|8.1|NC|NC|NC|75157371|md|1.9|NC|3km SE of Daly City, CA
nc75157372|2025-04-26T09:15:00|37.9|-122.1|5|NC|NC|NC|75157372|md|2.4|NC|5km N of Walnut Creek, CA
`

func TestParseSeismicText(t *testing.T) {
	events, errs := ParseSeismicText(seismicBody)

	require.Empty(t, errs)
	require.Len(t, events, 2)
	assert.Equal(t, SeismicEvent{
		Index:         0,
		EventID:       "nc75157371",
		Date:          "2025-04-26",
		Time:          "10:02:11",
		Lat:           37.6,
		Lon:           -122.4,
		Depth:         8.1,
		MagnitudeType: "md",
		Magnitude:     1.9,
		Location:      "3km SE of Daly City, CA",
	}, events[0])
	assert.Equal(t, "09:15:00", events[1].Time)
}

func TestParseSeismicText_MalformedLineKeepsIndices(t *testing.T) {
	body := "#header\nbroken|line\n" + "x|2025-04-26T10:00:00.1|37|-122|1|a|b|c|d|ml|1.0|e|Somewhere\n"

	events, errs := ParseSeismicText(body)

	require.Len(t, errs, 1)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Index)
}

func TestSeismicDeltas(t *testing.T) {
	events, _ := ParseSeismicText(seismicBody)

	byIndex := SeismicDeltas(events, SeismicIDIndex, "usgs")
	byEvent := SeismicDeltas(events, SeismicIDEvent, "usgs")

	assert.Equal(t, "earthquake-0", byIndex[0].ID)
	assert.Equal(t, "earthquake-1", byIndex[1].ID)
	assert.Equal(t, "earthquake-nc75157371", byEvent[0].ID)
	assert.Equal(t, string(KindEarthquake), byIndex[0].Kind)
	assert.Equal(t, 1.9, byIndex[0].Payload["magnitude"])
	assert.Equal(t, "3km SE of Daly City, CA", *byIndex[0].Label)
}

func TestParseSeismicIDMode(t *testing.T) {
	m, err := ParseSeismicIDMode("")
	require.NoError(t, err)
	assert.Equal(t, SeismicIDIndex, m)

	m, err = ParseSeismicIDMode("EVENT")
	require.NoError(t, err)
	assert.Equal(t, SeismicIDEvent, m)

	_, err = ParseSeismicIDMode("random")
	assert.Error(t, err)
}

func TestParseTelemetry(t *testing.T) {
	t.Run("full message", func(t *testing.T) {
		raw := []byte(`{"id":"marker-2","lat":37.8248,"long":-122.37,"radio":900,"wind":15,"direction":"NW","temperature":61.2,"humidity":74}`)

		d, err := ParseTelemetry(raw, "telemetry")

		require.NoError(t, err)
		assert.Equal(t, "marker-2", d.ID)
		assert.Equal(t, string(KindSensorTelemetry), d.Kind)
		assert.Equal(t, Position{Lat: 37.8248, Lon: -122.37}, *d.Position)
		assert.Equal(t, Payload{
			"frequency":   900.0,
			"windSpeed":   15.0,
			"direction":   "NW",
			"temperature": 61.2,
			"humidity":    74.0,
		}, d.Payload)
	})

	t.Run("partial message", func(t *testing.T) {
		d, err := ParseTelemetry([]byte(`{"id":"marker-2","wind":20}`), "telemetry")

		require.NoError(t, err)
		assert.Nil(t, d.Position)
		assert.Equal(t, Payload{"windSpeed": 20.0}, d.Payload)
	})

	t.Run("withdrawn", func(t *testing.T) {
		d, err := ParseTelemetry([]byte(`{"id":"marker-2","withdrawn":true}`), "telemetry")

		require.NoError(t, err)
		assert.True(t, d.Remove)
	})

	for name, raw := range map[string]string{
		"not json":   `{"id":`,
		"missing id": `{"lat":1,"long":2}`,
		"lat only":   `{"id":"x","lat":1}`,
		"wrong type": `{"id":"x","radio":"loud"}`,
		"json array": `[1,2]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTelemetry([]byte(raw), "telemetry")
			assert.ErrorIs(t, err, ErrMalformedTelemetry)
		})
	}
}

type stubGeocoder struct {
	result GeocodingResult
	err    error
	calls  int
}

func (s *stubGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (GeocodingResult, error) {
	s.calls++
	return s.result, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnrichWithGeocoding(t *testing.T) {
	d := Delta{ID: "police-call-1", Position: &Position{Lat: 37.77, Lon: -122.41}, Payload: Payload{"issue": "FIRE"}}

	t.Run("nil geocoder", func(t *testing.T) {
		got := EnrichWithGeocoding(context.Background(), d, nil, discardLogger())
		assert.Equal(t, d, got)
	})

	t.Run("adds address", func(t *testing.T) {
		geo := &stubGeocoder{result: GeocodingResult{FormattedAddress: "5th St, San Francisco, California", PlaceName: "San Francisco"}}

		got := EnrichWithGeocoding(context.Background(), d, geo, discardLogger())

		assert.Equal(t, "5th St, San Francisco, California", got.Payload["address"])
		assert.Equal(t, "San Francisco", got.Payload["place"])
		assert.Equal(t, "FIRE", got.Payload["issue"])
		assert.NotContains(t, d.Payload, "address", "input payload must not be mutated")
	})

	t.Run("failure degrades", func(t *testing.T) {
		geo := &stubGeocoder{err: errors.New("boom")}

		got := EnrichWithGeocoding(context.Background(), d, geo, discardLogger())

		assert.Equal(t, d, got)
		assert.Equal(t, 1, geo.calls)
	})
}

func TestMarkerJSON(t *testing.T) {
	m := Marker{ID: "marker-1", Kind: KindPhoneCall, Position: Position{Lat: 37.8, Lon: -122.4}, Label: "Call #107", Payload: Payload{"transcript": "hi"}}

	b, err := json.Marshal(m)
	require.NoError(t, err)

	assert.Contains(t, string(b), `"kind":"PhoneCall"`)
	assert.Contains(t, string(b), `"position":{"lat":37.8,"lon":-122.4}`)
	assert.NotContains(t, string(b), `"color"`)
}

func TestCelsiusToFahrenheit(t *testing.T) {
	assert.InDelta(t, 212.0, CelsiusToFahrenheit(100), 1e-9)
	assert.InDelta(t, 60.8, CelsiusToFahrenheit(16), 1e-9)
}
