package seed_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/seed"
)

func TestLoad_BundledSeed(t *testing.T) {
	deltas, err := seed.Load("../../config/seed.yaml")
	require.NoError(t, err)
	require.Len(t, deltas, 3)

	assert.Equal(t, "marker-1", deltas[0].ID)
	assert.Equal(t, domain.KindPhoneCall, domain.ParseKind(deltas[0].Kind))
	assert.Equal(t, "Call #107", *deltas[0].Label)
	assert.Equal(t, "hi", deltas[0].Payload["transcript"])

	assert.Equal(t, domain.KindSensorTelemetry, domain.ParseKind(deltas[1].Kind))
	assert.Equal(t, domain.Position{Lat: 37.8248, Lon: -122.37}, *deltas[1].Position)
	assert.Equal(t, domain.KindSensorTelemetry, domain.ParseKind(deltas[2].Kind))

	for _, d := range deltas {
		assert.Equal(t, seed.Source, d.Source)
		assert.Equal(t, "#FFFFFF", *d.Color)
	}
}

func TestParse_CreatesMarkers(t *testing.T) {
	deltas, err := seed.Parse(strings.NewReader(`
markers:
  - id: s1
    kind: sensor
    position: {lat: 1, lon: 2}
    payload: {frequency: 900}
`))
	require.NoError(t, err)
	require.Len(t, deltas, 1)

	m, _, err := domain.Create(deltas[0], 0, domain.Now())
	require.NoError(t, err)
	assert.Equal(t, "s1", m.Label)
	assert.Equal(t, 900.0, m.Payload["frequency"])
}

func TestParse_Empty(t *testing.T) {
	deltas, err := seed.Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, deltas)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing id", "markers:\n  - kind: sensor\n    position: {lat: 1, lon: 2}\n", "missing id"},
		{"missing kind", "markers:\n  - id: a\n    position: {lat: 1, lon: 2}\n", "missing kind"},
		{"missing position", "markers:\n  - id: a\n    kind: sensor\n", "missing position"},
		{"bad geometry", "markers:\n  - id: a\n    kind: sensor\n    position: {lat: 91, lon: 2}\n", "a"},
		{"duplicate", "markers:\n  - id: a\n    kind: sensor\n    position: {lat: 1, lon: 2}\n  - id: a\n    kind: sensor\n    position: {lat: 1, lon: 2}\n", "duplicate id"},
		{"unknown key", "markers:\n  - id: a\n    kind: sensor\n    lat: 1\n", "decode seed"},
		{"remove", "markers:\n  - id: a\n    kind: sensor\n    position: {lat: 1, lon: 2}\n    remove: true\n", "remove"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := seed.Parse(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
