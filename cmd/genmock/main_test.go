package main

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
)

var refNow = time.Date(2025, 4, 26, 18, 0, 0, 0, time.UTC)

func TestGenerators_AreDeterministic(t *testing.T) {
	a := genIncidents(rand.New(rand.NewPCG(1, 2)), 20, refNow)
	b := genIncidents(rand.New(rand.NewPCG(1, 2)), 20, refNow)
	assert.Equal(t, a, b)

	s1 := genSeismic(rand.New(rand.NewPCG(3, 4)), 5, refNow)
	s2 := genSeismic(rand.New(rand.NewPCG(3, 4)), 5, refNow)
	assert.Equal(t, s1, s2)
}

func TestGenSeismic_ParsesCleanly(t *testing.T) {
	body := genSeismic(rand.New(rand.NewPCG(5, 6)), 8, refNow)
	events, errs := domain.ParseSeismicText(body)
	assert.Empty(t, errs)
	require.Len(t, events, 8)
	for i, ev := range events {
		assert.Equal(t, i, ev.Index)
		assert.GreaterOrEqual(t, ev.Lat, 36.5)
		assert.LessOrEqual(t, ev.Lat, 38.5)
	}
}

func TestGenIncidents_DispatchTimesParse(t *testing.T) {
	for _, rec := range genIncidents(rand.New(rand.NewPCG(7, 8)), 30, refNow) {
		at, err := domain.ParseDispatchTime(rec.DispatchDateTime)
		require.NoError(t, err)
		assert.False(t, at.After(refNow))
		if rec.Point != nil {
			require.Len(t, rec.Point.Coordinates, 2)
		}
	}
}

func TestGenTelemetry_EveryLineParses(t *testing.T) {
	data, err := genTelemetry(rand.New(rand.NewPCG(9, 10)), 2, 3)
	require.NoError(t, err)

	lines := 0
	for _, line := range splitLines(data) {
		d, err := domain.ParseTelemetry(line, "telemetry")
		require.NoError(t, err)
		assert.NotNil(t, d.Position)
		lines++
	}
	assert.Equal(t, 6, lines)
}

func splitLines(b []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, c := range b {
		if c == '\n' {
			out = append(out, b[start:i])
			start = i + 1
		}
	}
	return out
}
