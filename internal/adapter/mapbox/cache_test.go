package mapbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
)

// --- mock for cache tests ---

type countingGeocoder struct {
	calls  int
	result domain.GeocodingResult
	err    error
}

func (m *countingGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.GeocodingResult, error) {
	m.calls++
	return m.result, m.err
}

// --- CachedGeocoder tests ---

func TestCachedGeocoder_CacheHit(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{FormattedAddress: "Market St, San Francisco"}}
	cached := NewCachedGeocoder(inner, 10, 0, testMetrics())

	r1, err := cached.ReverseGeocode(context.Background(), 37.77, -122.41)
	require.NoError(t, err)
	r2, err := cached.ReverseGeocode(context.Background(), 37.77, -122.41)
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Equal(t, 1, inner.calls, "should only call inner once")
}

func TestCachedGeocoder_DifferentCoordsMiss(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{FormattedAddress: "somewhere"}}
	cached := NewCachedGeocoder(inner, 10, 0, testMetrics())

	_, _ = cached.ReverseGeocode(context.Background(), 37.77, -122.41)
	_, _ = cached.ReverseGeocode(context.Background(), 37.78, -122.41)

	assert.Equal(t, 2, inner.calls)
}

func TestCachedGeocoder_EmptyResultNotCached(t *testing.T) {
	inner := &countingGeocoder{}
	cached := NewCachedGeocoder(inner, 10, 0, testMetrics())

	_, _ = cached.ReverseGeocode(context.Background(), 1, 1)
	_, _ = cached.ReverseGeocode(context.Background(), 1, 1)

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 0, cached.Len())
}

func TestCachedGeocoder_ErrorNotCached(t *testing.T) {
	inner := &countingGeocoder{err: errors.New("boom")}
	cached := NewCachedGeocoder(inner, 10, 0, testMetrics())

	_, err := cached.ReverseGeocode(context.Background(), 1, 1)
	require.Error(t, err)
	assert.Equal(t, 0, cached.Len())
}

func TestCachedGeocoder_EvictsOldest(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{FormattedAddress: "x"}}
	cached := NewCachedGeocoder(inner, 2, 0, testMetrics())

	_, _ = cached.ReverseGeocode(context.Background(), 1, 1)
	_, _ = cached.ReverseGeocode(context.Background(), 2, 2)
	_, _ = cached.ReverseGeocode(context.Background(), 3, 3)
	assert.Equal(t, 2, cached.Len())

	_, _ = cached.ReverseGeocode(context.Background(), 1, 1)
	assert.Equal(t, 4, inner.calls, "first entry was evicted")
}

func TestCachedGeocoder_Expires(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{FormattedAddress: "x"}}
	cached := NewCachedGeocoder(inner, 10, 20*time.Millisecond, testMetrics())

	_, _ = cached.ReverseGeocode(context.Background(), 1, 1)
	time.Sleep(60 * time.Millisecond)
	_, _ = cached.ReverseGeocode(context.Background(), 1, 1)

	assert.Equal(t, 2, inner.calls)
}
