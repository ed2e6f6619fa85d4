package openmeteo

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/observability"
)

// Lookup is anything that can report conditions for a point.
type Lookup interface {
	Conditions(ctx context.Context, lat, lon float64) (domain.Conditions, error)
}

// CachedLookup memoizes conditions per point for a short TTL. Points are
// rounded to three decimals (about 100 m), well inside one forecast cell.
type CachedLookup struct {
	inner   Lookup
	cache   *expirable.LRU[string, domain.Conditions]
	metrics *observability.Metrics
}

// NewCachedLookup wraps inner with an expiring LRU cache.
func NewCachedLookup(inner Lookup, size int, ttl time.Duration, metrics *observability.Metrics) *CachedLookup {
	return &CachedLookup{
		inner:   inner,
		cache:   expirable.NewLRU[string, domain.Conditions](size, nil, ttl),
		metrics: metrics,
	}
}

func (c *CachedLookup) Conditions(ctx context.Context, lat, lon float64) (domain.Conditions, error) {
	key := fmt.Sprintf("%.3f,%.3f", lat, lon)
	if v, ok := c.cache.Get(key); ok {
		c.metrics.WeatherCache.WithLabelValues("hit").Inc()
		return v, nil
	}
	c.metrics.WeatherCache.WithLabelValues("miss").Inc()

	v, err := c.inner.Conditions(ctx, lat, lon)
	if err != nil {
		return domain.Conditions{}, err
	}
	c.cache.Add(key, v)
	return v, nil
}
