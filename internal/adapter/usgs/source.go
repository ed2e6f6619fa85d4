// Package usgs polls the USGS FDSN event service for earthquakes inside a
// bounding box.
package usgs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
)

// Name identifies the source in logs, metrics, and marker Source fields.
const Name = "usgs"

// fdsnTime is the zone-less UTC layout the event service accepts.
const fdsnTime = "2006-01-02T15:04:05"

// Config controls the query window and identity mode.
type Config struct {
	URL     string
	Window  time.Duration
	MinLat  float64
	MaxLat  float64
	MinLon  float64
	MaxLon  float64
	IDMode  domain.SeismicIDMode
	Timeout time.Duration
}

// Source implements pipeline.Source for the seismic feed.
type Source struct {
	cfg        Config
	httpClient *http.Client
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewSource creates a seismic source.
func NewSource(cfg Config, clock clockwork.Clock, logger *slog.Logger) *Source {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.IDMode == "" {
		cfg.IDMode = domain.SeismicIDIndex
	}
	return &Source{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		clock:      clock,
		logger:     logger.With("source", Name),
	}
}

func (s *Source) Name() string { return Name }

// Poll fetches events in [now-Window, now]. Malformed lines are logged and
// skipped; only a failed request fails the cycle.
func (s *Source) Poll(ctx context.Context) ([]domain.Delta, error) {
	body, err := s.fetch(ctx)
	if err != nil {
		return nil, &domain.SourceError{Source: Name, Err: err}
	}

	events, errs := domain.ParseSeismicText(body)
	if len(errs) > 0 {
		s.logger.Warn("skipped malformed seismic lines", "count", len(errs), "error", errors.Join(errs...))
	}
	return domain.SeismicDeltas(events, s.cfg.IDMode, Name), nil
}

func (s *Source) queryURL() string {
	end := s.clock.Now().UTC()
	start := end.Add(-s.cfg.Window)
	params := url.Values{
		"format":       {"text"},
		"starttime":    {start.Format(fdsnTime)},
		"endtime":      {end.Format(fdsnTime)},
		"minlatitude":  {formatCoord(s.cfg.MinLat)},
		"maxlatitude":  {formatCoord(s.cfg.MaxLat)},
		"minlongitude": {formatCoord(s.cfg.MinLon)},
		"maxlongitude": {formatCoord(s.cfg.MaxLon)},
	}
	return s.cfg.URL + "?" + params.Encode()
}

func (s *Source) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.queryURL(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("seismic request: %w", err)
	}
	defer resp.Body.Close()

	// The service answers 204 when the window holds no events.
	if resp.StatusCode == http.StatusNoContent {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(b), nil
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
