// Package sfgov polls the San Francisco dispatched-calls dataset and turns
// recent calls into PoliceCall deltas.
package sfgov

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
)

// Name identifies the source in logs, metrics, and marker Source fields.
const Name = "sfgov"

// Config controls what the source fetches and keeps.
type Config struct {
	URL        string
	Pages      int
	PageSize   int
	Categories []string
	Window     time.Duration
	Timeout    time.Duration
}

// Source implements pipeline.Source for the dispatched-calls feed.
type Source struct {
	cfg        Config
	httpClient *http.Client
	geocoder   domain.Geocoder
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewSource creates an incident source. geocoder may be nil.
func NewSource(cfg Config, geocoder domain.Geocoder, clock clockwork.Clock, logger *slog.Logger) *Source {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Source{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		geocoder:   geocoder,
		clock:      clock,
		logger:     logger.With("source", Name),
	}
}

func (s *Source) Name() string { return Name }

// Poll fetches every page concurrently. Any failed page fails the cycle.
func (s *Source) Poll(ctx context.Context) ([]domain.Delta, error) {
	pages := make([][]domain.IncidentRecord, s.cfg.Pages)

	g, gctx := errgroup.WithContext(ctx)
	for i := range s.cfg.Pages {
		g.Go(func() error {
			records, err := s.fetchPage(gctx, i)
			if err != nil {
				return err
			}
			pages[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &domain.SourceError{Source: Name, Err: err}
	}

	var all []domain.IncidentRecord
	for _, p := range pages {
		all = append(all, p...)
	}

	kept := domain.FilterIncidents(all, domain.IncidentFilter{
		Categories: s.cfg.Categories,
		Window:     s.cfg.Window,
	}, s.clock.Now())
	deltas := dedupe(domain.IncidentDeltas(kept, Name))

	for i := range deltas {
		deltas[i] = domain.EnrichWithGeocoding(ctx, deltas[i], s.geocoder, s.logger)
	}

	s.logger.Debug("incidents fetched", "records", len(all), "kept", len(deltas))
	return deltas, nil
}

func (s *Source) fetchPage(ctx context.Context, page int) ([]domain.IncidentRecord, error) {
	params := url.Values{
		"$offset": {strconv.Itoa(page * s.cfg.PageSize)},
		"$limit":  {strconv.Itoa(s.cfg.PageSize)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("page %d: status %d: %s", page, resp.StatusCode, body)
	}

	var records []domain.IncidentRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("page %d: decode: %w", page, err)
	}
	return records, nil
}

// dedupe keeps the last delta per id. Pages can overlap when the dataset
// grows between page requests.
func dedupe(ds []domain.Delta) []domain.Delta {
	index := make(map[string]int, len(ds))
	out := ds[:0]
	for _, d := range ds {
		if i, ok := index[d.ID]; ok {
			out[i] = d
			continue
		}
		index[d.ID] = len(out)
		out = append(out, d)
	}
	return out
}
