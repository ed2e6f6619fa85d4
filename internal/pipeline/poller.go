package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/observability"
)

// Source is a pull feed. Poll returns the deltas for the feed's current window.
type Source interface {
	Name() string
	Poll(ctx context.Context) ([]domain.Delta, error)
}

// PollerConfig controls the poll schedule.
type PollerConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    clockwork.Clock
}

// Poller runs a Source on a fixed interval and submits each cycle's deltas
// to the broker as one batch.
type Poller struct {
	source   Source
	ingester Ingester
	interval time.Duration
	timeout  time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewPoller creates a Poller. A zero Timeout disables the per-cycle deadline.
func NewPoller(source Source, ingester Ingester, cfg PollerConfig, logger *slog.Logger, metrics *observability.Metrics) *Poller {
	clk := cfg.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Poller{
		source:   source,
		ingester: ingester,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		clock:    clk,
		logger:   logger.With("source", source.Name()),
		metrics:  metrics,
	}
}

// Run polls immediately, then on every interval tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", "interval", p.interval)

	p.PollOnce(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single cycle. A failed or timed-out cycle submits nothing
// and returns nil; the registry keeps its previous state.
func (p *Poller) PollOnce(ctx context.Context) *Receipt {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := p.clock.Now()
	deltas, err := p.source.Poll(ctx)
	p.metrics.PollDuration.WithLabelValues(p.source.Name()).Observe(p.clock.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		var se *domain.SourceError
		if !errors.As(err, &se) {
			err = &domain.SourceError{Source: p.source.Name(), Err: err}
		}
		p.metrics.PollErrors.WithLabelValues(p.source.Name()).Inc()
		p.logger.Warn("poll failed, keeping previous state", "error", err)
		return nil
	}

	p.metrics.PollDeltas.WithLabelValues(p.source.Name()).Add(float64(len(deltas)))
	p.logger.Debug("poll complete", "deltas", len(deltas))
	if len(deltas) == 0 {
		return nil
	}
	for i := range deltas {
		if deltas[i].Source == "" {
			deltas[i].Source = p.source.Name()
		}
	}
	return p.ingester.IngestBatch(deltas)
}
