package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/observability"
)

// Conn is one live connection to a push feed.
type Conn interface {
	// Read blocks until the next message arrives. Any error ends the connection.
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens connections to a push feed.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// ConnState is the telemetry connection state.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connected
)

func (s ConnState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// TelemetryConfig bounds the reconnect backoff.
type TelemetryConfig struct {
	Source         string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Clock          clockwork.Clock
}

// TelemetryRunner keeps one push connection open, turns each message into a
// delta, and reconnects with exponential backoff when the transport fails.
type TelemetryRunner struct {
	dialer   Dialer
	ingester Ingester
	cfg      TelemetryConfig
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	state    atomic.Int32
}

// NewTelemetryRunner creates a runner in the Disconnected state.
func NewTelemetryRunner(dialer Dialer, ingester Ingester, cfg TelemetryConfig, logger *slog.Logger, metrics *observability.Metrics) *TelemetryRunner {
	if cfg.Source == "" {
		cfg.Source = "telemetry"
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &TelemetryRunner{
		dialer:   dialer,
		ingester: ingester,
		cfg:      cfg,
		clock:    clk,
		logger:   logger.With("source", cfg.Source),
		metrics:  metrics,
	}
}

// State reports whether the transport is currently connected.
func (r *TelemetryRunner) State() ConnState {
	return ConnState(r.state.Load())
}

func (r *TelemetryRunner) setState(s ConnState) {
	r.state.Store(int32(s))
	if s == Connected {
		r.metrics.TelemetryConnected.Set(1)
	} else {
		r.metrics.TelemetryConnected.Set(0)
	}
}

func (r *TelemetryRunner) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Clock = r.clock
	b.Reset()
	return b
}

// Run connects and consumes until ctx is cancelled. Transport failures never
// end Run; they move the runner to Disconnected and schedule a reconnect.
func (r *TelemetryRunner) Run(ctx context.Context) error {
	r.logger.Info("telemetry runner started")
	b := r.newBackOff()
	defer r.setState(Disconnected)

	for {
		conn, err := r.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := b.NextBackOff()
			r.logger.Warn("telemetry connect failed",
				"error", fmt.Errorf("%w: %w", domain.ErrTransportDisconnected, err),
				"retry_in", wait,
			)
			r.metrics.TelemetryReconnects.Inc()
			if !r.sleep(ctx, wait) {
				return nil
			}
			continue
		}

		r.setState(Connected)
		b.Reset()
		r.logger.Info("telemetry connected")

		err = r.consume(ctx, conn)
		if cerr := conn.Close(); cerr != nil {
			r.logger.Debug("telemetry close failed", "error", cerr)
		}
		r.setState(Disconnected)

		if ctx.Err() != nil {
			r.logger.Info("telemetry runner stopping", "reason", ctx.Err())
			return nil
		}

		wait := b.NextBackOff()
		r.logger.Warn("telemetry disconnected",
			"error", fmt.Errorf("%w: %w", domain.ErrTransportDisconnected, err),
			"retry_in", wait,
		)
		r.metrics.TelemetryReconnects.Inc()
		if !r.sleep(ctx, wait) {
			return nil
		}
	}
}

// consume reads until the connection fails. Unparseable messages are dropped
// one at a time.
func (r *TelemetryRunner) consume(ctx context.Context, conn Conn) error {
	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		d, err := domain.ParseTelemetry(raw, r.cfg.Source)
		if err != nil {
			r.metrics.TelemetryParseErrors.Inc()
			r.logger.Warn("telemetry message discarded", "error", err, "size", len(raw))
			continue
		}
		r.ingester.Ingest(d)
	}
}

func (r *TelemetryRunner) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-r.clock.After(d):
		return true
	}
}
