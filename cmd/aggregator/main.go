// Command aggregator runs the live marker aggregation service: pull and push
// source adapters feed one broker, which maintains the marker registry and
// fans changes out to viewers over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	httpadapter "github.com/couchcryptid/marker-aggregation-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/marker-aggregation-service/internal/adapter/kafka"
	"github.com/couchcryptid/marker-aggregation-service/internal/adapter/mapbox"
	mqttadapter "github.com/couchcryptid/marker-aggregation-service/internal/adapter/mqtt"
	"github.com/couchcryptid/marker-aggregation-service/internal/adapter/openmeteo"
	"github.com/couchcryptid/marker-aggregation-service/internal/adapter/postgres"
	"github.com/couchcryptid/marker-aggregation-service/internal/adapter/sfgov"
	"github.com/couchcryptid/marker-aggregation-service/internal/adapter/sqlite"
	"github.com/couchcryptid/marker-aggregation-service/internal/adapter/usgs"
	wsadapter "github.com/couchcryptid/marker-aggregation-service/internal/adapter/websocket"
	"github.com/couchcryptid/marker-aggregation-service/internal/config"
	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/fanout"
	"github.com/couchcryptid/marker-aggregation-service/internal/observability"
	"github.com/couchcryptid/marker-aggregation-service/internal/pipeline"
	"github.com/couchcryptid/marker-aggregation-service/internal/query"
	"github.com/couchcryptid/marker-aggregation-service/internal/registry"
	"github.com/couchcryptid/marker-aggregation-service/internal/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New()

	store, closeStore, err := openSnapshotStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	restored := 0
	if store != nil {
		if restored, err = pipeline.Restore(ctx, store, reg, logger); err != nil {
			return err
		}
	}

	hub := fanout.NewHub(reg, cfg.FanoutBuffer, logger, metrics)
	broker := pipeline.NewBroker(reg, hub, logger, metrics)

	var weather httpadapter.WeatherLookup = openmeteo.NewCachedLookup(
		openmeteo.NewClient(openmeteo.Config{
			WeatherURL:    cfg.WeatherURL,
			AirQualityURL: cfg.AirQualityURL,
			Timeout:       cfg.WeatherTimeout,
		}, metrics, logger),
		cfg.WeatherCacheSize, cfg.WeatherCacheTTL, metrics,
	)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Ready:    broker,
		Queries:  query.NewService(reg),
		Ingester: broker,
		Streamer: hub,
		Weather:  weather,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	// The broker outlives gctx only long enough to apply what is queued.
	g.Go(func() error { return broker.Run(gctx) })

	if cfg.SeedFile != "" && restored == 0 {
		if err := submitSeed(gctx, cfg.SeedFile, broker, logger); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
	}

	for _, p := range pollers(cfg, broker, logger, metrics) {
		g.Go(func() error { return p.Run(gctx) })
	}

	if runner := telemetryRunner(cfg, broker, logger, metrics); runner != nil {
		g.Go(func() error { return runner.Run(gctx) })
	}

	if cfg.KafkaChangelogTopic != "" {
		w := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaChangelogTopic)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		changelog := kafkaadapter.NewChangeLog(w, hub, logger, metrics)
		g.Go(func() error { return changelog.Run(gctx) })
		logger.Info("change log enabled", "topic", cfg.KafkaChangelogTopic)
	}

	var checkpointer *pipeline.Checkpointer
	if store != nil {
		checkpointer = pipeline.NewCheckpointer(store, reg, cfg.SnapshotInterval, nil, logger, metrics)
		g.Go(func() error { return checkpointer.Run(gctx) })
	}

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()

	// The broker may have applied queued deltas after the checkpointer's own
	// final save.
	if checkpointer != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if _, serr := checkpointer.SaveIfChanged(saveCtx); serr != nil {
			logger.Error("final snapshot save failed", "error", serr)
		}
	}
	return err
}

func openSnapshotStore(ctx context.Context, cfg *config.Config) (pipeline.SnapshotStore, func(), error) {
	switch cfg.SnapshotDriver {
	case config.SnapshotSQLite:
		s, err := sqlite.Open(ctx, cfg.SnapshotDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case config.SnapshotPostgres:
		s, err := postgres.Open(ctx, cfg.SnapshotDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot store: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, func() {}, nil
	}
}

func submitSeed(ctx context.Context, path string, broker *pipeline.Broker, logger *slog.Logger) error {
	deltas, err := seed.Load(path)
	if err != nil {
		return err
	}
	outcomes, err := broker.IngestBatch(deltas).Wait(ctx)
	if err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}
	for _, o := range outcomes {
		if o.Err != nil {
			logger.Warn("seed marker rejected", "marker_id", o.ID, "error", o.Err)
		}
	}
	logger.Info("seed markers loaded", "file", path, "markers", len(deltas))
	return nil
}

func pollers(cfg *config.Config, broker *pipeline.Broker, logger *slog.Logger, metrics *observability.Metrics) []*pipeline.Poller {
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, cfg.MapboxCacheTTL, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	var out []*pipeline.Poller
	if cfg.IncidentEnabled {
		src := sfgov.NewSource(sfgov.Config{
			URL:        cfg.IncidentURL,
			Pages:      cfg.IncidentPages,
			PageSize:   cfg.IncidentPageSize,
			Categories: cfg.IncidentCategories,
			Window:     cfg.IncidentWindow,
			Timeout:    cfg.PollTimeout,
		}, geocoder, nil, logger)
		out = append(out, pipeline.NewPoller(src, broker, pipeline.PollerConfig{
			Interval: cfg.IncidentInterval,
			Timeout:  cfg.PollTimeout,
		}, logger, metrics))
	}
	if cfg.SeismicEnabled {
		src := usgs.NewSource(usgs.Config{
			URL:     cfg.SeismicURL,
			Window:  cfg.SeismicWindow,
			MinLat:  cfg.SeismicBBox.MinLat,
			MaxLat:  cfg.SeismicBBox.MaxLat,
			MinLon:  cfg.SeismicBBox.MinLon,
			MaxLon:  cfg.SeismicBBox.MaxLon,
			IDMode:  domain.SeismicIDMode(cfg.SeismicIDMode),
			Timeout: cfg.PollTimeout,
		}, nil, logger)
		out = append(out, pipeline.NewPoller(src, broker, pipeline.PollerConfig{
			Interval: cfg.SeismicInterval,
			Timeout:  cfg.PollTimeout,
		}, logger, metrics))
	}
	return out
}

func telemetryRunner(cfg *config.Config, broker *pipeline.Broker, logger *slog.Logger, metrics *observability.Metrics) *pipeline.TelemetryRunner {
	var dialer pipeline.Dialer
	switch cfg.TelemetryTransport {
	case config.TransportWebSocket:
		dialer = wsadapter.NewDialer(cfg.TelemetryURL, logger)
	case config.TransportMQTT:
		dialer = mqttadapter.NewDialer(mqttadapter.Config{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			ClientID: cfg.MQTTClientID,
		}, logger)
	case config.TransportKafka:
		dialer = kafkaadapter.NewTelemetryDialer(kafkaadapter.TelemetryConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTelemetryTopic,
			GroupID: cfg.KafkaGroupID,
		}, logger)
	default:
		logger.Info("push telemetry disabled")
		return nil
	}
	logger.Info("push telemetry enabled", "transport", cfg.TelemetryTransport)
	return pipeline.NewTelemetryRunner(dialer, broker, pipeline.TelemetryConfig{
		Source:         cfg.TelemetryTransport,
		InitialBackoff: cfg.TelemetryBackoffInitial,
		MaxBackoff:     cfg.TelemetryBackoffMax,
	}, logger, metrics)
}
