package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/fanout"
	"github.com/couchcryptid/marker-aggregation-service/internal/pipeline"
)

// Queries answers viewer reads.
type Queries interface {
	AllMarkers() []domain.Marker
	MarkerAt(index int) (domain.Marker, bool)
	MarkerByID(id string) (domain.Marker, bool)
	MarkersAsContext() ([]byte, error)
}

// Streamer hands out live subscriptions.
type Streamer interface {
	Subscribe() *fanout.Subscription
	Unsubscribe(sub *fanout.Subscription)
}

// WeatherLookup reports current conditions for a point.
type WeatherLookup interface {
	Conditions(ctx context.Context, lat, lon float64) (domain.Conditions, error)
}

// Deps are the collaborators behind the routes. Weather may be nil, which
// disables /v1/weather.
type Deps struct {
	Ready    sharedobs.ReadinessChecker
	Queries  Queries
	Ingester pipeline.Ingester
	Streamer Streamer
	Weather  WeatherLookup

	// ApplyTimeout bounds how long POST /v1/deltas waits for the broker.
	// Zero means 10s.
	ApplyTimeout time.Duration
}

// Server exposes the viewer API plus health, readiness, and metrics routes.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger

	keepAlive    time.Duration
	applyTimeout time.Duration
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps:         deps,
		logger:       logger,
		keepAlive:    15 * time.Second,
		applyTimeout: 10 * time.Second,
	}
	if deps.ApplyTimeout > 0 {
		s.applyTimeout = deps.ApplyTimeout
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(deps.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /v1/markers", gzhttp.GzipHandler(http.HandlerFunc(s.handleMarkers)))
	mux.HandleFunc("GET /v1/markers/{index}", s.handleMarkerAt)
	mux.HandleFunc("GET /v1/markers/id/{id}", s.handleMarkerByID)
	mux.HandleFunc("GET /v1/markers/stream", s.handleStream)
	mux.Handle("GET /v1/context", gzhttp.GzipHandler(http.HandlerFunc(s.handleContext)))
	mux.HandleFunc("GET /v1/weather", s.handleWeather)
	mux.HandleFunc("POST /v1/deltas", s.handleDeltas)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
