package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marker_agg"

// Metrics holds the Prometheus counters, histograms, and gauges for the aggregation service.
type Metrics struct {
	// Broker and registry.
	DeltasIngested *prometheus.CounterVec // labels: source
	DeltasRejected *prometheus.CounterVec // labels: source, reason={invalid_geometry,incomplete_create,not_owner,other}
	DeltasNoop     prometheus.Counter
	MarkerChanges  *prometheus.CounterVec // labels: op={create,update,remove}
	MarkersCurrent prometheus.Gauge
	QueueDepth     prometheus.Gauge
	ApplyDuration  prometheus.Histogram
	BrokerRunning  prometheus.Gauge

	// Pull sources.
	PollDuration *prometheus.HistogramVec // labels: source
	PollErrors   *prometheus.CounterVec   // labels: source
	PollDeltas   *prometheus.CounterVec   // labels: source

	// Push telemetry.
	TelemetryConnected   prometheus.Gauge
	TelemetryReconnects  prometheus.Counter
	TelemetryParseErrors prometheus.Counter

	// Fan-out.
	Subscribers      prometheus.Gauge
	SubscriberResync prometheus.Counter

	// Snapshot persistence.
	CheckpointSaves  prometheus.Counter
	CheckpointErrors prometheus.Counter

	// Change log.
	ChangelogRecords *prometheus.CounterVec // labels: outcome={written,error}

	// Weather lookups.
	WeatherRequests *prometheus.CounterVec // labels: outcome={success,error}
	WeatherCache    *prometheus.CounterVec // labels: result={hit,miss}

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={reverse}
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, so
// several tests can each hold their own set.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		DeltasIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_ingested_total",
			Help:      "Deltas accepted into the broker queue, by source.",
		}, []string{"source"}),
		DeltasRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_rejected_total",
			Help:      "Deltas the registry refused, by source and reason.",
		}, []string{"source", "reason"}),
		DeltasNoop: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_noop_total",
			Help:      "Deltas that matched stored state and changed nothing.",
		}),
		MarkerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "marker_changes_total",
			Help:      "Accepted marker changes by operation.",
		}, []string{"op"}),
		MarkersCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "markers",
			Help:      "Markers currently held by the registry.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_queue_depth",
			Help:      "Deltas waiting to be applied.",
		}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_duration_seconds",
			Help:      "Time to apply one delta and publish its change.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		BrokerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_running",
			Help:      "1 when the broker is applying deltas, 0 when shut down.",
		}),
		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of one poll cycle by source.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		PollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Poll cycles that yielded nothing because the upstream failed.",
		}, []string{"source"}),
		PollDeltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_deltas_total",
			Help:      "Deltas produced by poll cycles.",
		}, []string{"source"}),
		TelemetryConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "telemetry_connected",
			Help:      "1 while the push telemetry transport is connected.",
		}),
		TelemetryReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_reconnects_total",
			Help:      "Connection attempts after a telemetry transport failure.",
		}),
		TelemetryParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_parse_errors_total",
			Help:      "Telemetry messages discarded because they could not be parsed.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Live viewer subscriptions.",
		}),
		SubscriberResync: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_resyncs_total",
			Help:      "Full snapshots resent to viewers whose queue overflowed.",
		}),
		CheckpointSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_saves_total",
			Help:      "Snapshots written to the snapshot store.",
		}),
		CheckpointErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_errors_total",
			Help:      "Failed snapshot writes.",
		}),
		ChangelogRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changelog_records_total",
			Help:      "Change log records by write outcome.",
		}, []string{"outcome"}),
		WeatherRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_requests_total",
			Help:      "Weather and air-quality upstream lookups by outcome.",
		}, []string{"outcome"}),
		WeatherCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_cache_total",
			Help:      "Weather cache lookups by result.",
		}, []string{"result"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when geocoding enrichment is enabled, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.DeltasIngested,
		m.DeltasRejected,
		m.DeltasNoop,
		m.MarkerChanges,
		m.MarkersCurrent,
		m.QueueDepth,
		m.ApplyDuration,
		m.BrokerRunning,
		m.PollDuration,
		m.PollErrors,
		m.PollDeltas,
		m.TelemetryConnected,
		m.TelemetryReconnects,
		m.TelemetryParseErrors,
		m.Subscribers,
		m.SubscriberResync,
		m.CheckpointSaves,
		m.CheckpointErrors,
		m.ChangelogRecords,
		m.WeatherRequests,
		m.WeatherCache,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	}
}
