package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Telemetry transports.
const (
	TransportNone      = "none"
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
	TransportKafka     = "kafka"
)

// Snapshot store drivers.
const (
	SnapshotNone     = "none"
	SnapshotSQLite   = "sqlite"
	SnapshotPostgres = "postgres"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Incident (police dispatch) feed.
	IncidentEnabled    bool
	IncidentURL        string
	IncidentPages      int
	IncidentPageSize   int
	IncidentInterval   time.Duration
	IncidentWindow     time.Duration
	IncidentCategories []string

	// Seismic feed.
	SeismicEnabled  bool
	SeismicURL      string
	SeismicInterval time.Duration
	SeismicWindow   time.Duration
	SeismicBBox     BBox
	SeismicIDMode   string

	PollTimeout time.Duration

	// Weather and air quality lookups.
	WeatherURL       string
	AirQualityURL    string
	WeatherTimeout   time.Duration
	WeatherCacheSize int
	WeatherCacheTTL  time.Duration

	// Push telemetry.
	TelemetryTransport      string
	TelemetryURL            string
	TelemetryBackoffInitial time.Duration
	TelemetryBackoffMax     time.Duration
	MQTTBroker              string
	MQTTTopic               string
	MQTTClientID            string

	// Kafka, shared by the telemetry reader and the change log.
	KafkaBrokers        []string
	KafkaTelemetryTopic string
	KafkaGroupID        string
	KafkaChangelogTopic string

	FanoutBuffer int
	SeedFile     string

	// Snapshot persistence.
	SnapshotDriver   string
	SnapshotDSN      string
	SnapshotInterval time.Duration

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
	MapboxCacheTTL  time.Duration
}

// BBox is a latitude/longitude bounding box.
type BBox struct {
	MinLat, MaxLat, MinLon, MaxLon float64
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		IncidentEnabled:    p.bool("INCIDENT_ENABLED", true),
		IncidentURL:        sharedcfg.EnvOrDefault("INCIDENT_URL", "https://data.sfgov.org/resource/gnap-fj3t.json"),
		IncidentPages:      p.positiveInt("INCIDENT_PAGES", 5),
		IncidentPageSize:   p.positiveInt("INCIDENT_PAGE_SIZE", 1000),
		IncidentInterval:   p.duration("INCIDENT_INTERVAL", "1m"),
		IncidentWindow:     p.duration("INCIDENT_WINDOW", "12h"),
		IncidentCategories: parseList(sharedcfg.EnvOrDefault("INCIDENT_CATEGORIES", "AUDIBLE ALARM,TRAFFIC HAZARD,FIRE")),

		SeismicEnabled:  p.bool("SEISMIC_ENABLED", true),
		SeismicURL:      sharedcfg.EnvOrDefault("SEISMIC_URL", "https://earthquake.usgs.gov/fdsnws/event/1/query"),
		SeismicInterval: p.duration("SEISMIC_INTERVAL", "5m"),
		SeismicWindow:   p.duration("SEISMIC_WINDOW", "24h"),
		SeismicBBox:     p.bbox("SEISMIC_BBOX", "36.5,38.5,-123.5,-121.5"),
		SeismicIDMode:   strings.ToLower(sharedcfg.EnvOrDefault("SEISMIC_ID_MODE", "index")),

		PollTimeout: p.duration("POLL_TIMEOUT", "10s"),

		WeatherURL:       sharedcfg.EnvOrDefault("WEATHER_URL", "https://api.open-meteo.com/v1/forecast"),
		AirQualityURL:    sharedcfg.EnvOrDefault("AIR_QUALITY_URL", "https://air-quality-api.open-meteo.com/v1/air-quality"),
		WeatherTimeout:   p.duration("WEATHER_TIMEOUT", "5s"),
		WeatherCacheSize: p.positiveInt("WEATHER_CACHE_SIZE", 256),
		WeatherCacheTTL:  p.duration("WEATHER_CACHE_TTL", "5m"),

		TelemetryURL:            os.Getenv("TELEMETRY_URL"),
		TelemetryBackoffInitial: p.duration("TELEMETRY_BACKOFF_INITIAL", "500ms"),
		TelemetryBackoffMax:     p.duration("TELEMETRY_BACKOFF_MAX", "30s"),
		MQTTBroker:              os.Getenv("MQTT_BROKER"),
		MQTTTopic:               sharedcfg.EnvOrDefault("MQTT_TOPIC", "sensors/telemetry"),
		MQTTClientID:            sharedcfg.EnvOrDefault("MQTT_CLIENT_ID", "marker-aggregation"),

		KafkaBrokers:        sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTelemetryTopic: sharedcfg.EnvOrDefault("KAFKA_TELEMETRY_TOPIC", "sensor-telemetry"),
		KafkaGroupID:        sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "marker-aggregation"),
		KafkaChangelogTopic: os.Getenv("KAFKA_CHANGELOG_TOPIC"),

		FanoutBuffer: p.positiveInt("FANOUT_BUFFER", 256),
		SeedFile:     os.Getenv("SEED_FILE"),

		SnapshotDriver:   strings.ToLower(sharedcfg.EnvOrDefault("SNAPSHOT_DRIVER", SnapshotNone)),
		SnapshotDSN:      os.Getenv("SNAPSHOT_DSN"),
		SnapshotInterval: p.duration("SNAPSHOT_INTERVAL", "30s"),

		MapboxToken:     os.Getenv("MAPBOX_TOKEN"),
		MapboxTimeout:   p.duration("MAPBOX_TIMEOUT", "5s"),
		MapboxCacheSize: parseMapboxCacheSize(),
		MapboxCacheTTL:  p.duration("MAPBOX_CACHE_TTL", "24h"),
	}
	if p.err != nil {
		return nil, p.err
	}

	cfg.TelemetryTransport = resolveTransport(cfg)
	cfg.MapboxEnabled = cfg.MapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		cfg.MapboxEnabled = v == "true"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveTransport picks the telemetry transport. An explicit
// TELEMETRY_TRANSPORT wins; otherwise a TELEMETRY_URL implies websocket and
// an MQTT_BROKER implies mqtt.
func resolveTransport(cfg *Config) string {
	if v := os.Getenv("TELEMETRY_TRANSPORT"); v != "" {
		return strings.ToLower(v)
	}
	switch {
	case cfg.TelemetryURL != "":
		return TransportWebSocket
	case cfg.MQTTBroker != "":
		return TransportMQTT
	default:
		return TransportNone
	}
}

func (c *Config) validate() error {
	switch c.TelemetryTransport {
	case TransportNone:
	case TransportWebSocket:
		if c.TelemetryURL == "" {
			return errors.New("TELEMETRY_TRANSPORT is websocket but TELEMETRY_URL is not set")
		}
	case TransportMQTT:
		if c.MQTTBroker == "" {
			return errors.New("TELEMETRY_TRANSPORT is mqtt but MQTT_BROKER is not set")
		}
	case TransportKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required for kafka telemetry")
		}
		if c.KafkaTelemetryTopic == "" {
			return errors.New("KAFKA_TELEMETRY_TOPIC is required for kafka telemetry")
		}
	default:
		return fmt.Errorf("invalid TELEMETRY_TRANSPORT %q", c.TelemetryTransport)
	}

	if c.TelemetryBackoffMax < c.TelemetryBackoffInitial {
		return errors.New("TELEMETRY_BACKOFF_MAX must not be less than TELEMETRY_BACKOFF_INITIAL")
	}
	if c.KafkaChangelogTopic != "" && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when KAFKA_CHANGELOG_TOPIC is set")
	}

	switch c.SeismicIDMode {
	case "index", "event":
	default:
		return fmt.Errorf("invalid SEISMIC_ID_MODE %q", c.SeismicIDMode)
	}

	switch c.SnapshotDriver {
	case SnapshotNone:
	case SnapshotSQLite, SnapshotPostgres:
		if c.SnapshotDSN == "" {
			return fmt.Errorf("SNAPSHOT_DRIVER is %s but SNAPSHOT_DSN is not set", c.SnapshotDriver)
		}
	default:
		return fmt.Errorf("invalid SNAPSHOT_DRIVER %q", c.SnapshotDriver)
	}

	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	return nil
}

// parser collects the first parse error so Load can report it by variable name.
type parser struct {
	err error
}

func (p *parser) fail(key string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s", key)
	}
}

func (p *parser) duration(key, def string) time.Duration {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		p.fail(key)
		return 0
	}
	return d
}

func (p *parser) positiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		p.fail(key)
		return 0
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(key)
		return def
	}
	return b
}

func (p *parser) bbox(key, def string) BBox {
	parts := strings.Split(sharedcfg.EnvOrDefault(key, def), ",")
	if len(parts) != 4 {
		p.fail(key)
		return BBox{}
	}
	var v [4]float64
	for i, s := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			p.fail(key)
			return BBox{}
		}
		v[i] = f
	}
	b := BBox{MinLat: v[0], MaxLat: v[1], MinLon: v[2], MaxLon: v[3]}
	if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon || b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180 {
		p.fail(key)
		return BBox{}
	}
	return b
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
