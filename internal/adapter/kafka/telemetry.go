package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/pipeline"
)

// TelemetryConfig selects the telemetry topic and consumer group.
type TelemetryConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// TelemetryDialer consumes push telemetry from a Kafka topic. Each Dial
// joins the consumer group with a fresh reader, so a failed reader is
// replaced rather than reused.
type TelemetryDialer struct {
	cfg    TelemetryConfig
	logger *slog.Logger
}

// NewTelemetryDialer creates a TelemetryDialer.
func NewTelemetryDialer(cfg TelemetryConfig, logger *slog.Logger) *TelemetryDialer {
	return &TelemetryDialer{cfg: cfg, logger: logger}
}

// Dial implements pipeline.Dialer. kafka-go readers connect lazily, so Dial
// probes the first broker before creating one.
func (d *TelemetryDialer) Dial(ctx context.Context) (pipeline.Conn, error) {
	if len(d.cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: no kafka brokers configured", domain.ErrTransportDisconnected)
	}
	probe, err := kafkago.DialContext(ctx, "tcp", d.cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrTransportDisconnected, d.cfg.Brokers[0], err)
	}
	_ = probe.Close()

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        d.cfg.Brokers,
		Topic:          d.cfg.Topic,
		GroupID:        d.cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: time.Second,
	})
	d.logger.Debug("kafka telemetry reader created", "topic", d.cfg.Topic, "group_id", d.cfg.GroupID)
	return &readerConn{reader: r}, nil
}

// readerConn adapts a kafka-go Reader to pipeline.Conn. The reader commits
// offsets every CommitInterval.
type readerConn struct {
	reader *kafkago.Reader
}

func (c *readerConn) Read(ctx context.Context) ([]byte, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrTransportDisconnected, err)
	}
	return msg.Value, nil
}

func (c *readerConn) Close() error {
	return c.reader.Close()
}
