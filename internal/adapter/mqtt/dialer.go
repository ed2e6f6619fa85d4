// Package mqtt subscribes to push telemetry published on an MQTT topic.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/pipeline"
)

var errClosed = errors.New("connection closed")

// Config identifies the broker and topic.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	Timeout  time.Duration
	// Buffer is the number of messages held between the paho callback and
	// Read before the oldest is dropped.
	Buffer int
}

// Dialer opens one MQTT session per Dial. Reconnects are left to the caller,
// so paho's own auto-reconnect is off.
type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewDialer creates a Dialer. A broker without a scheme gets tcp://.
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if !strings.Contains(cfg.Broker, "://") {
		cfg.Broker = "tcp://" + cfg.Broker
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Dial implements pipeline.Dialer.
func (d *Dialer) Dial(ctx context.Context) (pipeline.Conn, error) {
	c := &conn{
		msgs: make(chan []byte, d.cfg.Buffer),
		lost: make(chan struct{}),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(d.cfg.Broker)
	opts.SetClientID(d.cfg.ClientID)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(d.cfg.Timeout)
	opts.SetCleanSession(true)
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		d.logger.Warn("mqtt connection lost", "broker", d.cfg.Broker, "error", err)
		c.fail(err)
	}

	c.client = paho.NewClient(opts)
	if err := wait(ctx, c.client.Connect(), d.cfg.Timeout); err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", domain.ErrTransportDisconnected, d.cfg.Broker, err)
	}

	token := c.client.Subscribe(d.cfg.Topic, d.cfg.QoS, func(_ paho.Client, m paho.Message) {
		c.deliver(m.Payload())
	})
	if err := wait(ctx, token, d.cfg.Timeout); err != nil {
		c.client.Disconnect(250)
		return nil, fmt.Errorf("%w: subscribe %s: %w", domain.ErrTransportDisconnected, d.cfg.Topic, err)
	}

	d.logger.Debug("mqtt subscribed", "broker", d.cfg.Broker, "topic", d.cfg.Topic)
	return c, nil
}

func wait(ctx context.Context, t paho.Token, timeout time.Duration) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %s", timeout)
	}
}

type conn struct {
	client paho.Client
	msgs   chan []byte

	mu      sync.Mutex
	lost    chan struct{}
	lostErr error
}

// deliver never blocks the paho router; a full buffer drops the oldest message.
func (c *conn) deliver(payload []byte) {
	b := append([]byte(nil), payload...)
	for {
		select {
		case c.msgs <- b:
			return
		default:
		}
		select {
		case <-c.msgs:
		default:
		}
	}
}

func (c *conn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.lost:
		return
	default:
	}
	c.lostErr = err
	close(c.lost)
}

func (c *conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.msgs:
		return b, nil
	case <-c.lost:
		c.mu.Lock()
		err := c.lostErr
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", domain.ErrTransportDisconnected, err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *conn) Close() error {
	c.fail(errClosed)
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	return nil
}
