// Package websocket connects to the push telemetry feed over a WebSocket.
package websocket

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/pipeline"
)

// maxMessageSize bounds one telemetry frame.
const maxMessageSize = 64 << 10

// Dialer opens WebSocket connections to a fixed URL.
type Dialer struct {
	url    string
	logger *slog.Logger
}

// NewDialer creates a Dialer for url (ws:// or wss://).
func NewDialer(url string, logger *slog.Logger) *Dialer {
	return &Dialer{url: url, logger: logger}
}

// Dial implements pipeline.Dialer.
func (d *Dialer) Dial(ctx context.Context) (pipeline.Conn, error) {
	c, _, err := websocket.Dial(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrTransportDisconnected, d.url, err)
	}
	c.SetReadLimit(maxMessageSize)
	d.logger.Debug("websocket connected", "url", d.url)
	return &conn{c: c}, nil
}

type conn struct {
	c *websocket.Conn
}

// Read returns the next text or binary frame.
func (c *conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.c.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransportDisconnected, err)
	}
	return data, nil
}

func (c *conn) Close() error {
	return c.c.Close(websocket.StatusNormalClosure, "")
}
