package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/trafficlite/trafficlite/internal/model"
)

// DefaultDialTimeout bounds connection setup for a single send
const DefaultDialTimeout = 2 * time.Second

// Client sends telemetry records to a receiver. Each Send opens a new
// connection, writes one record and closes it. There is no retry.
type Client struct {
	addr        string
	codec       *Codec
	dialTimeout time.Duration
	dialer      net.Dialer
}

// NewClient creates a client for the receiver at addr
func NewClient(addr string, codec *Codec, dialTimeout time.Duration) *Client {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &Client{
		addr:        addr,
		codec:       codec,
		dialTimeout: dialTimeout,
	}
}

// Send delivers one record
func (c *Client) Send(ctx context.Context, record model.TelemetryRecord) error {
	payload, err := c.codec.Encode(record)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(c.dialTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("failed to send telemetry to %s: %w", c.addr, err)
	}

	return nil
}
