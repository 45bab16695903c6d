package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trafficlite/trafficlite/internal/model"
)

// Receiver defaults
const (
	DefaultAcceptTimeout   = time.Second
	DefaultReadTimeout     = 2 * time.Second
	DefaultMaxPayloadBytes = 1024
)

// Handler is invoked once per successfully decoded record
type Handler interface {
	HandleTelemetry(ctx context.Context, record model.TelemetryRecord) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, record model.TelemetryRecord) error

func (f HandlerFunc) HandleTelemetry(ctx context.Context, record model.TelemetryRecord) error {
	return f(ctx, record)
}

// ReceiverConfig configures the listening side of the transport
type ReceiverConfig struct {
	Address         string
	AcceptTimeout   time.Duration
	ReadTimeout     time.Duration
	MaxPayloadBytes int
}

// ReceiverStats counts connection outcomes
type ReceiverStats struct {
	Accepted int64 `json:"accepted"`
	Handled  int64 `json:"handled"`
	Failed   int64 `json:"failed"`
	Open     int64 `json:"open"`
}

// Receiver accepts telemetry connections and hands decoded records to a
// Handler. Accept uses a short deadline so a cancelled context is observed
// within one AcceptTimeout.
type Receiver struct {
	cfg     ReceiverConfig
	codec   *Codec
	handler Handler
	logger  *slog.Logger

	mu       sync.Mutex
	listener *net.TCPListener
	running  bool

	accepted atomic.Int64
	handled  atomic.Int64
	failed   atomic.Int64
	open     atomic.Int64
}

// NewReceiver creates a receiver; call Listen then Serve, or Run
func NewReceiver(cfg ReceiverConfig, codec *Codec, handler Handler, logger *slog.Logger) *Receiver {
	if cfg.AcceptTimeout <= 0 {
		cfg.AcceptTimeout = DefaultAcceptTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		cfg:     cfg,
		codec:   codec,
		handler: handler,
		logger:  logger.With("component", "receiver"),
	}
}

// Listen binds the configured address
func (r *Receiver) Listen() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listener != nil {
		return errors.New("receiver already listening")
	}

	ln, err := net.Listen("tcp", r.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", r.cfg.Address, err)
	}
	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return fmt.Errorf("unexpected listener type %T", ln)
	}
	r.listener = tcp

	r.logger.Info("receiver listening", "addr", tcp.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Run binds and serves until ctx is cancelled. A bind failure is returned
// immediately.
func (r *Receiver) Run(ctx context.Context) error {
	if err := r.Listen(); err != nil {
		return err
	}
	return r.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled, then closes the
// listener. It returns nil on a normal shutdown.
func (r *Receiver) Serve(ctx context.Context) error {
	r.mu.Lock()
	ln := r.listener
	if ln == nil {
		r.mu.Unlock()
		return errors.New("receiver is not listening")
	}
	if r.running {
		r.mu.Unlock()
		return errors.New("receiver already running")
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		ln.Close()
		r.mu.Lock()
		r.listener = nil
		r.running = false
		r.mu.Unlock()
		r.logger.Info("receiver stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := ln.SetDeadline(time.Now().Add(r.cfg.AcceptTimeout)); err != nil {
			return fmt.Errorf("failed to set accept deadline: %w", err)
		}

		conn, err := ln.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Warn("accept failed", "error", err)
			continue
		}

		r.accepted.Add(1)
		r.handleConn(ctx, conn)
	}
}

// handleConn decodes a single record as soon as it is complete and always
// closes the connection. The sender does not need to close its side.
func (r *Receiver) handleConn(ctx context.Context, conn net.Conn) {
	r.open.Add(1)
	defer func() {
		conn.Close()
		r.open.Add(-1)
	}()

	remote := conn.RemoteAddr().String()

	if err := conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout)); err != nil {
		r.fail("failed to set read deadline", remote, err)
		return
	}

	// Unblock a pending read on shutdown
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	record, err := r.codec.DecodeFrom(io.LimitReader(conn, int64(r.cfg.MaxPayloadBytes)))
	if err != nil {
		r.fail("failed to decode telemetry", remote, err)
		return
	}

	r.logger.Info("telemetry received",
		"intersection", record.Intersection,
		"vehicles", record.VehicleCount,
	)

	if err := r.handler.HandleTelemetry(ctx, record); err != nil {
		r.fail("telemetry handler failed", remote, err)
		return
	}
	r.handled.Add(1)
}

func (r *Receiver) fail(msg, remote string, err error) {
	r.failed.Add(1)
	r.logger.Warn(msg, "remote", remote, "error", err)
}

// Stats returns the connection counters
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Accepted: r.accepted.Load(),
		Handled:  r.handled.Load(),
		Failed:   r.failed.Load(),
		Open:     r.open.Load(),
	}
}
