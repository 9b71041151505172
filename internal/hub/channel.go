// Package hub delivers hype events to the central hub over Socket.IO and
// falls back to its REST API for clip metadata.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/utrack/hypelens/internal/model"
	"go.uber.org/zap"
)

const defaultSendTimeout = 5 * time.Second

var (
	ErrClosed       = errors.New("hub channel closed")
	ErrNotConnected = errors.New("hub channel not connected")
	ErrHandshake    = errors.New("hub handshake failed")
)

// Handler consumes one inbound hub event body. It runs on the channel reader
// goroutine and must not block.
type Handler func(ctx context.Context, data json.RawMessage)

// Delivery describes one outbound attempt.
type Delivery struct {
	Channel string
	Message string
	Body    interface{}
	Err     error
	At      time.Time
}

// Observer is notified after every outbound attempt.
type Observer interface {
	ObserveDelivery(d Delivery)
}

// Observers fans a delivery out to several observers.
type Observers []Observer

func (o Observers) ObserveDelivery(d Delivery) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveDelivery(d)
		}
	}
}

// Option customizes a Channel.
type Option func(*Channel)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// WithObserver attaches a delivery observer.
func WithObserver(o Observer) Option {
	return func(c *Channel) { c.observer = o }
}

// WithSendTimeout bounds each connect and write.
func WithSendTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Channel is one owner's connection to the hub. Sends reconnect at most once
// and never return transport failures to sensors.
type Channel struct {
	name     string
	endpoint string
	dialer   Dialer
	logger   *zap.Logger
	observer Observer
	timeout  time.Duration

	dialMu  sync.Mutex
	writeMu sync.Mutex

	mu         sync.Mutex
	conn       Conn
	closed     bool
	cancelRead context.CancelFunc

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	dials atomic.Uint64
}

// NewChannel creates a disconnected channel named after its owner.
func NewChannel(name, endpoint string, logger *zap.Logger, opts ...Option) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Channel{
		name:     name,
		endpoint: endpoint,
		dialer:   WebsocketDialer{},
		logger:   logger.With(zap.String("channel", name), zap.String("endpoint", endpoint)),
		timeout:  defaultSendTimeout,
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the owner name.
func (c *Channel) Name() string { return c.name }

// Endpoint returns the configured hub endpoint.
func (c *Channel) Endpoint() string { return c.endpoint }

// Connected reports whether a live connection is held.
func (c *Channel) Connected() bool {
	return c.current() != nil
}

// Dials returns how many connection attempts were made.
func (c *Channel) Dials() uint64 { return c.dials.Load() }

// On registers the handler for an inbound event, replacing any previous one.
func (c *Channel) On(event string, h Handler) {
	c.handlersMu.Lock()
	c.handlers[event] = h
	c.handlersMu.Unlock()
}

// Connect establishes the connection if needed. Failures are logged and leave
// the channel disconnected; the error is informational.
func (c *Channel) Connect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	closed, live := c.closed, c.conn != nil
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if live {
		return nil
	}

	c.dials.Add(1)
	target, err := SocketURL(c.endpoint)
	if err != nil {
		c.logger.Warn("hub endpoint unusable", zap.Error(err))
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.Dial(dialCtx, target)
	if err != nil {
		c.logger.Warn("hub connect failed", zap.Error(err))
		return err
	}
	if err := handshake(dialCtx, conn); err != nil {
		_ = conn.Close()
		c.logger.Warn("hub connect failed", zap.Error(err))
		return err
	}

	readCtx, cancelRead := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancelRead()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.cancelRead = cancelRead
	c.mu.Unlock()

	go c.readLoop(readCtx, conn)

	c.logger.Info("hub connected")
	return nil
}

// Emit sends one named event. A disconnected channel gets exactly one
// reconnect attempt first. The error tells callers whether the write was
// confirmed; it has already been logged.
func (c *Channel) Emit(ctx context.Context, event string, body interface{}) error {
	err := c.emit(ctx, event, body)
	if c.observer != nil {
		c.observer.ObserveDelivery(Delivery{
			Channel: c.name,
			Message: event,
			Body:    body,
			Err:     err,
			At:      time.Now().UTC(),
		})
	}
	return err
}

func (c *Channel) emit(ctx context.Context, event string, body interface{}) error {
	frame, err := EncodeEvent(event, body)
	if err != nil {
		c.logger.Error("hub event not encodable", zap.String("event", event), zap.Error(err))
		return err
	}

	conn := c.current()
	if conn == nil {
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		if conn = c.current(); conn == nil {
			return ErrNotConnected
		}
	}

	if err := c.write(ctx, conn, frame); err != nil {
		c.logger.Warn("hub send failed", zap.String("event", event), zap.Error(err))
		c.drop(conn)
		return err
	}
	c.logger.Debug("hub event sent", zap.String("event", event))
	return nil
}

// Send delivers a hype_event envelope, swallowing failures.
func (c *Channel) Send(ctx context.Context, env model.Envelope) {
	if err := c.Emit(ctx, model.MessageHypeEvent, env); err != nil {
		c.logger.Warn("hype event dropped", zap.String("type", string(env.Type)), zap.Error(err))
	}
}

// Close disconnects and refuses further connects.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	conn, cancel := c.conn, c.cancelRead
	c.conn, c.cancelRead = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Channel) current() Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.conn
}

func (c *Channel) write(ctx context.Context, conn Conn, frame []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.Write(writeCtx, frame)
}

// drop forgets conn if it is still current. The close handshake runs in the
// background so callers stay within their send bound.
func (c *Channel) drop(conn Conn) {
	c.mu.Lock()
	var cancel context.CancelFunc
	if c.conn == conn {
		c.conn = nil
		cancel = c.cancelRead
		c.cancelRead = nil
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	go func() { _ = conn.Close() }()
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) {
	defer c.drop(conn)

	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Info("hub disconnected", zap.Error(err))
			}
			return
		}
		p, err := DecodePacket(frame)
		if err != nil {
			c.logger.Debug("hub frame ignored", zap.Error(err))
			continue
		}

		switch p.Engine {
		case enginePing:
			if err := c.write(ctx, conn, []byte{enginePong}); err != nil {
				c.logger.Info("hub pong failed", zap.Error(err))
				return
			}
		case engineClose:
			c.logger.Info("hub closed the connection")
			return
		case engineMessage:
			switch p.Socket {
			case socketEvent:
				c.dispatch(ctx, p)
			case socketDisconnect:
				c.logger.Info("hub disconnected the namespace")
				return
			}
		}
	}
}

func (c *Channel) dispatch(ctx context.Context, p Packet) {
	c.handlersMu.RLock()
	h, ok := c.handlers[p.Event]
	c.handlersMu.RUnlock()
	if !ok {
		c.logger.Debug("hub event unhandled", zap.String("event", p.Event))
		return
	}
	h(ctx, p.Data)
}

// handshake waits for the Engine.IO open packet and joins the default
// namespace.
func handshake(ctx context.Context, conn Conn) error {
	frame, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	p, err := DecodePacket(frame)
	if err != nil || p.Engine != engineOpen {
		return fmt.Errorf("%w: expected open packet, got %q", ErrHandshake, frame)
	}
	if err := conn.Write(ctx, []byte{engineMessage, socketConnect}); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		p, err := DecodePacket(frame)
		if err != nil {
			continue
		}
		switch {
		case p.Engine == enginePing:
			if err := conn.Write(ctx, []byte{enginePong}); err != nil {
				return fmt.Errorf("%w: %v", ErrHandshake, err)
			}
		case p.Engine == engineMessage && p.Socket == socketConnect:
			return nil
		case p.Engine == engineMessage && p.Socket == socketConnectError:
			return fmt.Errorf("%w: hub refused namespace: %s", ErrHandshake, p.Data)
		}
	}
}
