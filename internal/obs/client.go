// Package obs controls the OBS replay buffer over obs-websocket v5.
package obs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrClosed         = errors.New("obs client closed")
	ErrAuthRequired   = errors.New("obs requires a password")
	ErrRequestFailed  = errors.New("obs request failed")
	ErrConnectionLost = errors.New("obs connection lost")
)

const defaultTimeout = 5 * time.Second

// Client is a reconnecting obs-websocket client. Requests reconnect once when
// the connection is down.
type Client struct {
	url      string
	password string
	timeout  time.Duration
	logger   *zap.Logger

	dialMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	cancel   context.CancelFunc
	closed   bool
	pending  map[string]chan requestStatus
	handlers []func(path string)
}

// NewClient builds a disconnected client.
func NewClient(url, password string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:      url,
		password: password,
		timeout:  timeout,
		logger:   logger.Named("obs").With(zap.String("url", url)),
		pending:  make(map[string]chan requestStatus),
	}
}

// OnReplayBufferSaved registers fn for saved replays. fn runs on the reader
// goroutine and must not block.
func (c *Client) OnReplayBufferSaved(fn func(path string)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, fn)
	c.mu.Unlock()
}

// Connected reports whether an identified session is held.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials and identifies. It is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
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

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{Subprotocols: []string{Subprotocol}})
	if err != nil {
		return fmt.Errorf("dial obs: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	if err := c.identify(dialCtx, conn); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return err
	}

	readCtx, cancelRead := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancelRead()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return ErrClosed
	}
	c.conn, c.cancel = conn, cancelRead
	c.mu.Unlock()

	go c.readLoop(readCtx, conn)
	c.logger.Info("obs connected")
	return nil
}

func (c *Client) identify(ctx context.Context, conn *websocket.Conn) error {
	var msg message
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		return fmt.Errorf("read obs hello: %w", err)
	}
	if msg.Op != opHello {
		return fmt.Errorf("expected obs hello, got op %d", msg.Op)
	}
	var h hello
	if err := json.Unmarshal(msg.D, &h); err != nil {
		return fmt.Errorf("decode obs hello: %w", err)
	}

	id := identify{RPCVersion: rpcVersion, EventSubscriptions: eventSubOutputs}
	if h.Authentication != nil {
		if c.password == "" {
			return ErrAuthRequired
		}
		id.Authentication = AuthResponse(c.password, h.Authentication.Salt, h.Authentication.Challenge)
	}
	out, err := encode(opIdentify, id)
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, conn, out); err != nil {
		return fmt.Errorf("send obs identify: %w", err)
	}

	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		if websocket.CloseStatus(err) != -1 {
			return fmt.Errorf("obs rejected identify (%d): %w", websocket.CloseStatus(err), err)
		}
		return fmt.Errorf("read obs identified: %w", err)
	}
	if msg.Op != opIdentified {
		return fmt.Errorf("expected obs identified, got op %d", msg.Op)
	}
	return nil
}

// SaveReplayBuffer asks OBS to write its replay buffer to disk. The saved path
// arrives later through OnReplayBufferSaved.
func (c *Client) SaveReplayBuffer(ctx context.Context) error {
	return c.call(ctx, requestSaveReplayBuffer)
}

func (c *Client) call(ctx context.Context, requestType string) error {
	conn := c.current()
	if conn == nil {
		if err := c.Connect(ctx); err != nil {
			return err
		}
		if conn = c.current(); conn == nil {
			return ErrConnectionLost
		}
	}

	id := uuid.NewString()
	reply := make(chan requestStatus, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := encode(opRequest, request{RequestType: requestType, RequestID: id})
	if err != nil {
		return err
	}
	if err := wsjson.Write(callCtx, conn, out); err != nil {
		c.drop(conn)
		return fmt.Errorf("send %s: %w", requestType, err)
	}

	select {
	case st, ok := <-reply:
		if !ok {
			return ErrConnectionLost
		}
		if !st.Result {
			return fmt.Errorf("%w: %s code %d: %s", ErrRequestFailed, requestType, st.Code, st.Comment)
		}
		return nil
	case <-callCtx.Done():
		return fmt.Errorf("%s: %w", requestType, callCtx.Err())
	}
}

// Close disconnects and refuses further requests.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn, cancel := c.conn, c.cancel
	c.conn, c.cancel = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	var cancel context.CancelFunc
	if c.conn == conn {
		c.conn = nil
		cancel = c.cancel
		c.cancel = nil
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	go func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.drop(conn)

	for {
		var msg message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() == nil {
				c.logger.Info("obs disconnected", zap.Error(err))
			}
			return
		}
		switch msg.Op {
		case opRequestResponse:
			var resp requestResponse
			if err := json.Unmarshal(msg.D, &resp); err != nil {
				c.logger.Debug("obs response ignored", zap.Error(err))
				continue
			}
			c.mu.Lock()
			if ch, ok := c.pending[resp.RequestID]; ok {
				select {
				case ch <- resp.RequestStatus:
				default:
				}
			}
			c.mu.Unlock()
		case opEvent:
			c.handleEvent(msg.D)
		}
	}
}

func (c *Client) handleEvent(raw json.RawMessage) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.logger.Debug("obs event ignored", zap.Error(err))
		return
	}
	if ev.EventType != eventReplayBufferSaved {
		return
	}
	var data replayBufferSaved
	if err := json.Unmarshal(ev.EventData, &data); err != nil || data.SavedReplayPath == "" {
		c.logger.Warn("replay saved without a path", zap.Error(err))
		return
	}
	c.logger.Info("replay buffer saved", zap.String("path", data.SavedReplayPath))

	c.mu.Lock()
	handlers := make([]func(string), len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(data.SavedReplayPath)
	}
}
