// Package hubtest runs an in-process Socket.IO hub for tests.
package hubtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// Event is one event received from a client.
type Event struct {
	Name string
	Data json.RawMessage
}

// Server accepts Engine.IO v4 websocket clients on /socket.io/.
type Server struct {
	srv *httptest.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	events   chan Event
	accepted atomic.Int64
	pongs    atomic.Int64
	refuse   atomic.Bool
}

// New starts a hub and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		conns:  make(map[*websocket.Conn]struct{}),
		events: make(chan Event, 256),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/socket.io/", s.handle)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Endpoint is the http URL clients are configured with.
func (s *Server) Endpoint() string { return s.srv.URL }

// Accepted counts completed handshakes.
func (s *Server) Accepted() int64 { return s.accepted.Load() }

// Pongs counts pong packets received.
func (s *Server) Pongs() int64 { return s.pongs.Load() }

// Refuse makes new handshakes fail with a connect error.
func (s *Server) Refuse(v bool) { s.refuse.Store(v) }

// Events streams events received from clients.
func (s *Server) Events() <-chan Event { return s.events }

// Next waits for the next event.
func (s *Server) Next(t testing.TB, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(timeout):
		t.Fatalf("no hub event within %s", timeout)
		return Event{}
	}
}

// Broadcast pushes an event to every connected client.
func (s *Server) Broadcast(ctx context.Context, event string, body interface{}) error {
	args := []interface{}{event}
	if body != nil {
		args = append(args, body)
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return s.writeAll(ctx, append([]byte("42"), payload...))
}

// Ping sends an Engine.IO ping to every connected client.
func (s *Server) Ping(ctx context.Context) error {
	return s.writeAll(ctx, []byte("2"))
}

// WaitConnections blocks until n clients are connected.
func (s *Server) WaitConnections(t testing.TB, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Connections() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d hub connections, have %d", n, s.Connections())
}

// Connections returns the number of live clients.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropAll closes every client connection.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
		delete(s.conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		go func(c *websocket.Conn) { _ = c.Close(websocket.StatusGoingAway, "") }(c)
	}
}

// Close drops clients and stops the listener.
func (s *Server) Close() {
	s.DropAll()
	s.srv.Close()
}

func (s *Server) writeAll(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	if len(conns) == 0 {
		return fmt.Errorf("no connected clients")
	}
	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, frame); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := r.Context()

	open := `0{"sid":"hubtest","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`
	if err := c.Write(ctx, websocket.MessageText, []byte(open)); err != nil {
		return
	}
	_, data, err := c.Read(ctx)
	if err != nil || string(data) != "40" {
		_ = c.Close(websocket.StatusPolicyViolation, "expected namespace connect")
		return
	}
	if s.refuse.Load() {
		_ = c.Write(ctx, websocket.MessageText, []byte(`44{"message":"refused"}`))
		_ = c.Close(websocket.StatusNormalClosure, "")
		return
	}
	if err := c.Write(ctx, websocket.MessageText, []byte(`40{"sid":"hubtest-ns"}`)); err != nil {
		return
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.accepted.Add(1)
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		frame := string(data)
		switch {
		case frame == "3":
			s.pongs.Add(1)
		case strings.HasPrefix(frame, "42"):
			var args []json.RawMessage
			if err := json.Unmarshal([]byte(frame[2:]), &args); err != nil || len(args) == 0 {
				continue
			}
			var ev Event
			if err := json.Unmarshal(args[0], &ev.Name); err != nil {
				continue
			}
			if len(args) > 1 {
				ev.Data = args[1]
			}
			select {
			case s.events <- ev:
			default:
			}
		}
	}
}
