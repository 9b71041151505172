// Package tap mirrors this agent's hub deliveries to local operator sessions.
package tap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/utrack/hypelens/internal/hub"
	"github.com/utrack/hypelens/internal/model"
)

var ErrSessionLimitReached = errors.New("session limit reached")

// RegisterRequest defines runtime knobs for creating a session.
type RegisterRequest struct {
	Filter     Filter
	MaxEvents  int
	BufferSize int
}

// Registry stores active tap sessions and routes matching deliveries to them.
// It is a hub.Observer.
type Registry struct {
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]*Session

	hasActive atomic.Bool
	index     atomic.Uint64
}

var _ hub.Observer = (*Registry)(nil)

// NewRegistry creates a registry with a hard cap on active sessions.
func NewRegistry(maxSessions int) *Registry {
	if maxSessions <= 0 {
		maxSessions = 16
	}
	return &Registry{
		maxSessions: maxSessions,
		sessions:    make(map[string]*Session),
	}
}

// HasActiveSessions returns true if at least one session is registered.
func (r *Registry) HasActiveSessions() bool {
	return r.hasActive.Load()
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Register creates a new session and removes it automatically when ctx is cancelled.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.maxSessions {
		return nil, ErrSessionLimitReached
	}

	sessionID := uuid.NewString()
	session := newSession(sessionID, req.Filter, req.MaxEvents, req.BufferSize)
	r.sessions[sessionID] = session
	r.hasActive.Store(true)

	go func() {
		select {
		case <-ctx.Done():
			r.Deregister(sessionID)
		case <-session.Done():
		}
	}()

	return session, nil
}

// Deregister closes and removes a session.
func (r *Registry) Deregister(sessionID string) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.hasActive.Store(len(r.sessions) > 0)
	r.mu.Unlock()

	if ok {
		session.Close()
	}
}

// CloseAll ends every session.
func (r *Registry) CloseAll() {
	for _, session := range r.snapshotSessions() {
		r.Deregister(session.ID())
	}
}

// ObserveDelivery routes one hub delivery to all matching sessions.
func (r *Registry) ObserveDelivery(d hub.Delivery) {
	if !r.HasActiveSessions() {
		return
	}

	rec := RecordFromDelivery(d)
	rec.Index = r.index.Add(1)

	for _, session := range r.snapshotSessions() {
		if !session.Filter().Match(rec) {
			continue
		}
		_, completed := session.Emit(rec)
		if completed {
			r.Deregister(session.ID())
		}
	}
}

// RecordFromDelivery flattens a delivery into its tap record.
func RecordFromDelivery(d hub.Delivery) model.Record {
	at := d.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	rec := model.Record{
		Source:     d.Channel,
		Message:    d.Message,
		Delivered:  d.Err == nil,
		CapturedAt: at,
		Payload:    d.Body,
	}
	if d.Err != nil {
		rec.Error = d.Err.Error()
	}
	switch body := d.Body.(type) {
	case model.Envelope:
		rec.Type = body.Type
	case model.ClipMetadata:
		rec.Type = model.EventClipUploaded
	}
	return rec
}

func (r *Registry) snapshotSessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}
