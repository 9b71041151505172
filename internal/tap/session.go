package tap

import (
	"sync"
	"sync/atomic"

	"github.com/utrack/hypelens/internal/model"
)

// Session is a single operator stream of delivery records.
type Session struct {
	id        string
	filter    Filter
	maxEvents uint64

	// mu orders sends against Close; hub channels emit concurrently.
	mu      sync.RWMutex
	closed  bool
	records chan model.Record
	done    chan struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func newSession(id string, filter Filter, maxEvents int, bufferSize int) *Session {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	if maxEvents < 0 {
		maxEvents = 0
	}
	return &Session{
		id:        id,
		filter:    filter,
		maxEvents: uint64(maxEvents),
		records:   make(chan model.Record, bufferSize),
		done:      make(chan struct{}),
	}
}

// ID returns the immutable session identifier.
func (s *Session) ID() string { return s.id }

// Filter returns the session filter.
func (s *Session) Filter() Filter { return s.filter }

// Records returns the stream of matching records.
func (s *Session) Records() <-chan model.Record { return s.records }

// Done closes when the session is terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Sent returns the number of queued records.
func (s *Session) Sent() uint64 { return s.sent.Load() }

// Dropped returns the number of records dropped due to backpressure.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// Emit tries to enqueue one record without blocking the sender.
func (s *Session) Emit(rec model.Record) (streamed bool, completed bool) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return false, true
	}

	rec.SessionID = s.id
	select {
	case s.records <- rec:
		sent := s.sent.Add(1)
		s.mu.RUnlock()
		if s.maxEvents > 0 && sent >= s.maxEvents {
			s.Close()
			return true, true
		}
		return true, false
	default:
		s.mu.RUnlock()
		s.dropped.Add(1)
		return false, false
	}
}

// Close ends the session and releases stream resources.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.records)
}
