// Package detect holds the signal classifiers shared by sensors: a sliding
// time window counter and a threshold gate.
package detect

import (
	"sync"
	"time"
)

// DefaultWindow is the trailing interval used by chat frequency detection.
const DefaultWindow = 60 * time.Second

// RateWindow counts observations inside a trailing time window.
// It is safe for concurrent use.
type RateWindow struct {
	span time.Duration

	mu    sync.Mutex
	stamp []time.Time
}

// NewRateWindow returns a window spanning span. Non-positive spans fall back to
// DefaultWindow.
func NewRateWindow(span time.Duration) *RateWindow {
	if span <= 0 {
		span = DefaultWindow
	}
	return &RateWindow{span: span}
}

// Span returns the window length.
func (w *RateWindow) Span() time.Duration { return w.span }

// Observe records now and returns how many observations are no older than
// now-span.
func (w *RateWindow) Observe(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stamp = append(w.stamp, now)
	w.stamp = keepSince(w.stamp, now.Add(-w.span))
	return len(w.stamp)
}

// Count returns the retained observations at now without recording one.
func (w *RateWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stamp = keepSince(w.stamp, now.Add(-w.span))
	return len(w.stamp)
}

// Reset drops every observation.
func (w *RateWindow) Reset() {
	w.mu.Lock()
	w.stamp = w.stamp[:0]
	w.mu.Unlock()
}

// keepSince filters in place on the cutoff alone. Entries are not assumed
// sorted since the wall clock may step backwards.
func keepSince(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.Before(cutoff) {
			continue
		}
		out = append(out, t)
	}
	return out
}
