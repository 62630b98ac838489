// Package ratelimit provides in-memory sliding-window limiters used to
// throttle websocket events per connection and login attempts per client.
package ratelimit

import (
	"sync"
	"time"
)

// Window is a sliding-window limiter for a single subject.
type Window struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewWindow constructs a Window. Non-positive inputs fall back to 1 event per second.
func NewWindow(limit int, window time.Duration) *Window {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Window{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at now should be permitted and records it if so.
func (w *Window) Allow(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	if len(w.events) >= w.limit {
		return false
	}
	w.events = append(w.events, now)
	return true
}

// RetryAfter returns how long until the next event would be allowed.
func (w *Window) RetryAfter(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	if len(w.events) < w.limit {
		return 0
	}
	return w.events[0].Add(w.window).Sub(now)
}

func (w *Window) idle(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	return len(w.events) == 0
}

func (w *Window) pruneLocked(now time.Time) {
	cut := now.Add(-w.window)
	dst := w.events[:0]
	for _, t := range w.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	w.events = dst
}
