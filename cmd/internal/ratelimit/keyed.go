package ratelimit

import (
	"sync"
	"time"
)

// Keyed holds one Window per key (client IP, account) and drops idle ones.
type Keyed struct {
	mu        sync.Mutex
	windows   map[string]*Window
	limit     int
	window    time.Duration
	lastSweep time.Time
}

// NewKeyed constructs a Keyed limiter.
func NewKeyed(limit int, window time.Duration) *Keyed {
	w := NewWindow(limit, window)
	return &Keyed{
		windows: make(map[string]*Window),
		limit:   w.limit,
		window:  w.window,
	}
}

// Allow reports whether an event for key at now is permitted.
// The second result is the suggested wait when it is not.
func (k *Keyed) Allow(key string, now time.Time) (bool, time.Duration) {
	w := k.get(key, now)
	if w.Allow(now) {
		return true, 0
	}
	return false, w.RetryAfter(now)
}

// Reset forgets key, typically after a successful login.
func (k *Keyed) Reset(key string) {
	k.mu.Lock()
	delete(k.windows, key)
	k.mu.Unlock()
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.windows)
}

func (k *Keyed) get(key string, now time.Time) *Window {
	k.mu.Lock()
	defer k.mu.Unlock()

	if now.Sub(k.lastSweep) >= k.window {
		for key, w := range k.windows {
			if w.idle(now) {
				delete(k.windows, key)
			}
		}
		k.lastSweep = now
	}

	w, ok := k.windows[key]
	if !ok {
		w = NewWindow(k.limit, k.window)
		k.windows[key] = w
	}
	return w
}
