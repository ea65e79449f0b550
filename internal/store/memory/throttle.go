package memory

import (
	"sync"
	"time"
)

// Throttle admits at most one action per key within the window. Rejected
// calls are dropped, not queued, and do not extend the window.
type Throttle struct {
	last   map[int64]time.Time
	window time.Duration
	now    func() time.Time
	mu     sync.Mutex
}

// NewThrottle creates a Throttle with the given window.
func NewThrottle(window time.Duration) *Throttle {
	return &Throttle{
		last:   make(map[int64]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Allow reports whether an action for key may proceed and, if so, records it.
func (t *Throttle) Allow(key int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if prev, ok := t.last[key]; ok && now.Sub(prev) < t.window {
		return false
	}
	t.last[key] = now
	return true
}

// Cleanup forgets keys whose window has elapsed.
func (t *Throttle) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for k, ts := range t.last {
		if now.Sub(ts) >= t.window {
			delete(t.last, k)
		}
	}
}
