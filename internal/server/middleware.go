package server

import (
	"sync"
	"time"
)

// RateLimiter caps inbound messages per connection with a sliding
// window. Arena clients legitimately send input at keyboard-event rate,
// so budgets are generous; one abusive client must not affect others.
// Over-limit messages are dropped, the connection stays open.
type RateLimiter struct {
	maxMessages int
	window      time.Duration
	history     map[string][]time.Time // playerID -> recent message times
	mu          sync.Mutex
}

func NewRateLimiter(maxMessages int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxMessages: maxMessages,
		window:      window,
		history:     make(map[string][]time.Time),
	}
}

// Allow reports whether the connection may send another message now,
// recording it when allowed. Timestamps older than the window are
// pruned on every call, keeping memory bounded per connection.
func (r *RateLimiter) Allow(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	recent := r.history[playerID][:0]
	for _, ts := range r.history[playerID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= r.maxMessages {
		r.history[playerID] = recent
		return false
	}

	r.history[playerID] = append(recent, now)
	return true
}

// Forget drops the connection's window on disconnect.
func (r *RateLimiter) Forget(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.history, playerID)
}
