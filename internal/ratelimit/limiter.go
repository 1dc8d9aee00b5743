// Package ratelimit implements a sliding-window message throttle keyed by
// (lobby, user). State is purely ephemeral; it is reset on disconnect.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults matching the reference behavior: 3 sends per trailing 2 seconds.
const (
	DefaultBurst  = 3
	DefaultWindow = 2 * time.Second
)

// Limiter tracks the last N send timestamps per key. Allow never blocks.
// Calls for different keys are safe concurrently; calls for the same key are
// expected to arrive serialized by the per-lobby coordinator.
type Limiter struct {
	mu     sync.Mutex
	burst  int
	window time.Duration
	sends  map[string][]time.Time
}

// New returns a Limiter permitting burst sends per window. Non-positive
// arguments fall back to the defaults.
func New(burst int, window time.Duration) *Limiter {
	if burst <= 0 {
		burst = DefaultBurst
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		burst:  burst,
		window: window,
		sends:  make(map[string][]time.Time),
	}
}

// Key builds the limiter key for a (lobby, user) pair.
func Key(lobbyID, userID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", lobbyID, userID)
}

// Allow reports whether a send at now is within quota for key. On allow it
// records now; on deny it records nothing. Timestamps older than the window
// are evicted either way.
func (l *Limiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	recent := l.sends[key][:0]
	for _, ts := range l.sends[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= l.burst {
		l.sends[key] = recent
		return false
	}

	l.sends[key] = append(recent, now)
	return true
}

// Reset drops all state for key. Called when the user's connection goes away.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sends, key)
}
