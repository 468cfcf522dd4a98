package collector

import (
	"sync"
	"time"
)

// PauseGate tracks per-exchange collection pauses. When a venue signals a
// rate limit, every job touching that exchange is suspended until the
// deadline passes. Expired entries are cleaned lazily on read.
type PauseGate struct {
	mu    sync.RWMutex
	until map[string]time.Time
	now   func() time.Time
}

func NewPauseGate() *PauseGate {
	return &PauseGate{until: make(map[string]time.Time), now: time.Now}
}

// Pause suspends the exchange for the given duration. A later deadline
// always wins over an earlier one.
func (g *PauseGate) Pause(exchange string, d time.Duration) {
	deadline := g.now().Add(d)
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.until[exchange]; !ok || deadline.After(existing) {
		g.until[exchange] = deadline
	}
}

// Resume lifts the pause for the exchange immediately.
func (g *PauseGate) Resume(exchange string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.until, exchange)
}

// Paused reports whether the exchange is currently suspended.
func (g *PauseGate) Paused(exchange string) bool {
	g.mu.RLock()
	deadline, ok := g.until[exchange]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	if g.now().Before(deadline) {
		return true
	}
	g.mu.Lock()
	// Re-check under the write lock in case a fresh pause landed.
	if d, ok := g.until[exchange]; ok && !g.now().Before(d) {
		delete(g.until, exchange)
	}
	g.mu.Unlock()
	return false
}

// Snapshot returns the active pauses and their deadlines.
func (g *PauseGate) Snapshot() map[string]time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]time.Time, len(g.until))
	now := g.now()
	for ex, deadline := range g.until {
		if now.Before(deadline) {
			out[ex] = deadline
		}
	}
	return out
}
