// Package debounce provides utilities for absorbing duplicate control
// commands arriving in rapid succession.
package debounce

import (
	"sync"
	"time"
)

// Cooldown tracks the last accepted occurrence per key and rejects repeats
// inside the cooldown window. The control plane uses it to absorb duplicate
// resume calls from an eager frontend: the repeat is reported as success by
// the caller without re-running side effects.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
	now    func() time.Time
}

// NewCooldown creates a Cooldown with the given window. A zero or negative
// window accepts everything.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		window: window,
		last:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether an occurrence of key should take effect. The first
// call for a key always succeeds; subsequent calls succeed once the window
// has elapsed since the last accepted one.
func (c *Cooldown) Allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.window <= 0 {
		return true
	}

	now := c.now()
	if last, ok := c.last[key]; ok && now.Sub(last) < c.window {
		return false
	}
	c.last[key] = now
	return true
}

// Forget drops tracking state for key. Called when a session unregisters so
// the map does not grow without bound.
func (c *Cooldown) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, key)
}
