package pubsub

import (
	"sync"
	"time"
)

// SeenCache is a bounded, TTL-expiring set of message IDs used for
// duplicate-delivery detection. Entries are pruned lazily and by a
// periodic sweep; callers never block on eviction.
type SeenCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[MessageID]time.Time
}

// NewSeenCache creates a SeenCache whose entries expire after ttl.
func NewSeenCache(ttl time.Duration) *SeenCache {
	return &SeenCache{
		ttl:     ttl,
		entries: make(map[MessageID]time.Time),
	}
}

// Add records id as seen at now, returning true if it was not already
// present (and not expired).
func (c *SeenCache) Add(id MessageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if ts, ok := c.entries[id]; ok && now.Sub(ts) < c.ttl {
		return false
	}
	c.entries[id] = now
	return true
}

// Contains reports whether id is present and not expired.
func (c *SeenCache) Contains(id MessageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.entries[id]
	if !ok {
		return false
	}
	if time.Since(ts) >= c.ttl {
		delete(c.entries, id)
		return false
	}
	return true
}

// Sweep removes all expired entries. Called from the heartbeat; between
// sweeps, Contains drops only the expired entry it looks up.
func (c *SeenCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, ts := range c.entries {
		if now.Sub(ts) >= c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the current entry count, including not-yet-swept expired
// entries.
func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
