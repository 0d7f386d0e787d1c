package cache

import (
	"sync"
	"time"
)

// Entry is one cached value with its write timestamp.
type Entry[V any] struct {
	Value    V
	StoredAt time.Time
}

// TTL is an in-process TTL cache keyed by string. Expired entries are dropped
// on read. The lock is held only for the map lookup or update, never across
// an upstream call.
type TTL[V any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[V]
	ttl     time.Duration
	now     func() time.Time
}

// NewTTL creates a cache with the given time-to-live.
func NewTTL[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{
		entries: make(map[string]Entry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached value and true when present and fresh.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}
	if c.now().Sub(entry.StoredAt) > c.ttl {
		c.mu.Lock()
		// Re-check under the write lock; another writer may have refreshed it.
		if e, ok := c.entries[key]; ok && c.now().Sub(e.StoredAt) > c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// Set stores a value under key.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	c.entries[key] = Entry[V]{Value: value, StoredAt: c.now()}
	c.mu.Unlock()
}

// Len returns the number of entries including expired ones not yet evicted.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SetClock overrides the time source, for tests.
func (c *TTL[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}
