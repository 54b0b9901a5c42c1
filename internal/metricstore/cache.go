package metricstore

import (
	"sync"
	"time"
)

// ttlCache is a small expiring key/value map. Entries are evicted lazily on
// read and in bulk whenever the map grows past maxEntries. Safe for
// concurrent use.
type ttlCache[V any] struct {
	ttl        time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[string]cacheEntry[V]
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value    V
	expireAt time.Time
}

func newTTLCache[V any](ttl time.Duration, maxEntries int) *ttlCache[V] {
	return &ttlCache[V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry[V]),
		now:        time.Now,
	}
}

// get returns the cached value and whether it is present and fresh.
func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expireAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// put stores value under key for the cache's TTL.
func (c *ttlCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.sweepLocked()
		// Still full of fresh entries: drop the map rather than grow without
		// bound. The cache is an optimisation, not a store.
		if len(c.entries) >= c.maxEntries {
			c.entries = make(map[string]cacheEntry[V])
		}
	}
	c.entries[key] = cacheEntry[V]{value: value, expireAt: c.now().Add(c.ttl)}
}

// invalidate removes key if present.
func (c *ttlCache[V]) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// sweepLocked removes expired entries. Caller holds c.mu.
func (c *ttlCache[V]) sweepLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expireAt) {
			delete(c.entries, k)
		}
	}
}

// len reports the current entry count, expired or not.
func (c *ttlCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
