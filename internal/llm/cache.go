package llm

import (
	"sync"
	"time"
)

// cacheEntry pairs a cached verdict with its expiry.
type cacheEntry[V any] struct {
	expiry time.Time
	value  V
}

// ttlCache provides thread-safe, expiring caching for model verdicts.
// Records can re-enter the pipeline under the outer scheduler's retry;
// the cache keeps those passes from paying for the same remote call twice.
type ttlCache[V any] struct {
	entries map[string]cacheEntry[V]
	stopCh  chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
}

// newTTLCache creates a cache with the specified TTL.
func newTTLCache[V any](ttl time.Duration) *ttlCache[V] {
	if ttl == 0 {
		ttl = 1 * time.Hour // Default TTL
	}

	cache := &ttlCache[V]{
		entries: make(map[string]cacheEntry[V]),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	// Start cleanup goroutine
	go cache.cleanup()

	return cache
}

// get retrieves a value from the cache if it exists and hasn't expired.
func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.expiry) {
		var zero V
		return zero, false
	}

	return entry.value, true
}

// set stores a value in the cache.
func (c *ttlCache[V]) set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry[V]{
		value:  value,
		expiry: time.Now().Add(c.ttl),
	}
}

// cleanup periodically removes expired entries.
func (c *ttlCache[V]) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiry) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Close stops the cleanup goroutine.
func (c *ttlCache[V]) Close() {
	close(c.stopCh)
}
