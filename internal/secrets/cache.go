package secrets

import (
	"sync"
	"time"
)

// cacheEntry is one network's cached raw key material.
type cacheEntry struct {
	raw       []byte
	cachedAt  time.Time
}

func (e cacheEntry) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.cachedAt) > ttl
}

// ttlCache is the reader-preferring in-memory cache in front of a
// Backend (spec.md §4.A/§9: "many readers, rare writer").
type ttlCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, entries: map[string]cacheEntry{}}
}

// get returns the cached bytes and whether they are still fresh. It
// also reports ok=true (with fresh=false) for an expired-but-present
// entry, so callers can use it as a fallback read.
func (c *ttlCache) get(network string) (raw []byte, fresh bool, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, found := c.entries[network]
	if !found {
		return nil, false, false
	}
	return e.raw, !e.expired(c.ttl, time.Now()), true
}

func (c *ttlCache) put(network string, raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[network] = cacheEntry{raw: raw, cachedAt: time.Now()}
}

func (c *ttlCache) remove(network string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, network)
}

// evictExpired drops entries older than the TTL; the Store runs this
// periodically from a background goroutine (spec.md §4.A: "A background
// task evicts entries older than the TTL").
func (c *ttlCache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.expired(c.ttl, now) {
			delete(c.entries, k)
		}
	}
}
