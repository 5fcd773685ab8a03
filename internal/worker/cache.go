package worker

import (
	"sync"
	"time"
)

// cacheEntry pairs an observation with the time it was stored.
type cacheEntry struct {
	observation Observation
	storedAt    time.Time
}

// ResponseCache is a concurrency-safe in-memory TTL cache of per-city
// observations, so repeated requests for the same city within the TTL skip
// the outbound API call entirely.
type ResponseCache struct {
	mu sync.RWMutex

	// key: city, value: cached observation
	data map[string]cacheEntry

	ttl time.Duration
}

// NewResponseCache creates a cache. A ttl <= 0 disables caching.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		data: make(map[string]cacheEntry),
		ttl:  ttl,
	}
}

// Get returns the cached observation for a city if it is still fresh.
func (c *ResponseCache) Get(city string) (Observation, bool) {
	if c.ttl <= 0 {
		return Observation{}, false
	}

	c.mu.RLock()
	entry, ok := c.data[city]
	c.mu.RUnlock()

	if !ok || time.Since(entry.storedAt) > c.ttl {
		return Observation{}, false
	}
	return entry.observation, true
}

// Put stores an observation for a city and prunes expired neighbours so the
// map does not grow without bound.
func (c *ResponseCache) Put(city string, obs Observation) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[city] = cacheEntry{observation: obs, storedAt: time.Now()}

	cutoff := time.Now().Add(-c.ttl)
	for key, entry := range c.data {
		if entry.storedAt.Before(cutoff) {
			delete(c.data, key)
		}
	}
}
