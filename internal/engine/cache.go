package engine

import (
	"sync"
	"time"

	"github.com/adambossy/tally/internal/model"
)

// cacheEntry holds one batch's validated results until expiry.
type cacheEntry struct {
	expiry  time.Time
	results []model.ClassificationResult
}

// resultCache provides thread-safe caching of classification batches
// keyed by content hash.
type resultCache struct {
	entries map[string]cacheEntry
	stopCh  chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
}

// newResultCache creates a cache with the specified TTL and starts its
// cleanup goroutine.
func newResultCache(ttl time.Duration) *resultCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	cache := &resultCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

// get retrieves cached results if present and unexpired. It returns a
// copy; callers remap transaction indices in place and must not reach the
// stored rows.
func (c *resultCache) get(key string) ([]model.ClassificationResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.expiry) {
		return nil, false
	}

	results := make([]model.ClassificationResult, len(entry.results))
	copy(results, entry.results)
	return results, true
}

// set stores a copy of the results under the given key.
func (c *resultCache) set(key string, results []model.ClassificationResult) {
	stored := make([]model.ClassificationResult, len(results))
	copy(stored, results)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		results: stored,
		expiry:  time.Now().Add(c.ttl),
	}
}

// size returns the number of entries in the cache.
func (c *resultCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cleanup periodically removes expired entries.
func (c *resultCache) cleanup() {
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
func (c *resultCache) Close() {
	close(c.stopCh)
}
