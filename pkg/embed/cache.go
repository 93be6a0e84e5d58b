package embed

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// embeddingCache is the boundary Runtime programs against so the
// in-process LRU and the shared Redis cache are interchangeable.
type embeddingCache interface {
	Get(key string, now time.Time) ([]float32, bool)
	Put(key string, vector []float32, now time.Time)
	Stats() cacheStats
}

// cacheEntry is the value stored per key: the embedding vector plus its
// expiry, since golang-lru has no native TTL support (spec §4.3 requires
// both LRU eviction-by-capacity and independent TTL expiry-on-read).
type cacheEntry struct {
	vector   []float32
	expireAt time.Time
}

// ttlLRUCache layers TTL expiry over a capacity-bounded LRU, following the
// double-checked-locking expiry discipline of pkg/runbook/cache.go in the
// teacher, generalized to also track LRU eviction counts.
type ttlLRUCache struct {
	mu    sync.Mutex
	inner *lru.Cache[string, cacheEntry]
	ttl   time.Duration

	hits      int64
	misses    int64
	evictions int64
}

// newEmbeddingCache picks the cache backend named by cfg.CacheBackend,
// falling back to the in-process LRU for any value other than "redis"
// so a typo in PRX_EMBED_CACHE_BACKEND degrades gracefully instead of
// panicking (validate() has already rejected unknown backends by the
// time a Runtime is constructed in production).
func newEmbeddingCache(cfg Config) embeddingCache {
	if cfg.CacheBackend == "redis" && cfg.RedisAddr != "" {
		return newRedisCache(cfg.RedisAddr, cfg.CacheTTL)
	}
	return newTTLLRUCache(cfg.CacheCapacity, cfg.CacheTTL)
}

func newTTLLRUCache(capacity int, ttl time.Duration) *ttlLRUCache {
	if capacity < 1 {
		capacity = 1
	}
	c := &ttlLRUCache{ttl: ttl}
	inner, _ := lru.NewWithEvict[string, cacheEntry](capacity, func(_ string, _ cacheEntry) {
		c.evictions++
	})
	c.inner = inner
	return c
}

// Get returns the cached vector for key if present and unexpired.
func (c *ttlLRUCache) Get(key string, now time.Time) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.inner.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	if now.After(entry.expireAt) {
		c.inner.Remove(key)
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.vector, true
}

// Put inserts or refreshes key, moving it to the LRU tail and evicting the
// LRU head if the cache is over capacity.
func (c *ttlLRUCache) Put(key string, vector []float32, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, cacheEntry{vector: vector, expireAt: now.Add(c.ttl)})
}

type cacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

func (c *ttlLRUCache) Stats() cacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cacheStats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions, Size: c.inner.Len()}
}
