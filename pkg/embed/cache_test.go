package embed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLLRUCacheHitAndMiss(t *testing.T) {
	c := newTTLLRUCache(10, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	_, ok := c.Get("a", now)
	assert.False(t, ok)

	c.Put("a", []float32{1, 2, 3}, now)
	v, ok := c.Get("a", now)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestTTLLRUCacheExpiresOnRead(t *testing.T) {
	c := newTTLLRUCache(10, time.Second)
	now := time.Unix(1_700_000_000, 0)
	c.Put("a", []float32{1}, now)

	later := now.Add(2 * time.Second)
	_, ok := c.Get("a", later)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestTTLLRUCacheEvictsOverCapacity(t *testing.T) {
	c := newTTLLRUCache(2, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	c.Put("a", []float32{1}, now)
	c.Put("b", []float32{2}, now)
	c.Put("c", []float32{3}, now)

	assert.Equal(t, int64(1), c.Stats().Evictions)
	_, ok := c.Get("a", now)
	assert.False(t, ok, "oldest entry should have been evicted")
}

func TestNewEmbeddingCacheSelectsBackend(t *testing.T) {
	mem := newEmbeddingCache(Config{CacheCapacity: 4, CacheTTL: time.Minute})
	_, isLRU := mem.(*ttlLRUCache)
	assert.True(t, isLRU)

	redisBacked := newEmbeddingCache(Config{CacheCapacity: 4, CacheTTL: time.Minute, CacheBackend: "redis", RedisAddr: "localhost:6379"})
	_, isRedis := redisBacked.(*redisCache)
	assert.True(t, isRedis)

	// A redis backend with no address configured falls back to memory
	// rather than constructing a client with an empty target.
	fallback := newEmbeddingCache(Config{CacheCapacity: 4, CacheTTL: time.Minute, CacheBackend: "redis"})
	_, isLRU = fallback.(*ttlLRUCache)
	assert.True(t, isLRU)
}

func TestEncodeDecodeVectorRoundTrips(t *testing.T) {
	v := []float32{0.1, -2.5, 3.0, 0}
	encoded := encodeVector(v)
	decoded, ok := decodeVector(encoded)
	require.True(t, ok)
	assert.Equal(t, v, decoded)
}

func TestDecodeVectorRejectsMisalignedBuffer(t *testing.T) {
	_, ok := decodeVector([]byte{1, 2, 3})
	assert.False(t, ok)
}
