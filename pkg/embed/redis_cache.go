package embed

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "prx-memory:embed-cache:"

// redisCache is the shared-across-processes embeddingCache backend,
// grounded on the Redis hot-path-with-prefix convention of
// pkg/alert/dedup.go in the corpus: a namespaced key per entry and a
// native TTL instead of the in-process cache's own expiry bookkeeping.
type redisCache struct {
	rdb *redis.Client
	ttl time.Duration

	hits      int64
	misses    int64
	evictions int64
}

func newRedisCache(addr string, ttl time.Duration) *redisCache {
	return &redisCache{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: ttl,
	}
}

func (c *redisCache) key(k string) string { return redisKeyPrefix + k }

// Get reports a miss on any Redis error, including ErrNil, so a
// disconnected cache degrades to always-recompute rather than failing
// the embed-one operation.
func (c *redisCache) Get(key string, _ time.Time) ([]float32, bool) {
	raw, err := c.rdb.Get(context.Background(), c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			atomic.AddInt64(&c.misses, 1)
			return nil, false
		}
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	vector, ok := decodeVector(raw)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	return vector, true
}

func (c *redisCache) Put(key string, vector []float32, _ time.Time) {
	_ = c.rdb.Set(context.Background(), c.key(key), encodeVector(vector), c.ttl).Err()
}

// Stats reports Redis-side size as -1: SCAN-counting the keyspace on
// every /metrics/summary read would be disproportionate to the value,
// so only hit/miss/eviction counters are tracked locally.
func (c *redisCache) Stats() cacheStats {
	return cacheStats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
		Size:      -1,
	}
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, bool) {
	if len(buf)%4 != 0 {
		return nil, false
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, true
}
