package fhirpath

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheConfig bounds one of the registry caches.
type CacheConfig struct {
	// Capacity is the total number of entries over all shards.
	Capacity int
	// TTL expires entries lazily on lookup. Zero disables expiry.
	TTL time.Duration
	// Shards is the number of independently locked LRU shards.
	Shards int
}

// DefaultCacheConfig is used for both registry caches unless configured otherwise.
var DefaultCacheConfig = CacheConfig{
	Capacity: 4096,
	Shards:   16,
}

// CacheStats is a snapshot of the counters of a cache.
type CacheStats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
	Size        int
}

type cacheEntry[V any] struct {
	value   V
	created time.Time
}

// Cache is a sharded LRU cache with optional TTL. It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	shards  []*lru.Cache[K, cacheEntry[V]]
	shardOf func(K) uint64
	ttl     time.Duration
	now     func() time.Time

	hits, misses, evictions, expirations atomic.Uint64
}

// NewCache creates a cache distributing keys over shards by shardOf.
func NewCache[K comparable, V any](config CacheConfig, shardOf func(K) uint64) *Cache[K, V] {
	shards := config.Shards
	if shards <= 0 {
		shards = DefaultCacheConfig.Shards
	}
	capacity := config.Capacity
	if capacity <= 0 {
		capacity = DefaultCacheConfig.Capacity
	}
	perShard := max(1, capacity/shards)

	c := &Cache[K, V]{
		shards:  make([]*lru.Cache[K, cacheEntry[V]], shards),
		shardOf: shardOf,
		ttl:     config.TTL,
		now:     time.Now,
	}
	for i := range c.shards {
		// only fails for non-positive sizes
		shard, err := lru.New[K, cacheEntry[V]](perShard)
		if err != nil {
			panic(err)
		}
		c.shards[i] = shard
	}
	return c
}

func (c *Cache[K, V]) shard(key K) *lru.Cache[K, cacheEntry[V]] {
	return c.shards[c.shardOf(key)%uint64(len(c.shards))]
}

// Get returns the value stored for key, unless it is missing or expired.
func (c *Cache[K, V]) Get(key K) (v V, ok bool) {
	shard := c.shard(key)
	entry, ok := shard.Get(key)
	if !ok {
		c.misses.Add(1)
		return v, false
	}
	if c.ttl > 0 && c.now().Sub(entry.created) > c.ttl {
		shard.Remove(key)
		c.expirations.Add(1)
		c.misses.Add(1)
		return v, false
	}
	c.hits.Add(1)
	return entry.value, true
}

// Add stores value for key, evicting the least recently used entry of the shard if it is full.
func (c *Cache[K, V]) Add(key K, value V) {
	if evicted := c.shard(key).Add(key, cacheEntry[V]{value: value, created: c.now()}); evicted {
		c.evictions.Add(1)
	}
}

// Clear removes all entries. Counters are kept.
func (c *Cache[K, V]) Clear() {
	for _, shard := range c.shards {
		shard.Purge()
	}
}

// Len returns the number of entries, including expired entries not looked up yet.
func (c *Cache[K, V]) Len() int {
	n := 0
	for _, shard := range c.shards {
		n += shard.Len()
	}
	return n
}

func (c *Cache[K, V]) Stats() CacheStats {
	return CacheStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Size:        c.Len(),
	}
}
