package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entry pairs a cached value with its absolute expiry so the LRU cache can
// honor per-key TTLs instead of only size-based eviction.
type entry struct {
	value   []byte
	expires time.Time
}

// LRUCache is an in-process Cache backed by hashicorp/golang-lru, used in
// place of Redis for single-replica and standalone deployments. It never blocks
// on I/O, so a cache hit never suspends the configuration store's fast
// path.
type LRUCache struct {
	cache *lru.Cache[string, entry]
}

// NewLRUCache builds an LRU cache holding up to size entries.
func NewLRUCache(size int) (*LRUCache, error) {
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{cache: c}, nil
}

func (c *LRUCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := c.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		c.cache.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.cache.Add(key, entry{value: value, expires: exp})
	return nil
}

func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.cache.Remove(key)
	return nil
}
