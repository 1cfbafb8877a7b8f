package stream

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Cache memoizes an operator's result per key with a TTL, and coalesces
// concurrent callers for the same key into a single in-flight call (spec
// §4.6 cache: "concurrent callers with same key share a single in-flight
// result"). Generalized from the teacher's pkg/rpc.HTTPClient response
// cache (getCache/setCache, retaining the last few block heights) into a
// standalone, TTL-based primitive reused by the latest-block and
// block-datetime loaders (spec §4.7).
type Cache[K comparable, V any] struct {
	ttl         time.Duration
	entries     *xsync.Map[K, *cacheEntry[V]]
	constructMu sync.Mutex // serializes first-construction races on the same key
}

type cacheEntry[V any] struct {
	mu      sync.Mutex
	value   V
	err     error
	expires time.Time
}

// NewCache builds a Cache with the given TTL. ttl <= 0 disables caching:
// every Get call invokes fn.
func NewCache[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{ttl: ttl, entries: xsync.NewMap[K, *cacheEntry[V]]()}
}

// Get returns the cached value for key if still fresh; otherwise it calls
// fn, caches the result for the cache's TTL, and returns it. A concurrent
// caller for the same key blocks on the in-flight entry rather than
// issuing a duplicate call to fn.
func (c *Cache[K, V]) Get(ctx context.Context, key K, fn func(context.Context) (V, error)) (V, error) {
	e := c.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if c.ttl > 0 && time.Now().Before(e.expires) {
		return e.value, e.err
	}

	value, err := fn(ctx)
	e.value, e.err = value, err
	if err == nil && c.ttl > 0 {
		e.expires = time.Now().Add(c.ttl)
	}
	return value, err
}

// Invalidate drops the cached entry for key, forcing the next Get to call
// fn.
func (c *Cache[K, V]) Invalidate(key K) {
	c.entries.Delete(key)
}

func (c *Cache[K, V]) entryFor(key K) *cacheEntry[V] {
	if e, ok := c.entries.Load(key); ok {
		return e
	}
	c.constructMu.Lock()
	defer c.constructMu.Unlock()
	if e, ok := c.entries.Load(key); ok {
		return e
	}
	e := &cacheEntry[V]{}
	c.entries.Store(key, e)
	return e
}
