// Package lru provides a bounded least recently used cache that tolerates
// a number of extra entries before pruning, so inserts do not evict on
// every call once the cache is full.
package lru

import (
	"errors"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

var ErrKeyNotFound = errors.New("lru: key not found")

// Cache holds up to maxSize+elasticity entries. When that bound is
// exceeded the least recently used entries are evicted until maxSize
// remain.
type Cache[K comparable, V any] struct {
	mu         sync.Locker
	lru        *simplelru.LRU[K, V]
	maxSize    int
	elasticity int
}

type options[K comparable, V any] struct {
	locked  bool
	onEvict func(K, V)
}

// Option configures a Cache.
type Option[K comparable, V any] func(*options[K, V])

// WithLock makes the cache safe for concurrent use.
func WithLock[K comparable, V any]() Option[K, V] {
	return func(o *options[K, V]) { o.locked = true }
}

// WithEvictCallback calls fn for every entry leaving the cache, whether
// pruned, removed or cleared. fn runs with the lock held.
func WithEvictCallback[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(o *options[K, V]) { o.onEvict = fn }
}

// New returns a cache of maxSize entries allowed to grow by elasticity.
// maxSize must be positive.
func New[K comparable, V any](maxSize, elasticity int, opts ...Option[K, V]) *Cache[K, V] {
	var o options[K, V]
	for _, opt := range opts {
		opt(&o)
	}
	maxSize = max(maxSize, 1)
	elasticity = max(elasticity, 0)

	c := &Cache[K, V]{maxSize: maxSize, elasticity: elasticity, mu: noLock{}}
	if o.locked {
		c.mu = &sync.Mutex{}
	}
	// The underlying list never evicts on its own, pruning is done here.
	c.lru, _ = simplelru.NewLRU[K, V](maxSize+elasticity+1, o.onEvict)
	return c
}

// Insert adds or replaces key and marks it most recently used.
func (c *Cache[K, V]) Insert(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, value)
	if c.lru.Len() > c.maxSize+c.elasticity {
		for c.lru.Len() > c.maxSize {
			c.lru.RemoveOldest()
		}
	}
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, error) {
	v, ok := c.TryGet(key)
	if !ok {
		return v, ErrKeyNotFound
	}
	return v, nil
}

// TryGet is Get reporting absence with a boolean.
func (c *Cache[K, V]) TryGet(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Remove deletes key and reports whether it was present.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Contains reports whether key is cached without touching its recency.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

// Size returns the number of cached entries.
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear drops every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Values returns the cached values from least to most recently used.
func (c *Cache[K, V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Values()
}

func (c *Cache[K, V]) MaxSize() int    { return c.maxSize }
func (c *Cache[K, V]) Elasticity() int { return c.elasticity }

type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}
