// Package pso caches pipeline state objects and root signatures by
// structural key.
//
// Two acquisitions with structurally equal descriptions always return the
// same object, and at most one object is built per key even when several
// goroutines miss at once. Entries are never evicted.
package pso

import (
	"sync"
	"sync/atomic"
)

const (
	// shardCount is the number of shards for reduced lock contention.
	// Must be a power of 2 for fast modulo via bitwise AND.
	shardCount = 16

	shardMask = shardCount - 1
)

// Hasher computes the shard-selection hash of a key.
type Hasher[K any] func(K) uint64

// Cache is a sharded build-once map from structural keys to values.
type Cache[K comparable, V any] struct {
	shards [shardCount]*cacheShard[K, V]
	hasher Hasher[K]

	hits   atomic.Uint64
	misses atomic.Uint64
	builds atomic.Uint64
}

type cacheShard[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*cacheEntry[V]
}

// cacheEntry is published before it is built; ready closes when value
// or err is set.
type cacheEntry[V any] struct {
	ready chan struct{}
	value V
	err   error
}

// NewCache creates an empty cache.
func NewCache[K comparable, V any](hasher Hasher[K]) *Cache[K, V] {
	c := &Cache[K, V]{hasher: hasher}
	for i := range c.shards {
		c.shards[i] = &cacheShard[K, V]{entries: make(map[K]*cacheEntry[V])}
	}
	return c
}

func (c *Cache[K, V]) shard(key K) *cacheShard[K, V] {
	return c.shards[c.hasher(key)&shardMask]
}

// Acquire returns the value for key, calling build exactly once per key
// to create it. Concurrent callers of a key being built wait for the
// builder and share its result. A failed build is not cached.
func (c *Cache[K, V]) Acquire(key K, build func() (V, error)) (V, error) {
	s := c.shard(key)

	// Fast path: read lock to check existence
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return c.await(e)
	}

	// Slow path: publish a pending entry
	s.mu.Lock()
	if e, ok = s.entries[key]; ok {
		s.mu.Unlock()
		return c.await(e)
	}
	e = &cacheEntry[V]{ready: make(chan struct{})}
	s.entries[key] = e
	s.mu.Unlock()

	c.misses.Add(1)
	c.builds.Add(1)
	e.value, e.err = build()
	if e.err != nil {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
	}
	close(e.ready)
	return e.value, e.err
}

func (c *Cache[K, V]) await(e *cacheEntry[V]) (V, error) {
	<-e.ready
	if e.err != nil {
		var zero V
		return zero, e.err
	}
	c.hits.Add(1)
	return e.value, nil
}

// Get returns the value for key if it has been built.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	s := c.shard(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		select {
		case <-e.ready:
			if e.err == nil {
				return e.value, true
			}
		default:
		}
	}
	var zero V
	return zero, false
}

// Len returns the number of built or building entries.
func (c *Cache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}

// Each calls fn for every built value. fn must not call back into the
// cache.
func (c *Cache[K, V]) Each(fn func(V)) {
	for _, s := range c.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			select {
			case <-e.ready:
				if e.err == nil {
					fn(e.value)
				}
			default:
			}
		}
		s.mu.RUnlock()
	}
}

// Clear drops every entry.
func (c *Cache[K, V]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[K]*cacheEntry[V])
		s.mu.Unlock()
	}
}

// Stats returns current cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Len:     c.Len(),
		Hits:    hits,
		Misses:  misses,
		Builds:  c.builds.Load(),
		HitRate: hitRate,
	}
}

// Stats holds cache statistics.
type Stats struct {
	Len     int
	Hits    uint64
	Misses  uint64
	Builds  uint64
	HitRate float64
}
