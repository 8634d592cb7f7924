package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is a bounded in-process map that evicts the least recently used
// entry when full. Safe for concurrent use.
type LRU[K comparable, V any] struct {
	entries *lru.Cache[K, V]
}

// NewLRU creates an LRU holding at most capacity entries. A non-positive
// capacity falls back to 256.
func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 256
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[K, V](capacity)
	return &LRU[K, V]{entries: entries}
}

// Get returns the value for key and marks it as recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	return c.entries.Get(key)
}

// Put stores value under key, evicting the least recently used entry if
// the cache is full.
func (c *LRU[K, V]) Put(key K, value V) {
	c.entries.Add(key, value)
}

// DeleteFunc removes every entry whose key satisfies match and returns the
// number removed.
func (c *LRU[K, V]) DeleteFunc(match func(K) bool) int {
	removed := 0
	for _, key := range c.entries.Keys() {
		if match(key) && c.entries.Remove(key) {
			removed++
		}
	}
	return removed
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	return c.entries.Len()
}
