package fees

import (
	"slices"
	"sync"
)

// Cache is a bounded map keyed by block height. When an insert pushes it over capacity
// the numerically smallest heights are evicted, so the cache always holds the newest
// blocks it has seen. Entries never expire otherwise.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint64]V
}

// NewCache creates a cache holding at most capacity entries (minimum 1)
func NewCache[V any](capacity int) *Cache[V] {
	return &Cache[V]{
		capacity: max(capacity, 1),
		entries:  make(map[uint64]V),
	}
}

// Get returns the entry stored for height
func (c *Cache[V]) Get(height uint64) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries[height]
	return v, ok
}

// Add stores v for height and returns the heights evicted to stay within capacity
func (c *Cache[V]) Add(height uint64, v V) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[height] = v
	return c.evict()
}

// Update replaces the entry for height with fn(old, found) atomically
func (c *Cache[V]) Update(height uint64, fn func(old V, found bool) V) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, found := c.entries[height]
	c.entries[height] = fn(old, found)
	return c.evict()
}

// Len returns the number of cached entries
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity returns the configured bound
func (c *Cache[V]) Capacity() int {
	return c.capacity
}

// Keys returns the cached heights in ascending order
func (c *Cache[V]) Keys() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]uint64, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// evict must be called with mu held
func (c *Cache[V]) evict() []uint64 {
	var evicted []uint64
	for len(c.entries) > c.capacity {
		first := true
		var smallest uint64
		for k := range c.entries {
			if first || k < smallest {
				smallest, first = k, false
			}
		}
		delete(c.entries, smallest)
		evicted = append(evicted, smallest)
	}
	return evicted
}
