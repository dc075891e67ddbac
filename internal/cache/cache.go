// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cache

import "sync"

// CostFunc charges one value against the byte budget. It is called once
// at insertion; mutating a cached value's size afterwards corrupts the
// accounting.
type CostFunc[V any] func(V) uint64

// Cache is a thread-safe LRU cache bounded by total byte cost rather
// than entry count.
//
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[K, V]
	list    *lruList[K]
	cost    CostFunc[V]

	budget uint64
	used   uint64

	hits      uint64
	misses    uint64
	evictions uint64
}

type entry[K comparable, V any] struct {
	value V
	node  *lruNode[K]
	cost  uint64
}

// New creates a cache with the given byte budget. A budget of 0 means
// unlimited. A nil cost function charges every entry one byte, which
// degrades the budget to an entry count.
func New[K comparable, V any](budget uint64, cost CostFunc[V]) *Cache[K, V] {
	if cost == nil {
		cost = func(V) uint64 { return 1 }
	}
	return &Cache[K, V]{
		entries: make(map[K]*entry[K, V]),
		list:    newLRUList[K](),
		cost:    cost,
		budget:  budget,
	}
}

// Get retrieves a value and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.list.MoveToFront(e.node)
	return e.value, true
}

// Put stores a value, replacing any previous entry for the key, and
// evicts least recently used entries until the budget holds. The entry
// just inserted is never evicted, even when it alone exceeds the budget.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.used -= old.cost
		c.list.Remove(old.node)
		delete(c.entries, key)
	}

	e := &entry[K, V]{
		value: value,
		node:  c.list.PushFront(key),
		cost:  c.cost(value),
	}
	c.entries[key] = e
	c.used += e.cost

	if c.budget > 0 {
		c.evictUntil(c.budget, key)
	}
}

// Delete removes an entry. Returns true when the entry existed.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.used -= e.cost
	c.list.Remove(e.node)
	delete(c.entries, key)
	return true
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*entry[K, V])
	c.list.Clear()
	c.used = 0
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// UsedBytes returns the current charged cost.
func (c *Cache[K, V]) UsedBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// evictUntil removes LRU entries until used fits the limit, skipping
// keep. Caller holds c.mu.
func (c *Cache[K, V]) evictUntil(limit uint64, keep K) {
	for c.used > limit {
		key, ok := c.list.Oldest()
		if !ok || key == keep {
			return
		}
		e := c.entries[key]
		c.used -= e.cost
		c.list.Remove(e.node)
		delete(c.entries, key)
		c.evictions++
	}
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Len       int
	UsedBytes uint64
	Budget    uint64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// HitRate returns hits over total lookups, or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns a snapshot of cache activity.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Len:       len(c.entries),
		UsedBytes: c.used,
		Budget:    c.budget,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
