// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cache provides a byte-budgeted generic LRU cache.
//
// The terrain engine uses it to keep decoded tile height data resident
// after GPU eviction, so a tile scrolling back into view reloads from
// memory instead of the dataset reader. Entries are charged by a
// caller-supplied cost function and the least recently used entries are
// evicted when the budget is exceeded.
//
//	c := cache.New[tile.Coordinate, *tile.HeightData](64<<20, func(h *tile.HeightData) uint64 {
//		return h.MemoryBytes()
//	})
//	c.Put(coord, data)
//	data, ok := c.Get(coord)
//
// The cache is safe for concurrent use and must not be copied after
// creation.
package cache
