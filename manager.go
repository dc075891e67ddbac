package terrain

import (
	"sort"
	"sync"

	"github.com/gogpu/terrain/geom"
	"github.com/gogpu/terrain/pool"
	"github.com/gogpu/terrain/tile"
)

// Manager owns the tile registry: creation, lookup, visibility queries,
// priority updates, and eviction policy. The registry lock covers only
// the map; each tile carries its own lock, so one tile's load never
// blocks another tile's render.
type Manager struct {
	alloc         *pool.Allocator
	worldBounds   geom.Bounds
	maxResident   int
	recencyWindow uint32

	mu     sync.RWMutex
	tiles  map[tile.Coordinate]*tile.Tile
	seq    uint64
	closed bool
}

// ManagerStats is a point-in-time census of the registry.
type ManagerStats struct {
	Resident int
	Ready    int
	Loading  int
	Errors   int
	CPUBytes uint64
	GPUBytes uint64
}

// NewManager creates a manager. maxResident caps the registry size; the
// allocator backs tile GPU resources and receives evictions.
// recencyWindow is applied to every tile the manager creates; 0 selects
// tile.DefaultRecencyWindow.
func NewManager(alloc *pool.Allocator, worldBounds geom.Bounds, maxResident int, recencyWindow uint32) *Manager {
	if maxResident <= 0 {
		maxResident = 1
	}
	return &Manager{
		alloc:         alloc,
		worldBounds:   worldBounds,
		maxResident:   maxResident,
		recencyWindow: recencyWindow,
		tiles:         make(map[tile.Coordinate]*tile.Tile),
	}
}

// CreateTile returns the tile for coord, creating it in the Empty state
// if absent. Creation never fails; if the registry is over its cap
// afterwards, the least recently used tile is evicted and removed, which
// may be the tile just created under sustained cap pressure.
func (m *Manager) CreateTile(coord tile.Coordinate) *tile.Tile {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	if t, ok := m.tiles[coord]; ok {
		m.mu.Unlock()
		return t
	}
	m.seq++
	t := tile.New(coord, tile.CoordinateBounds(coord, m.worldBounds), m.seq)
	t.SetRecencyWindow(m.recencyWindow)
	m.tiles[coord] = t
	m.mu.Unlock()

	m.EnforceLimits()
	return t
}

// GetTile returns the tile for coord, or nil.
func (m *Manager) GetTile(coord tile.Coordinate) *tile.Tile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tiles[coord]
}

// RemoveTile evicts a tile's resources and erases it from the registry.
// Removing an absent tile is a no-op.
func (m *Manager) RemoveTile(coord tile.Coordinate) {
	m.mu.Lock()
	t, ok := m.tiles[coord]
	if ok {
		delete(m.tiles, coord)
	}
	m.mu.Unlock()
	if ok {
		t.EvictFromMemory(m.alloc)
	}
}

// snapshot returns the current tile set without holding the lock during
// per-tile work.
func (m *Manager) snapshot() []*tile.Tile {
	m.mu.RLock()
	out := make([]*tile.Tile, 0, len(m.tiles))
	for _, t := range m.tiles {
		out = append(out, t)
	}
	m.mu.RUnlock()
	return out
}

// GetVisibleTiles returns every resident tile whose bounds intersect the
// frustum.
func (m *Manager) GetVisibleTiles(f geom.Frustum) []*tile.Tile {
	var out []*tile.Tile
	for _, t := range m.snapshot() {
		if t.IsVisible(f) {
			out = append(out, t)
		}
	}
	return out
}

// GetTilesByLOD returns every resident tile at the given level.
func (m *Manager) GetTilesByLOD(level uint32) []*tile.Tile {
	var out []*tile.Tile
	for _, t := range m.snapshot() {
		if t.Coordinate().Level == level {
			out = append(out, t)
		}
	}
	return out
}

// UpdatePriorities recomputes streaming priority for every resident tile.
func (m *Manager) UpdatePriorities(cameraPos geom.Vec3, dt float64) {
	for _, t := range m.snapshot() {
		t.UpdatePriority(cameraPos, dt)
	}
}

// HighPriorityLoadQueue returns up to maxCount loadable tiles (Empty or
// Evicted) in descending priority order. Equal priorities keep insertion
// order, so the queue is deterministic across calls.
func (m *Manager) HighPriorityLoadQueue(maxCount int) []*tile.Tile {
	var out []*tile.Tile
	for _, t := range m.snapshot() {
		if t.State().Loadable() {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Priority(), out[j].Priority()
		if pi != pj {
			return pi > pj
		}
		return out[i].Sequence() < out[j].Sequence()
	})
	if maxCount > 0 && len(out) > maxCount {
		out = out[:maxCount]
	}
	return out
}

// LRUTiles returns up to k eviction candidates ordered most-stale first:
// descending frames since last access, ties broken by older insertion.
// Tiles mid-load or mid-upload are not candidates.
func (m *Manager) LRUTiles(k int) []*tile.Tile {
	var out []*tile.Tile
	for _, t := range m.snapshot() {
		switch t.State() {
		case tile.StateLoading, tile.StateUploading:
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		fi, fj := out[i].FramesSinceAccess(), out[j].FramesSinceAccess()
		if fi != fj {
			return fi > fj
		}
		return out[i].Sequence() < out[j].Sequence()
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// PerformMemoryCleanup evicts stale tiles until resident CPU bytes drop
// to targetBytes. Eviction releases GPU resources and the height grid
// but keeps the tile registered, so it reloads on demand. Returns the
// number of tiles evicted.
func (m *Manager) PerformMemoryCleanup(targetBytes uint64) int {
	used := uint64(0)
	for _, t := range m.snapshot() {
		used += t.MemoryUsage()
	}
	if used <= targetBytes {
		return 0
	}

	evicted := 0
	for _, t := range m.LRUTiles(0) {
		if used <= targetBytes {
			break
		}
		bytes := t.MemoryUsage()
		if bytes == 0 {
			continue
		}
		t.EvictFromMemory(m.alloc)
		used -= bytes
		evicted++
	}
	if evicted > 0 {
		Logger().Debug("memory cleanup evicted tiles",
			"evicted", evicted, "target_bytes", targetBytes)
	}
	return evicted
}

// EnforceLimits evicts and removes least recently used tiles until the
// registry fits maxResident. Never fails.
func (m *Manager) EnforceLimits() {
	for {
		m.mu.RLock()
		over := len(m.tiles) - m.maxResident
		m.mu.RUnlock()
		if over <= 0 {
			return
		}

		victims := m.LRUTiles(over)
		if len(victims) == 0 {
			// Everything is mid-flight; let the next pass retry.
			return
		}
		for _, t := range victims {
			m.RemoveTile(t.Coordinate())
		}
	}
}

// TickFrame advances every resident tile's recency counter by one.
func (m *Manager) TickFrame() {
	for _, t := range m.snapshot() {
		t.TickFrame()
	}
}

// Stats returns a census of the registry.
func (m *Manager) Stats() ManagerStats {
	var s ManagerStats
	for _, t := range m.snapshot() {
		s.Resident++
		switch t.State() {
		case tile.StateReady:
			s.Ready++
		case tile.StateLoading, tile.StateUploading:
			s.Loading++
		case tile.StateError:
			s.Errors++
		}
		s.CPUBytes += t.MemoryUsage()
		s.GPUBytes += t.GPUMemoryUsage()
	}
	return s
}

// Close evicts every tile and empties the registry. Subsequent
// CreateTile calls return nil.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	tiles := make([]*tile.Tile, 0, len(m.tiles))
	for _, t := range m.tiles {
		tiles = append(tiles, t)
	}
	m.tiles = make(map[tile.Coordinate]*tile.Tile)
	m.mu.Unlock()

	for _, t := range tiles {
		t.EvictFromMemory(m.alloc)
	}
}
