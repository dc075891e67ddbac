package terrain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/terrain/cull"
	"github.com/gogpu/terrain/geom"
	"github.com/gogpu/terrain/internal/cache"
	gpu "github.com/gogpu/terrain/internal/gpu"
	"github.com/gogpu/terrain/pool"
	"github.com/gogpu/terrain/tile"
)

// Engine tuning. Frame counters and stale eviction advance on the
// bookkeeping tick, not on render frames, so a paused renderer still
// ages its tiles.
const (
	// maxLoadBatch bounds how many tiles one Update may enqueue.
	maxLoadBatch = 32

	// bookkeepingInterval is the bookkeeping tick period.
	bookkeepingInterval = 50 * time.Millisecond

	// defragEveryTicks spaces the periodic defragmentation slices.
	defragEveryTicks = 20

	// staleEvictFrames is the tick age past which an unused tile's
	// memory is reclaimed.
	staleEvictFrames = 1800

	// staleEvictBatch bounds evictions per tick.
	staleEvictBatch = 8

	// pressureEvictBatch bounds GPU unloads per critical pressure event.
	pressureEvictBatch = 8
)

// EngineStats aggregates the per-subsystem snapshots.
type EngineStats struct {
	Manager   ManagerStats
	Allocator pool.AllocatorStats
	Culler    cull.Stats
	Scheduler SchedulerStats
}

// Engine is the facade over the terrain streaming subsystems: it wires
// the GPU context, memory pools, culler, height cache, tile manager, and
// streaming scheduler, and drives the per-frame flow.
type Engine struct {
	cfg *Config

	gpuCtx   *gpu.Context
	cullPipe *gpu.CullPipeline
	alloc    *pool.Allocator
	culler   *cull.Culler
	cache    *cache.Cache[tile.Coordinate, *tile.HeightData]
	mgr      *Manager
	sched    *Scheduler

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewEngine constructs an engine from cfg (nil selects the embedded
// defaults) and options. Without WithDeviceProvider or WithOwnedDevice
// the engine runs in stub mode.
func NewEngine(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}

	var (
		gpuCtx *gpu.Context
		err    error
	)
	switch {
	case o.provider != nil:
		gpuCtx, err = gpu.NewFromProvider(o.provider)
	case o.ownedDevice:
		gpuCtx, err = gpu.New()
	default:
		gpuCtx = gpu.NewStubContext()
	}
	if err != nil {
		return nil, fmt.Errorf("terrain: gpu context: %w", err)
	}

	alloc := o.allocator
	if alloc == nil {
		alloc = pool.New(cfg.allocatorConfig(), gpuCtx)
	}

	var dispatcher cull.GPUDispatcher
	var cullPipe *gpu.CullPipeline
	if cfg.Culling.EnableGPUCulling {
		cullPipe, err = gpu.NewCullPipeline(gpuCtx)
		if err != nil {
			// Culling degrades to the CPU path; the engine stays up.
			Logger().Warn("GPU culling pipeline unavailable", "err", err)
		} else {
			dispatcher = cullPipe
		}
	}

	heightCache := cache.New[tile.Coordinate, *tile.HeightData](
		cfg.Derived.CacheBudget,
		func(h *tile.HeightData) uint64 { return h.MemoryBytes() },
	)

	e := &Engine{
		cfg:      cfg,
		gpuCtx:   gpuCtx,
		cullPipe: cullPipe,
		alloc:    alloc,
		culler:   cull.New(cfg.cullConfig(), dispatcher),
		cache:    heightCache,
		stop:     make(chan struct{}),
	}
	e.mgr = NewManager(alloc, o.worldBounds, cfg.Streaming.MaxResidentTiles,
		uint32(cfg.Streaming.RecencyWindow))
	e.sched = NewScheduler(e.mgr, o.reader, heightCache, alloc, gpuCtx, cfg.Derived.WorkerCount)

	alloc.SetPressureCallback(e.onMemoryPressure)

	e.wg.Add(1)
	go e.bookkeeping()

	Logger().Info("terrain engine started",
		"stub_gpu", gpuCtx.Stub(),
		"workers", cfg.Derived.WorkerCount,
		"max_resident_tiles", cfg.Streaming.MaxResidentTiles)
	return e, nil
}

// Manager exposes the tile registry.
func (e *Engine) Manager() *Manager { return e.mgr }

// Allocator exposes the GPU memory allocator.
func (e *Engine) Allocator() *pool.Allocator { return e.alloc }

// VisibleTile pairs a visible tile with the LOD level the culling pass
// selected for the current camera. Level may differ from the tile's own
// coordinate level; the renderer uses it to pick geometry detail.
type VisibleTile struct {
	Tile  *tile.Tile
	Level uint32
}

// Update runs the per-frame flow: cull the resident set, update
// streaming priorities, and enqueue the highest-priority loadable tiles.
// It returns the visible tiles with their selected LOD levels.
func (e *Engine) Update(f geom.Frustum, cameraPos geom.Vec3, dt float64) []VisibleTile {
	tiles := e.mgr.snapshot()

	objects := make([]cull.Object, len(tiles))
	for i, t := range tiles {
		objects[i] = cull.Object{
			Bounds: t.Bounds(),
			Coord:  t.Coordinate(),
			Level:  t.Coordinate().Level,
		}
	}
	res := e.culler.Cull(f, cameraPos, objects)

	e.mgr.UpdatePriorities(cameraPos, dt)
	for _, t := range e.mgr.HighPriorityLoadQueue(maxLoadBatch) {
		e.sched.Enqueue(t.Coordinate())
	}

	visible := make([]VisibleTile, 0, len(res.Visible))
	for _, i := range res.Visible {
		visible = append(visible, VisibleTile{Tile: tiles[i], Level: res.Levels[i]})
	}
	return visible
}

// VisibleTiles returns the resident tiles intersecting the frustum.
func (e *Engine) VisibleTiles(f geom.Frustum) []*tile.Tile {
	return e.mgr.GetVisibleTiles(f)
}

// RenderVisible records draw calls for every visible Ready tile and
// returns how many were drawn. Tiles still streaming are skipped, not
// errors.
func (e *Engine) RenderVisible(rec tile.CommandRecorder, f geom.Frustum) (int, error) {
	drawn := 0
	for _, t := range e.mgr.GetVisibleTiles(f) {
		err := t.Render(rec)
		if errors.Is(err, tile.ErrNotReady) {
			continue
		}
		if err != nil {
			return drawn, err
		}
		drawn++
	}
	return drawn, nil
}

// Stats returns a snapshot across all subsystems.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Manager:   e.mgr.Stats(),
		Allocator: e.alloc.Stats(),
		Culler:    e.culler.Stats(),
		Scheduler: e.sched.Stats(),
	}
}

// MemoryReport returns the allocator's human-readable pool report.
func (e *Engine) MemoryReport() string {
	return e.alloc.MemoryReport()
}

// onMemoryPressure runs on the allocating goroutine when usage crosses a
// configured threshold. Critical pressure unloads the least recently
// used tiles' GPU resources; their height data stays cached so they
// re-upload cheaply.
func (e *Engine) onMemoryPressure(ratio float64, level pool.PressureLevel) {
	Logger().Warn("GPU memory pressure", "level", level.String(), "ratio", ratio)
	if level != pool.PressureCritical {
		return
	}
	for _, t := range e.mgr.LRUTiles(pressureEvictBatch) {
		if t.GPUMemoryUsage() > 0 {
			t.UnloadFromGPU(e.alloc)
		}
	}
}

// bookkeeping is the single goroutine that mutates aggregate state from
// worker completions: it drains results, ages tiles, evicts stale ones,
// and runs periodic defragmentation slices.
func (e *Engine) bookkeeping() {
	defer e.wg.Done()
	ticker := time.NewTicker(bookkeepingInterval)
	defer ticker.Stop()

	defragCountdown := defragEveryTicks
	for {
		select {
		case r, ok := <-e.sched.Results():
			if !ok {
				return
			}
			switch {
			case r.Err == nil:
				Logger().Debug("tile streamed",
					"tile", r.Coord.String(), "duration", r.Duration)
			case errors.Is(r.Err, tile.ErrStaleLoad):
				// Evicted mid-load; the result was discarded by design
				// of the tile generation check.
			default:
				Logger().Warn("tile streaming failed",
					"tile", r.Coord.String(), "err", r.Err)
			}

		case <-ticker.C:
			e.mgr.TickFrame()
			e.evictStale()
			if defragCountdown--; defragCountdown <= 0 {
				defragCountdown = defragEveryTicks
				e.alloc.Defragment(e.cfg.Derived.DefragBudget)
			}

		case <-e.stop:
			return
		}
	}
}

// evictStale reclaims tiles that have not rendered for staleEvictFrames
// ticks.
func (e *Engine) evictStale() {
	for _, t := range e.mgr.LRUTiles(staleEvictBatch) {
		if t.FramesSinceAccess() >= staleEvictFrames && t.MemoryUsage() > 0 {
			t.EvictFromMemory(e.alloc)
		}
	}
}

// Close shuts the engine down: scheduler first so no new GPU work
// starts, then bookkeeping, registry, allocator, and finally the device
// context.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.sched.Stop()
		close(e.stop)
		e.wg.Wait()
		e.mgr.Close()
		e.alloc.Close()
		if e.cullPipe != nil {
			e.cullPipe.Destroy()
		}
		e.gpuCtx.Close()
		Logger().Info("terrain engine closed")
	})
}
