package tile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/terrain/geom"
	"github.com/gogpu/terrain/pool"
)

// DefaultRecencyWindow is the frame window over which a recently rendered
// tile earns a priority bonus.
const DefaultRecencyWindow = 120

// Tile is one terrain tile: the CPU elevation grid and, once promoted,
// the GPU resources built from it.
//
// Each tile has its own lock, so one tile's load never blocks access to
// another. The render thread and the streaming workers both touch tiles;
// every exported method is safe for concurrent use.
type Tile struct {
	coord Coordinate
	seq   uint64 // manager insertion sequence, breaks priority ties

	mu      sync.Mutex
	state   State
	height  *HeightData
	bounds  geom.Bounds
	gpu     *GPUResources
	errMsg  string
	loadDur time.Duration

	// generation increments on every eviction. A load that started
	// against an older generation discards its result instead of
	// mutating a tile that has since been restarted.
	generation uint64

	priority          float64
	framesSinceAccess uint32
	recencyWindow     uint32
}

// New creates a tile in the Empty state. bounds is the world-space box
// derived from the coordinate (see CoordinateBounds); the elevation range
// is refined once height data loads. seq is the manager's insertion
// sequence number.
func New(coord Coordinate, bounds geom.Bounds, seq uint64) *Tile {
	return &Tile{
		coord:         coord,
		seq:           seq,
		state:         StateEmpty,
		bounds:        bounds,
		recencyWindow: DefaultRecencyWindow,
	}
}

// SetRecencyWindow sets the frame window over which a rendered tile
// keeps a streaming priority bonus. 0 restores DefaultRecencyWindow.
// The manager applies the configured window at tile creation.
func (t *Tile) SetRecencyWindow(frames uint32) {
	if frames == 0 {
		frames = DefaultRecencyWindow
	}
	t.mu.Lock()
	t.recencyWindow = frames
	t.mu.Unlock()
}

// Coordinate returns the tile's immutable identity.
func (t *Tile) Coordinate() Coordinate { return t.coord }

// Sequence returns the manager insertion sequence number.
func (t *Tile) Sequence() uint64 { return t.seq }

// State returns the current lifecycle state.
func (t *Tile) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Bounds returns the tile's world-space box.
func (t *Tile) Bounds() geom.Bounds {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bounds
}

// ErrorMessage returns the retained failure message, if any.
func (t *Tile) ErrorMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMsg
}

// LoadDuration returns how long the last successful load took.
func (t *Tile) LoadDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadDur
}

// MemoryUsage returns the CPU bytes held by the tile.
func (t *Tile) MemoryUsage() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.height.MemoryBytes()
}

// GPUMemoryUsage returns the GPU bytes held by the tile. Non-zero exactly
// when the tile is Ready.
func (t *Tile) GPUMemoryUsage() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gpu == nil {
		return 0
	}
	return t.gpu.TotalBytes
}

// HeightData returns the loaded elevation grid, or nil.
func (t *Tile) HeightData() *HeightData {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.height
}

// HasValidGPUResources reports whether the tile can render right now.
func (t *Tile) HasValidGPUResources() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateReady && t.gpu != nil
}

// LoadData acquires the tile's elevation grid: first from cache, then
// through reader. It must be called on an Empty or Evicted tile.
//
// The read runs with the tile unlocked so other tiles and the render
// thread are never blocked on I/O. If the tile is evicted or recreated
// while the read is in flight, the result is discarded and ErrStaleLoad
// returned; the discarded result cannot corrupt the restarted tile.
func (t *Tile) LoadData(ctx context.Context, reader DatasetReader, cache HeightCache, path string) error {
	t.mu.Lock()
	if !t.state.Loadable() {
		st := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrAlreadyLoading, st)
	}
	t.state = StateLoading
	gen := t.generation
	t.mu.Unlock()

	start := time.Now()
	data, fromCache, err := t.fetch(ctx, reader, cache, path)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.generation != gen || t.state != StateLoading {
		// Evicted or restarted mid-load; drop the result on the floor.
		return ErrStaleLoad
	}

	if err == nil {
		err = data.Validate()
	}
	if err != nil {
		t.state = StateError
		t.errMsg = err.Error()
		return fmt.Errorf("tile %s: load: %w", t.coord, err)
	}

	minElev, maxElev := data.MinMax()
	t.height = data
	t.bounds = t.bounds.WithElevation(minElev, maxElev)
	t.loadDur = time.Since(start)
	t.state = StateLoaded

	if cache != nil && !fromCache {
		cache.Put(t.coord, data)
	}
	return nil
}

// fetch resolves height data from the cache or the dataset reader.
func (t *Tile) fetch(ctx context.Context, reader DatasetReader, cache HeightCache, path string) (*HeightData, bool, error) {
	if cache != nil {
		if d, ok := cache.Get(t.coord); ok {
			return d, true, nil
		}
	}
	if reader == nil {
		return nil, false, fmt.Errorf("no dataset reader")
	}
	d, err := reader.LoadTile(ctx, path)
	return d, false, err
}

// UploadToGPU promotes a Loaded tile to Ready: it allocates the vertex
// buffer, index buffer, height and normal textures, and the per-tile
// uniform block from alloc, then copies the CPU data through up.
//
// Failure at any step releases everything already obtained and moves the
// tile to Error; partial GPU state is never left attached. A nil Uploader
// skips the device copies (stub mode).
func (t *Tile) UploadToGPU(alloc *pool.Allocator, up Uploader) error {
	t.mu.Lock()
	if t.state != StateLoaded || t.height == nil {
		st := t.state
		t.mu.Unlock()
		if st == StateError {
			return ErrTileFailed
		}
		return fmt.Errorf("%w: state %s", ErrNotLoaded, st)
	}
	t.state = StateUploading
	data := t.height
	bounds := t.bounds
	gen := t.generation
	t.mu.Unlock()

	res, err := createGPUResources(alloc, up, data, bounds)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.generation != gen || t.state != StateUploading {
		if res != nil {
			releaseGPUResources(alloc, res)
		}
		return ErrStaleLoad
	}

	if err != nil {
		t.state = StateError
		t.errMsg = err.Error()
		return fmt.Errorf("tile %s: upload: %w", t.coord, err)
	}

	t.gpu = res
	t.state = StateReady
	return nil
}

// createGPUResources allocates and fills the full resource set. On any
// failure it releases what was already obtained and returns nil.
func createGPUResources(alloc *pool.Allocator, up Uploader, data *HeightData, bounds geom.Bounds) (*GPUResources, error) {
	res := &GPUResources{IndexCount: IndexCount(data.Width, data.Height)}
	fail := func(step string, err error) (*GPUResources, error) {
		releaseGPUResources(alloc, res)
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	var err error
	if res.VertexBuffer, err = alloc.Allocate(pool.VertexData, VertexDataSize(data.Width, data.Height)); err != nil {
		return fail("vertex buffer", err)
	}
	if res.IndexBuffer, err = alloc.Allocate(pool.IndexData, IndexDataSize(data.Width, data.Height)); err != nil {
		return fail("index buffer", err)
	}
	w, h := uint32(data.Width), uint32(data.Height)
	if res.HeightTexture, err = alloc.AllocateTexture2D(pool.HeightTexture, w, h, pool.FormatR32Float); err != nil {
		return fail("height texture", err)
	}
	if res.NormalTexture, err = alloc.AllocateTexture2D(pool.NormalTexture, w, h, pool.FormatRGBA8); err != nil {
		return fail("normal texture", err)
	}
	if res.UniformBlock, err = alloc.Allocate(pool.UniformData, tileUniformSize); err != nil {
		return fail("uniform block", err)
	}

	if up != nil {
		size := bounds.Size()
		vtx := buildVertexData(data, bounds.Min[0], bounds.Min[2], size[0], size[2])
		if err = up.WriteBuffer(res.VertexBuffer.Buffer(), res.VertexBuffer.Offset(), vtx); err != nil {
			return fail("vertex upload", err)
		}
		if err = up.WriteBuffer(res.IndexBuffer.Buffer(), res.IndexBuffer.Offset(), buildIndexData(data.Width, data.Height)); err != nil {
			return fail("index upload", err)
		}
		if err = up.WriteTexture(res.HeightTexture.Texture(), w, h, heightTexels(data)); err != nil {
			return fail("height texture upload", err)
		}
		cellX := size[0] / float32(maxInt(data.Width-1, 1))
		cellZ := size[2] / float32(maxInt(data.Height-1, 1))
		if err = up.WriteTexture(res.NormalTexture.Texture(), w, h, data.ComputeNormals(cellX, cellZ)); err != nil {
			return fail("normal texture upload", err)
		}
	}

	for _, a := range res.allocations() {
		res.TotalBytes += a.AlignedSize()
	}
	return res, nil
}

// tileUniformSize is the per-tile uniform block: tile transform, bounds,
// and LOD morph factors, padded to uniform alignment.
const tileUniformSize = 256

// releaseGPUResources deallocates every non-nil handle in res.
func releaseGPUResources(alloc *pool.Allocator, res *GPUResources) {
	for _, a := range res.allocations() {
		if a != nil {
			_ = alloc.Deallocate(a)
		}
	}
}

// UnloadFromGPU releases the tile's GPU resources, stepping Ready back to
// Loaded. Idempotent and safe to call in any state.
func (t *Tile) UnloadFromGPU(alloc *pool.Allocator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unloadLocked(alloc)
}

func (t *Tile) unloadLocked(alloc *pool.Allocator) {
	if t.gpu != nil {
		releaseGPUResources(alloc, t.gpu)
		t.gpu = nil
	}
	if t.state == StateReady || t.state == StateUploading {
		t.state = StateLoaded
	}
}

// EvictFromMemory releases GPU resources and clears the CPU height grid.
// Idempotent; the tile ends in Evicted unless it is already in Error. The
// generation bump discards any load still in flight.
func (t *Tile) EvictFromMemory(alloc *pool.Allocator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unloadLocked(alloc)
	t.height = nil
	t.generation++
	if t.state != StateError {
		t.state = StateEvicted
	}
}

// Render records the tile's draw call and marks the tile recently used.
// Tiles that are not Ready return ErrNotReady, which callers treat as
// "skip" rather than a frame failure.
func (t *Tile) Render(rec CommandRecorder) error {
	t.mu.Lock()
	if t.state != StateReady || t.gpu == nil {
		t.mu.Unlock()
		return ErrNotReady
	}
	d := Draw{
		VertexBuffer:  t.gpu.VertexBuffer.Buffer(),
		VertexOffset:  t.gpu.VertexBuffer.Offset(),
		IndexBuffer:   t.gpu.IndexBuffer.Buffer(),
		IndexOffset:   t.gpu.IndexBuffer.Offset(),
		IndexCount:    t.gpu.IndexCount,
		HeightTexture: t.gpu.HeightTexture.Texture(),
		NormalTexture: t.gpu.NormalTexture.Texture(),
		UniformBuffer: t.gpu.UniformBlock.Buffer(),
		UniformOffset: t.gpu.UniformBlock.Offset(),
	}
	t.framesSinceAccess = 0
	t.mu.Unlock()

	if rec == nil {
		return nil
	}
	return rec.RecordTileDraw(d)
}

// RenderKind reports the tile's renderable kind.
func (t *Tile) RenderKind() RenderKind { return KindHeightfield }

// UpdatePriority recomputes the tile's streaming priority from the camera
// position: closer tiles score higher, finer LOD levels are preferred,
// and recently rendered tiles get a fading bonus. Returns the new value.
func (t *Tile) UpdatePriority(cameraPos geom.Vec3, _ float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	dist := float64(geom.Distance(cameraPos, t.bounds.Center()))
	levelBias := float64(t.coord.Level + 1)
	recency := float64(0)
	if t.framesSinceAccess < t.recencyWindow {
		recency = float64(t.recencyWindow - t.framesSinceAccess)
	}

	t.priority = levelBias*1000/(1+dist) + recency
	return t.priority
}

// Priority returns the last computed streaming priority.
func (t *Tile) Priority() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// FramesSinceAccess returns how many bookkeeping ticks have passed since
// the tile last rendered.
func (t *Tile) FramesSinceAccess() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.framesSinceAccess
}

// TickFrame advances the recency counter. The manager's bookkeeping loop
// calls this once per tick on every resident tile.
func (t *Tile) TickFrame() {
	t.mu.Lock()
	if t.framesSinceAccess < ^uint32(0) {
		t.framesSinceAccess++
	}
	t.mu.Unlock()
}

// IsVisible tests the tile's bounds against six frustum planes. A tile is
// visible unless it lies entirely behind one plane.
func (t *Tile) IsVisible(f geom.Frustum) bool {
	t.mu.Lock()
	b := t.bounds
	t.mu.Unlock()
	return f.ContainsBounds(b)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

var _ Renderable = (*Tile)(nil)
