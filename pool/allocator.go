// Package pool implements the typed GPU memory allocator for terrain
// streaming: one budgeted sub-allocator per resource category (vertex,
// index, height texture, normal texture, uniform, staging, compute), with
// usage-pressure callbacks, bounded defragmentation, and bounded growth.
//
// The allocator is an explicit instance owned by whoever constructs it;
// there is no package-level singleton. Buffer-type pools suballocate
// offset ranges from large device buffers; texture-type pools create one
// dedicated texture per allocation and only track the byte budget.
package pool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// PressureLevel classifies a usage-ratio threshold crossing.
type PressureLevel uint8

const (
	// PressureNone means usage is below every threshold.
	PressureNone PressureLevel = iota
	// PressureWarning means usage crossed the warning threshold.
	PressureWarning
	// PressureCritical means usage crossed the critical threshold.
	PressureCritical
)

// String returns the pressure level name.
func (l PressureLevel) String() string {
	switch l {
	case PressureNone:
		return "None"
	case PressureWarning:
		return "Warning"
	case PressureCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// PressureCallback is notified when the global usage ratio crosses a
// configured threshold. It runs on the allocating goroutine with no
// allocator locks held, so it may deallocate or evict from inside.
type PressureCallback func(ratio float64, level PressureLevel)

// Allocator is the typed memory pool allocator.
type Allocator struct {
	cfg     AllocatorConfig
	backing Backing

	mu    sync.RWMutex
	pools map[ResourceType]*typedPool

	// Per-pool state lives behind each pool's own lock; the aggregates
	// here have their own mutex so pools do not serialize on it.
	statsMu       sync.Mutex
	totalUsed     uint64
	totalCapacity uint64
	warnArmed     bool
	critArmed     bool
	pressureCB    PressureCallback

	poolMus map[ResourceType]*sync.Mutex

	defragMu     sync.Mutex
	defragCursor int

	handleSeq atomic.Uint64
	closed    atomic.Bool
}

// New creates an allocator with the given configuration and backing
// store. A nil backing selects stub mode (no device calls), which is how
// tests run.
func New(cfg AllocatorConfig, backing Backing) *Allocator {
	cfg = cfg.normalize()
	a := &Allocator{
		cfg:       cfg,
		backing:   backing,
		pools:     make(map[ResourceType]*typedPool, numResourceTypes),
		poolMus:   make(map[ResourceType]*sync.Mutex, numResourceTypes),
		warnArmed: true,
		critArmed: true,
	}
	for _, t := range ResourceTypes() {
		a.poolMus[t] = new(sync.Mutex)
	}
	return a
}

// SetPressureCallback registers the callback notified on threshold
// crossings. Passing nil removes it.
func (a *Allocator) SetPressureCallback(cb PressureCallback) {
	a.statsMu.Lock()
	a.pressureCB = cb
	a.statsMu.Unlock()
}

// MaxTotalMemory returns the global capacity cap in bytes.
func (a *Allocator) MaxTotalMemory() uint64 { return a.cfg.MaxTotalMemory }

// lockPool returns the pool for t, creating it lazily, with its mutex
// held. The caller must unlock it.
func (a *Allocator) lockPool(t ResourceType) (*typedPool, *sync.Mutex, error) {
	mu := a.poolMus[t]
	if mu == nil {
		return nil, nil, fmt.Errorf("pool: unknown resource type %d", t)
	}
	mu.Lock()

	a.mu.RLock()
	p := a.pools[t]
	a.mu.RUnlock()
	if p != nil {
		return p, mu, nil
	}

	// Lazy creation at the preferred size. The pool mutex is already
	// held, so two goroutines cannot create the same pool twice.
	cfg := a.cfg.poolConfigFor(t)
	p = &typedPool{typ: t, cfg: cfg, createdAt: time.Now()}

	if !a.reserveCapacity(cfg.PreferredPoolSize) {
		// The preferred size does not fit the global cap; create the
		// pool with whatever headroom remains so small allocations can
		// still proceed.
		if rem := a.remainingCapacity(); rem > 0 && a.reserveCapacity(rem) {
			cfg.PreferredPoolSize = rem
		} else {
			mu.Unlock()
			return nil, nil, fmt.Errorf("pool: %v: no capacity for pool creation: %w", t, ErrPoolExhausted)
		}
	}

	if t.IsTexture() {
		p.total = cfg.PreferredPoolSize
	} else {
		h, err := a.createBuffer(cfg.PreferredPoolSize, bufferUsageFor(t))
		if err != nil {
			a.unreserveCapacity(cfg.PreferredPoolSize)
			mu.Unlock()
			return nil, nil, fmt.Errorf("pool: %v: create block: %w", t, err)
		}
		p.addBlock(h, cfg.PreferredPoolSize)
	}

	a.mu.Lock()
	a.pools[t] = p
	a.mu.Unlock()

	logger().Debug("pool created",
		"type", t.String(), "capacity", p.total)
	return p, mu, nil
}

// Allocate carves size bytes from the typed pool for a buffer resource
// type. Texture types need dimensions; use AllocateTexture2D for them.
//
// The request is rejected with ErrPoolExhausted when it cannot fit even
// after bounded growth. Rejection is an ordinary error, never a panic.
func (a *Allocator) Allocate(t ResourceType, size uint64) (*Allocation, error) {
	if a.closed.Load() {
		return nil, ErrAllocatorClosed
	}
	if size == 0 {
		return nil, ErrInvalidSize
	}
	if t.IsTexture() {
		return nil, fmt.Errorf("pool: %v: %w", t, ErrNeedsDimensions)
	}

	p, mu, err := a.lockPool(t)
	if err != nil {
		return nil, err
	}

	aligned := alignUp(size, p.cfg.AllocationAlignment)

	blockIdx, offset, ok := p.placeBuffer(aligned)
	for cycle := 0; !ok && cycle < GrowthMaxCycles; cycle++ {
		if !a.growPool(p, aligned) {
			break
		}
		blockIdx, offset, ok = p.placeBuffer(aligned)
	}
	if !ok {
		mu.Unlock()
		return nil, fmt.Errorf("pool: %v: %d bytes: %w", t, size, ErrPoolExhausted)
	}

	alloc := &Allocation{
		typ:         t,
		size:        size,
		aligned:     aligned,
		alignment:   p.cfg.AllocationAlignment,
		buffer:      p.blocks[blockIdx].handle,
		blockIdx:    blockIdx,
		allocatedAt: time.Now(),
		pool:        p,
	}
	alloc.offset.Store(offset)
	p.blocks[blockIdx].allocs = append(p.blocks[blockIdx].allocs, alloc)
	p.used += aligned
	p.allocCount++
	mu.Unlock()

	a.recordAllocated(aligned)
	return alloc, nil
}

// AllocateTexture2D creates a dedicated texture allocation from a texture
// pool's byte budget. Buffer types must use Allocate.
func (a *Allocator) AllocateTexture2D(t ResourceType, width, height uint32, format TextureFormat) (*Allocation, error) {
	if a.closed.Load() {
		return nil, ErrAllocatorClosed
	}
	if !t.IsTexture() {
		return nil, fmt.Errorf("pool: %v is not a texture type: %w", t, ErrInvalidSize)
	}
	if width == 0 || height == 0 {
		return nil, ErrInvalidSize
	}
	size := uint64(width) * uint64(height) * format.BytesPerTexel()

	p, mu, err := a.lockPool(t)
	if err != nil {
		return nil, err
	}

	aligned := alignUp(size, p.cfg.AllocationAlignment)

	ok := p.fitsTexture(aligned)
	for cycle := 0; !ok && cycle < GrowthMaxCycles; cycle++ {
		if !a.growPool(p, aligned) {
			break
		}
		ok = p.fitsTexture(aligned)
	}
	if !ok {
		mu.Unlock()
		return nil, fmt.Errorf("pool: %v: %dx%d: %w", t, width, height, ErrPoolExhausted)
	}

	h, err := a.createTexture(width, height, format)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("pool: %v: create texture: %w", t, err)
	}

	alloc := &Allocation{
		typ:         t,
		size:        size,
		aligned:     aligned,
		alignment:   p.cfg.AllocationAlignment,
		texture:     h,
		width:       width,
		height:      height,
		format:      format,
		allocatedAt: time.Now(),
		pool:        p,
	}
	p.used += aligned
	p.allocCount++
	mu.Unlock()

	a.recordAllocated(aligned)
	return alloc, nil
}

// Deallocate releases an allocation. Safe to call exactly once per
// allocation: a second call returns ErrAlreadyReleased and leaves all
// accounting untouched.
func (a *Allocator) Deallocate(alloc *Allocation) error {
	if alloc == nil {
		return ErrNilAllocation
	}
	if a.closed.Load() {
		return ErrAllocatorClosed
	}
	if !alloc.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}

	mu := a.poolMus[alloc.typ]
	mu.Lock()
	alloc.pool.release(alloc)
	mu.Unlock()

	if alloc.texture != 0 && a.backing != nil {
		a.backing.DestroyTexture(alloc.texture)
	}

	a.recordFreed(alloc.aligned)
	return nil
}

// UsageRatio returns total used bytes across all pools divided by the
// global capacity cap.
func (a *Allocator) UsageRatio() float64 {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return float64(a.totalUsed) / float64(a.cfg.MaxTotalMemory)
}

// growPool raises p's capacity by one growth cycle, bounded by the global
// cap. Caller holds the pool lock. Returns false when no growth happened.
func (a *Allocator) growPool(p *typedPool, aligned uint64) bool {
	delta := p.growthDelta(aligned)
	if !a.reserveCapacity(delta) {
		// Partial headroom is still worth taking when it can satisfy
		// the request.
		rem := a.remainingCapacity()
		if rem < aligned || !a.reserveCapacity(rem) {
			return false
		}
		delta = rem
	}

	if p.typ.IsTexture() {
		p.total += delta
		return true
	}

	h, err := a.createBuffer(delta, bufferUsageFor(p.typ))
	if err != nil {
		a.unreserveCapacity(delta)
		logger().Warn("pool growth failed",
			"type", p.typ.String(), "delta", delta, "err", err)
		return false
	}
	p.addBlock(h, delta)
	logger().Debug("pool grown",
		"type", p.typ.String(), "delta", delta, "capacity", p.total)
	return true
}

// Resize sets a pool's capacity budget. Growing adds capacity (a new
// block for buffer pools); shrinking below the currently used bytes is
// rejected, and the new total is clamped to at least MinPoolSize. Only
// empty trailing blocks can actually be returned to the device, so a
// shrink may release less than requested.
func (a *Allocator) Resize(t ResourceType, newTotal uint64) error {
	if a.closed.Load() {
		return ErrAllocatorClosed
	}
	p, mu, err := a.lockPool(t)
	if err != nil {
		return err
	}
	defer mu.Unlock()

	if newTotal < p.cfg.MinPoolSize {
		newTotal = p.cfg.MinPoolSize
	}
	if newTotal < p.used {
		return fmt.Errorf("pool: %v: resize to %d with %d used: %w",
			t, newTotal, p.used, ErrShrinkBelowUsed)
	}

	switch {
	case newTotal > p.total:
		delta := newTotal - p.total
		if !a.reserveCapacity(delta) {
			return fmt.Errorf("pool: %v: resize beyond global cap: %w", t, ErrPoolExhausted)
		}
		if t.IsTexture() {
			p.total += delta
		} else {
			h, err := a.createBuffer(delta, bufferUsageFor(t))
			if err != nil {
				a.unreserveCapacity(delta)
				return fmt.Errorf("pool: %v: resize: %w", t, err)
			}
			p.addBlock(h, delta)
		}
	case newTotal < p.total:
		if t.IsTexture() {
			a.unreserveCapacity(p.total - newTotal)
			p.total = newTotal
			break
		}
		// Drop empty blocks from the end while above the target.
		for len(p.blocks) > 1 && p.total > newTotal {
			last := p.blocks[len(p.blocks)-1]
			if len(last.allocs) != 0 || p.total-last.size < newTotal {
				break
			}
			p.blocks = p.blocks[:len(p.blocks)-1]
			p.total -= last.size
			a.unreserveCapacity(last.size)
			if a.backing != nil {
				a.backing.DestroyBuffer(last.handle)
			}
		}
	}
	return nil
}

// Close releases all pool blocks. Outstanding allocations become inert;
// a non-zero count at close time is logged since it means an owner never
// deallocated.
func (a *Allocator) Close() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	a.mu.Lock()
	pools := a.pools
	a.pools = make(map[ResourceType]*typedPool)
	a.mu.Unlock()

	var leaked uint64
	for t, p := range pools {
		mu := a.poolMus[t]
		mu.Lock()
		leaked += p.allocCount
		if a.backing != nil {
			for _, b := range p.blocks {
				a.backing.DestroyBuffer(b.handle)
			}
		}
		p.blocks = nil
		mu.Unlock()
	}
	if leaked > 0 {
		logger().Warn("allocator closed with live allocations", "count", leaked)
	}
}

// createBuffer goes to the backing store, or mints a local handle in stub
// mode.
func (a *Allocator) createBuffer(size uint64, usage BufferUsage) (BufferHandle, error) {
	if a.backing == nil {
		return BufferHandle(a.handleSeq.Add(1)), nil
	}
	h, err := a.backing.CreateBuffer(size, usage)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackingFailed, err)
	}
	return h, nil
}

// createTexture goes to the backing store, or mints a local handle in
// stub mode.
func (a *Allocator) createTexture(w, h uint32, format TextureFormat) (TextureHandle, error) {
	if a.backing == nil {
		return TextureHandle(a.handleSeq.Add(1)), nil
	}
	th, err := a.backing.CreateTexture2D(w, h, format)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackingFailed, err)
	}
	return th, nil
}

// reserveCapacity claims delta bytes of the global cap. Returns false
// without side effects when the cap would be exceeded.
func (a *Allocator) reserveCapacity(delta uint64) bool {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	if a.totalCapacity+delta > a.cfg.MaxTotalMemory {
		return false
	}
	a.totalCapacity += delta
	return true
}

func (a *Allocator) unreserveCapacity(delta uint64) {
	a.statsMu.Lock()
	a.totalCapacity -= delta
	a.statsMu.Unlock()
}

func (a *Allocator) remainingCapacity() uint64 {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return a.cfg.MaxTotalMemory - a.totalCapacity
}

// recordAllocated refreshes global stats after a successful allocation
// and runs the pressure check. Callbacks fire after all locks are
// released so they may call back into the allocator.
func (a *Allocator) recordAllocated(aligned uint64) {
	var (
		fire     []PressureLevel
		ratio    float64
		cb       PressureCallback
		critical bool
	)
	a.statsMu.Lock()
	a.totalUsed += aligned
	ratio = float64(a.totalUsed) / float64(a.cfg.MaxTotalMemory)
	if a.warnArmed && ratio >= a.cfg.WarningThreshold {
		a.warnArmed = false
		fire = append(fire, PressureWarning)
	}
	if a.critArmed && ratio >= a.cfg.CriticalThreshold {
		a.critArmed = false
		fire = append(fire, PressureCritical)
		critical = true
	}
	cb = a.pressureCB
	a.statsMu.Unlock()

	for _, level := range fire {
		logger().Warn("memory pressure", "level", level.String(), "ratio", ratio)
		if cb != nil {
			cb(ratio, level)
		}
	}
	if critical {
		a.handleMemoryPressure()
	}
}

// recordFreed refreshes global stats after a deallocation and re-arms the
// pressure triggers once usage falls back under the thresholds.
func (a *Allocator) recordFreed(aligned uint64) {
	a.statsMu.Lock()
	a.totalUsed -= aligned
	ratio := float64(a.totalUsed) / float64(a.cfg.MaxTotalMemory)
	if ratio < a.cfg.WarningThreshold {
		a.warnArmed = true
	}
	if ratio < a.cfg.CriticalThreshold {
		a.critArmed = true
	}
	a.statsMu.Unlock()
}

// handleMemoryPressure runs the critical-crossing mitigation: one forced
// defragmentation pass with the configured budget, walking every pool
// regardless of its EnableDefragmentation flag.
func (a *Allocator) handleMemoryPressure() {
	res := a.defragment(a.cfg.PressureDefragBudget, true)
	logger().Info("forced defragmentation",
		"status", res.Status.String(),
		"moved", res.BytesMoved,
		"merged", res.SpansMerged,
		"elapsed", res.Elapsed)
}
