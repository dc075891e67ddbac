package pool

import (
	"sync/atomic"
	"time"
)

// Allocation is an opaque handle to one allocated resource: either an
// offset range inside a typed pool block (buffer types) or a dedicated
// texture (texture types).
//
// Ownership is exclusive: whoever obtained the allocation must release it
// exactly once via Allocator.Deallocate. There is no background expiry
// scan; a second Deallocate is detected and rejected without touching
// accounting.
type Allocation struct {
	typ       ResourceType
	size      uint64
	aligned   uint64
	alignment uint64

	// offset within the owning block. Defragmentation may relocate the
	// allocation, so reads go through atomics while the render thread
	// may be looking.
	offset atomic.Uint64

	buffer  BufferHandle
	texture TextureHandle
	width   uint32
	height  uint32
	format  TextureFormat

	allocatedAt time.Time
	released    atomic.Bool

	pool     *typedPool
	blockIdx int
}

// Type returns the resource type the allocation was made from.
func (a *Allocation) Type() ResourceType { return a.typ }

// Size returns the requested size in bytes.
func (a *Allocation) Size() uint64 { return a.size }

// AlignedSize returns the accounted size in bytes after alignment.
func (a *Allocation) AlignedSize() uint64 { return a.aligned }

// Alignment returns the alignment the allocation was placed with.
func (a *Allocation) Alignment() uint64 { return a.alignment }

// Offset returns the current byte offset inside the pool buffer. For
// dedicated texture allocations it is always zero.
func (a *Allocation) Offset() uint64 { return a.offset.Load() }

// Buffer returns the device buffer the allocation lives in, or zero for
// dedicated texture allocations.
func (a *Allocation) Buffer() BufferHandle { return a.buffer }

// Texture returns the dedicated texture handle, or zero for buffer
// allocations.
func (a *Allocation) Texture() TextureHandle { return a.texture }

// TextureSize returns the texture dimensions for dedicated allocations.
func (a *Allocation) TextureSize() (w, h uint32) { return a.width, a.height }

// Format returns the texel format for dedicated texture allocations.
func (a *Allocation) Format() TextureFormat { return a.format }

// AllocatedAt returns when the allocation was made.
func (a *Allocation) AllocatedAt() time.Time { return a.allocatedAt }

// Released reports whether the allocation has been deallocated.
func (a *Allocation) Released() bool { return a.released.Load() }
