package pool

import (
	"sort"
	"time"
)

// block is one device buffer a buffer-type pool suballocates from.
type block struct {
	handle BufferHandle
	size   uint64
	free   []span
	allocs []*Allocation
}

// typedPool is the sub-allocator for one resource type. All fields are
// guarded by mu; the allocator's global aggregates are guarded separately
// so pools do not serialize behind one mutex.
type typedPool struct {
	typ ResourceType
	cfg PoolConfig

	// total is the pool's capacity budget. For buffer pools it equals the
	// sum of block sizes; for texture pools it is a plain budget since
	// textures are dedicated per-allocation resources.
	total uint64
	used  uint64

	blocks      []*block
	allocCount  uint64
	defragBlock int // compaction resume cursor

	createdAt time.Time
}

// placeBuffer finds room for an aligned size in the existing blocks.
// Caller holds the pool lock.
func (p *typedPool) placeBuffer(aligned uint64) (blockIdx int, offset uint64, ok bool) {
	for i, b := range p.blocks {
		if off, free, took := takeSpan(b.free, aligned); took {
			b.free = free
			return i, off, true
		}
	}
	return 0, 0, false
}

// fitsTexture reports whether a dedicated texture of the aligned size fits
// the budget. Caller holds the pool lock.
func (p *typedPool) fitsTexture(aligned uint64) bool {
	return p.used+aligned <= p.total
}

// growthDelta computes the capacity increase for one growth cycle: the
// configured growth factor applied to the current capacity, but never less
// than the request that triggered it.
func (p *typedPool) growthDelta(aligned uint64) uint64 {
	delta := uint64(float64(p.total) * (p.cfg.GrowthFactor - 1))
	if delta < aligned {
		delta = aligned
	}
	return alignUp(delta, p.cfg.AllocationAlignment)
}

// addBlock appends a block of the given size. Caller holds the pool lock
// and has already reserved the capacity globally.
func (p *typedPool) addBlock(handle BufferHandle, size uint64) {
	p.blocks = append(p.blocks, &block{
		handle: handle,
		size:   size,
		free:   []span{{offset: 0, size: size}},
	})
	p.total += size
}

// release returns an allocation's bytes to the pool. Caller holds the pool
// lock; the allocation's released flag is already set.
func (p *typedPool) release(a *Allocation) {
	if a.texture != 0 {
		p.used -= a.aligned
		p.allocCount--
		return
	}
	b := p.blocks[a.blockIdx]
	b.free, _ = insertSpan(b.free, span{offset: a.Offset(), size: a.aligned})
	for i, live := range b.allocs {
		if live == a {
			b.allocs = append(b.allocs[:i], b.allocs[i+1:]...)
			break
		}
	}
	p.used -= a.aligned
	p.allocCount--
}

// defragStep runs compaction on this pool until done or the deadline
// passes. movesAllowed is false for forced passes over pools that disabled
// defragmentation, which then only verify and merge free spans.
// Caller holds the pool lock.
func (p *typedPool) defragStep(deadline time.Time, movesAllowed bool, backing Backing) (moved uint64, merged int, done bool) {
	if p.typ.IsTexture() {
		// Dedicated allocations cannot fragment.
		p.defragBlock = 0
		return 0, 0, true
	}
	for bi := p.defragBlock; bi < len(p.blocks); bi++ {
		if time.Now().After(deadline) {
			p.defragBlock = bi
			return moved, merged, false
		}
		b := p.blocks[bi]
		merged += remergeSpans(b)
		if movesAllowed {
			m, hitDeadline := compactBlock(b, p.cfg.AllocationAlignment, deadline, backing)
			moved += m
			if hitDeadline {
				p.defragBlock = bi
				return moved, merged, false
			}
		}
	}
	p.defragBlock = 0
	return moved, merged, true
}

// remergeSpans re-sorts and merges a block's free list, returning the
// number of merges. Normally the list is already merged; compaction and
// historical churn can leave adjacent spans behind.
func remergeSpans(b *block) int {
	if len(b.free) < 2 {
		return 0
	}
	sort.Slice(b.free, func(i, j int) bool { return b.free[i].offset < b.free[j].offset })
	merged := 0
	out := b.free[:1]
	for _, s := range b.free[1:] {
		last := &out[len(out)-1]
		if last.offset+last.size == s.offset {
			last.size += s.size
			merged++
		} else {
			out = append(out, s)
		}
	}
	b.free = out
	return merged
}

// compactBlock slides live allocations toward offset zero, updating their
// offsets in place and copying device bytes when a backing is attached.
// Overlapping moves are skipped; they become movable on a later pass once
// their downhill neighbors have moved. Returns bytes moved and whether the
// deadline interrupted the walk.
func compactBlock(b *block, align uint64, deadline time.Time, backing Backing) (moved uint64, hitDeadline bool) {
	if len(b.allocs) == 0 {
		return 0, false
	}
	sort.Slice(b.allocs, func(i, j int) bool {
		return b.allocs[i].Offset() < b.allocs[j].Offset()
	})

	var watermark uint64
	changed := false
	for _, a := range b.allocs {
		if time.Now().After(deadline) {
			if changed {
				rebuildFree(b)
			}
			return moved, true
		}
		cur := a.Offset()
		want := alignUp(watermark, align)
		if want < cur && want+a.aligned <= cur {
			if backing != nil {
				if err := backing.CopyBuffer(b.handle, b.handle, cur, want, a.aligned); err != nil {
					// Leave the allocation where it is; accounting is
					// unchanged and the pass stays correct.
					watermark = cur + a.aligned
					continue
				}
			}
			a.offset.Store(want)
			moved += a.aligned
			changed = true
			watermark = want + a.aligned
		} else {
			watermark = cur + a.aligned
		}
	}
	if changed {
		rebuildFree(b)
	}
	return moved, false
}

// rebuildFree recomputes a block's free list from its (sorted) live
// allocations. Called after compaction moved something.
func rebuildFree(b *block) {
	sort.Slice(b.allocs, func(i, j int) bool {
		return b.allocs[i].Offset() < b.allocs[j].Offset()
	})
	free := b.free[:0]
	var cursor uint64
	for _, a := range b.allocs {
		off := a.Offset()
		if off > cursor {
			free = append(free, span{offset: cursor, size: off - cursor})
		}
		cursor = off + a.aligned
	}
	if cursor < b.size {
		free = append(free, span{offset: cursor, size: b.size - cursor})
	}
	b.free = free
}

// fragmentation returns 1 - largestFreeSpan/totalFree for the pool's
// blocks, or 0 when nothing is free. Caller holds the pool lock.
func (p *typedPool) fragmentation() float64 {
	var free, largest uint64
	for _, b := range p.blocks {
		free += totalFree(b.free)
		if l := largestSpan(b.free); l > largest {
			largest = l
		}
	}
	if free == 0 {
		return 0
	}
	return 1 - float64(largest)/float64(free)
}
