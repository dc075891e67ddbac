package pool

import "time"

// DefragStatus is the outcome of one defragmentation call.
type DefragStatus uint8

const (
	// DefragComplete means every eligible pool was fully walked.
	DefragComplete DefragStatus = iota
	// DefragTimeout means the wall-clock budget expired mid-pass. The
	// pass is not an error; the next call resumes where this one
	// stopped.
	DefragTimeout
	// DefragSkipped means no pool was eligible (all disabled or empty).
	DefragSkipped
)

// String returns the status name.
func (s DefragStatus) String() string {
	switch s {
	case DefragComplete:
		return "Complete"
	case DefragTimeout:
		return "Timeout"
	case DefragSkipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

// DefragResult reports what one defragmentation call accomplished.
type DefragResult struct {
	Status       DefragStatus
	BytesMoved   uint64
	SpansMerged  int
	PoolsVisited int
	Elapsed      time.Duration
}

// Defragment runs one bounded defragmentation pass over pools that have
// EnableDefragmentation set, compacting live allocations toward offset
// zero and merging free spans. The pass never runs longer than budget;
// when the budget expires mid-pool the result is DefragTimeout and the
// next call resumes from the interrupted pool.
//
// Defragmentation moves allocations, so their Offset values change; that
// is why Allocation.Offset is read atomically.
func (a *Allocator) Defragment(budget time.Duration) DefragResult {
	return a.defragment(budget, false)
}

func (a *Allocator) defragment(budget time.Duration, forced bool) DefragResult {
	start := time.Now()
	res := DefragResult{Status: DefragSkipped}
	if a.closed.Load() {
		res.Elapsed = time.Since(start)
		return res
	}

	// One pass at a time; the periodic background pass and a forced
	// pressure pass must not interleave cursors.
	a.defragMu.Lock()
	defer a.defragMu.Unlock()

	deadline := start.Add(budget)
	if budget <= 0 {
		// A non-positive budget expires immediately; the pass only
		// advances its cursor bookkeeping.
		deadline = start.Add(-time.Nanosecond)
	}
	types := ResourceTypes()

	for n := 0; n < len(types); n++ {
		idx := (a.defragCursor + n) % len(types)
		t := types[idx]

		a.mu.RLock()
		p := a.pools[t]
		a.mu.RUnlock()
		if p == nil {
			continue
		}

		mu := a.poolMus[t]
		mu.Lock()
		if !p.cfg.EnableDefragmentation && !forced {
			mu.Unlock()
			continue
		}
		// Forced passes walk pools that disabled defragmentation, but
		// only to merge free spans; nothing is relocated behind the
		// owner's configuration.
		moves := p.cfg.EnableDefragmentation
		moved, merged, done := p.defragStep(deadline, moves, a.backing)
		mu.Unlock()

		res.BytesMoved += moved
		res.SpansMerged += merged
		res.PoolsVisited++
		res.Status = DefragComplete

		if !done {
			a.defragCursor = idx
			res.Status = DefragTimeout
			res.Elapsed = time.Since(start)
			return res
		}
	}

	a.defragCursor = 0
	res.Elapsed = time.Since(start)
	return res
}

// Fragmentation returns the fragmentation ratio of one pool: 1 minus the
// largest free span over total free bytes. 0 means unfragmented or no
// pool yet.
func (a *Allocator) Fragmentation(t ResourceType) float64 {
	a.mu.RLock()
	p := a.pools[t]
	a.mu.RUnlock()
	if p == nil {
		return 0
	}
	mu := a.poolMus[t]
	mu.Lock()
	defer mu.Unlock()
	return p.fragmentation()
}
