package pool

import "sort"

// span is a contiguous free byte range inside a block.
type span struct {
	offset uint64
	size   uint64
}

// insertSpan returns the free list with s inserted, kept sorted by offset
// with adjacent spans merged. The second result counts merges performed.
func insertSpan(free []span, s span) ([]span, int) {
	if s.size == 0 {
		return free, 0
	}
	i := sort.Search(len(free), func(i int) bool {
		return free[i].offset >= s.offset
	})
	free = append(free, span{})
	copy(free[i+1:], free[i:])
	free[i] = s

	merged := 0
	// Merge with successor first so the predecessor merge sees the
	// combined span.
	if i+1 < len(free) && free[i].offset+free[i].size == free[i+1].offset {
		free[i].size += free[i+1].size
		free = append(free[:i+1], free[i+2:]...)
		merged++
	}
	if i > 0 && free[i-1].offset+free[i-1].size == free[i].offset {
		free[i-1].size += free[i].size
		free = append(free[:i], free[i+1:]...)
		merged++
	}
	return free, merged
}

// takeSpan carves size bytes from the first span that fits (first fit) and
// returns the chosen offset. Free offsets and sizes stay aligned because
// every carved size is itself aligned.
func takeSpan(free []span, size uint64) (offset uint64, out []span, ok bool) {
	for i := range free {
		if free[i].size < size {
			continue
		}
		offset = free[i].offset
		free[i].offset += size
		free[i].size -= size
		if free[i].size == 0 {
			free = append(free[:i], free[i+1:]...)
		}
		return offset, free, true
	}
	return 0, free, false
}

// largestSpan returns the biggest free span size, used by stats to report
// fragmentation.
func largestSpan(free []span) uint64 {
	var max uint64
	for i := range free {
		if free[i].size > max {
			max = free[i].size
		}
	}
	return max
}

// totalFree sums the free list.
func totalFree(free []span) uint64 {
	var sum uint64
	for i := range free {
		sum += free[i].size
	}
	return sum
}
