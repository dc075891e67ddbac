package pool

import (
	"testing"
	"time"
)

func defragConfig() AllocatorConfig {
	return AllocatorConfig{
		MaxTotalMemory: 16 * mb,
		Pools: map[ResourceType]PoolConfig{
			VertexData: {
				PreferredPoolSize:     1 * mb,
				MinPoolSize:           1 * mb,
				AllocationAlignment:   256,
				EnableDefragmentation: true,
			},
		},
	}
}

func TestDefragCompacts(t *testing.T) {
	a := New(defragConfig(), nil)
	defer a.Close()

	// Four aligned 1KB allocations, then free the second and fourth:
	// the block is left with a hole at 1024 and C stranded at 2048.
	var allocs [4]*Allocation
	for i := range allocs {
		al, err := a.Allocate(VertexData, 1024)
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		allocs[i] = al
	}
	if off := allocs[2].Offset(); off != 2048 {
		t.Fatalf("C offset = %d, want 2048", off)
	}
	a.Deallocate(allocs[1])
	a.Deallocate(allocs[3])

	if frag := a.Fragmentation(VertexData); frag <= 0 {
		t.Fatalf("Fragmentation = %v, want > 0 before defrag", frag)
	}

	res := a.Defragment(time.Second)
	if res.Status != DefragComplete {
		t.Fatalf("Status = %v, want Complete", res.Status)
	}
	if res.BytesMoved == 0 {
		t.Errorf("BytesMoved = 0, want > 0")
	}

	// C slid down into B's hole; A stayed put.
	if off := allocs[0].Offset(); off != 0 {
		t.Errorf("A offset = %d, want 0", off)
	}
	if off := allocs[2].Offset(); off != 1024 {
		t.Errorf("C offset after compaction = %d, want 1024", off)
	}
	if frag := a.Fragmentation(VertexData); frag != 0 {
		t.Errorf("Fragmentation after compaction = %v, want 0", frag)
	}

	a.Deallocate(allocs[0])
	a.Deallocate(allocs[2])
}

func TestDefragTimeoutAndResume(t *testing.T) {
	a := New(defragConfig(), nil)
	defer a.Close()

	var live []*Allocation
	for i := 0; i < 64; i++ {
		al, err := a.Allocate(VertexData, 1024)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		live = append(live, al)
	}
	// Free every other allocation to fragment the block.
	var kept []*Allocation
	for i, al := range live {
		if i%2 == 1 {
			a.Deallocate(al)
		} else {
			kept = append(kept, al)
		}
	}

	// A zero budget expires before any work: the pass reports Timeout
	// and holds its cursor.
	res := a.Defragment(0)
	if res.Status != DefragTimeout {
		t.Fatalf("Status with zero budget = %v, want Timeout", res.Status)
	}

	// A generous budget finishes the interrupted pass.
	res = a.Defragment(time.Second)
	if res.Status != DefragComplete {
		t.Fatalf("Status on resume = %v, want Complete", res.Status)
	}
	if frag := a.Fragmentation(VertexData); frag != 0 {
		t.Errorf("Fragmentation after resume = %v, want 0", frag)
	}

	// Offsets must be densely packed after full compaction.
	for i, al := range kept {
		want := uint64(i) * 1024
		if off := al.Offset(); off != want {
			t.Errorf("kept[%d] offset = %d, want %d", i, off, want)
		}
	}

	for _, al := range kept {
		a.Deallocate(al)
	}
}

func TestDefragSkipsDisabledPools(t *testing.T) {
	// Texture pools disable defragmentation; with only them populated
	// the pass has nothing eligible to walk.
	a := New(AllocatorConfig{MaxTotalMemory: 64 * mb}, nil)
	defer a.Close()

	al, err := a.AllocateTexture2D(HeightTexture, 128, 128, FormatR32Float)
	if err != nil {
		t.Fatalf("AllocateTexture2D: %v", err)
	}
	defer a.Deallocate(al)

	res := a.Defragment(time.Second)
	if res.Status != DefragSkipped {
		t.Errorf("Status = %v, want Skipped", res.Status)
	}
	if res.PoolsVisited != 0 {
		t.Errorf("PoolsVisited = %d, want 0", res.PoolsVisited)
	}
}

func TestDefragFreesNothingItShouldNot(t *testing.T) {
	// Compaction must preserve every live allocation's bytes-accounting
	// and keep used <= total.
	a := New(defragConfig(), nil)
	defer a.Close()

	var live []*Allocation
	for i := 0; i < 16; i++ {
		al, err := a.Allocate(VertexData, uint64(1024*(i%3+1)))
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		live = append(live, al)
	}
	for i := 0; i < len(live); i += 3 {
		a.Deallocate(live[i])
		live[i] = nil
	}
	usedBefore := a.Stats().TotalUsed

	a.Defragment(time.Second)

	st := a.Stats()
	if st.TotalUsed != usedBefore {
		t.Errorf("TotalUsed changed across defrag: %d -> %d", usedBefore, st.TotalUsed)
	}
	for _, p := range st.Pools {
		if p.UsedBytes > p.TotalBytes {
			t.Errorf("pool bound violated after defrag: %d > %d", p.UsedBytes, p.TotalBytes)
		}
	}

	for _, al := range live {
		if al != nil {
			a.Deallocate(al)
		}
	}
	if got := a.Stats().TotalUsed; got != 0 {
		t.Errorf("TotalUsed after full release = %d, want 0", got)
	}
}
