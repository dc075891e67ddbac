package pool

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
)

// testConfig returns a small config with a 16MB cap and a 1MB vertex
// pool, which keeps test allocations readable.
func testConfig() AllocatorConfig {
	return AllocatorConfig{
		MaxTotalMemory: 16 * mb,
		Pools: map[ResourceType]PoolConfig{
			VertexData: {
				PreferredPoolSize:     1 * mb,
				MinPoolSize:           256 * 1024,
				AllocationAlignment:   256,
				EnableDefragmentation: true,
				GrowthFactor:          2.0,
			},
		},
	}
}

func TestAllocateBasics(t *testing.T) {
	a := New(testConfig(), nil)
	defer a.Close()

	alloc, err := a.Allocate(VertexData, 1000)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if alloc.Type() != VertexData {
		t.Errorf("Type = %v", alloc.Type())
	}
	if alloc.Size() != 1000 {
		t.Errorf("Size = %d, want 1000", alloc.Size())
	}
	if alloc.AlignedSize() != 1024 {
		t.Errorf("AlignedSize = %d, want 1024", alloc.AlignedSize())
	}
	if alloc.Buffer() == 0 {
		t.Errorf("Buffer handle is zero")
	}
	if alloc.Texture() != 0 {
		t.Errorf("buffer allocation has texture handle")
	}

	st := a.Stats()
	if len(st.Pools) != 1 {
		t.Fatalf("pools = %d, want 1 (lazy creation)", len(st.Pools))
	}
	p := st.Pools[0]
	if p.UsedBytes != 1024 || p.TotalBytes != 1*mb {
		t.Errorf("pool stats = %d/%d", p.UsedBytes, p.TotalBytes)
	}
	if p.UsedBytes > p.TotalBytes {
		t.Errorf("pool bound violated: used %d > total %d", p.UsedBytes, p.TotalBytes)
	}

	if err := a.Deallocate(alloc); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
	if got := a.Stats().TotalUsed; got != 0 {
		t.Errorf("TotalUsed after free = %d, want 0", got)
	}
}

func TestAllocateErrors(t *testing.T) {
	a := New(testConfig(), nil)
	defer a.Close()

	tests := []struct {
		name string
		fn   func() error
		want error
	}{
		{"zero size", func() error {
			_, err := a.Allocate(VertexData, 0)
			return err
		}, ErrInvalidSize},
		{"texture type via Allocate", func() error {
			_, err := a.Allocate(HeightTexture, 4096)
			return err
		}, ErrNeedsDimensions},
		{"buffer type via AllocateTexture2D", func() error {
			_, err := a.AllocateTexture2D(VertexData, 64, 64, FormatR32Float)
			return err
		}, ErrInvalidSize},
		{"zero dims", func() error {
			_, err := a.AllocateTexture2D(HeightTexture, 0, 64, FormatR32Float)
			return err
		}, ErrInvalidSize},
		{"nil deallocate", func() error {
			return a.Deallocate(nil)
		}, ErrNilAllocation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExhaustionRejectsWithoutPanic(t *testing.T) {
	// 1MB-class budget with a 2MB-class request: the pool cannot grow
	// past the global cap, so the request must be rejected cleanly.
	cfg := AllocatorConfig{
		MaxTotalMemory: 16 * mb,
		Pools: map[ResourceType]PoolConfig{
			VertexData: {
				PreferredPoolSize:     16 * mb,
				AllocationAlignment:   256,
				EnableDefragmentation: true,
			},
		},
	}
	a := New(cfg, nil)
	defer a.Close()

	_, err := a.Allocate(VertexData, 32*mb)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("err = %v, want ErrPoolExhausted", err)
	}

	// The failed request must not disturb accounting.
	if got := a.Stats().TotalUsed; got != 0 {
		t.Errorf("TotalUsed after rejection = %d, want 0", got)
	}

	// A fitting request still succeeds afterwards.
	alloc, err := a.Allocate(VertexData, 1*mb)
	if err != nil {
		t.Fatalf("Allocate after rejection: %v", err)
	}
	a.Deallocate(alloc)
}

func TestDoubleDeallocateDetected(t *testing.T) {
	a := New(testConfig(), nil)
	defer a.Close()

	alloc, err := a.Allocate(VertexData, 4096)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := a.Deallocate(alloc); err != nil {
		t.Fatalf("first Deallocate: %v", err)
	}
	if err := a.Deallocate(alloc); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("second Deallocate = %v, want ErrAlreadyReleased", err)
	}

	// Accounting untouched by the double free.
	if got := a.Stats().TotalUsed; got != 0 {
		t.Errorf("TotalUsed = %d, want 0", got)
	}
}

func TestTextureAllocations(t *testing.T) {
	a := New(AllocatorConfig{MaxTotalMemory: 64 * mb}, nil)
	defer a.Close()

	alloc, err := a.AllocateTexture2D(HeightTexture, 64, 64, FormatR32Float)
	if err != nil {
		t.Fatalf("AllocateTexture2D: %v", err)
	}
	if alloc.Texture() == 0 {
		t.Errorf("texture handle is zero")
	}
	if alloc.Buffer() != 0 {
		t.Errorf("dedicated texture has buffer handle")
	}
	if alloc.Size() != 64*64*4 {
		t.Errorf("Size = %d, want %d", alloc.Size(), 64*64*4)
	}
	if w, h := alloc.TextureSize(); w != 64 || h != 64 {
		t.Errorf("TextureSize = %dx%d", w, h)
	}
	if alloc.Offset() != 0 {
		t.Errorf("texture Offset = %d, want 0", alloc.Offset())
	}
	if err := a.Deallocate(alloc); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
}

func TestGrowthAddsBlocks(t *testing.T) {
	a := New(testConfig(), nil)
	defer a.Close()

	// Fill the initial 1MB block, then allocate again: the pool grows by
	// its factor instead of rejecting, since the 16MB cap has headroom.
	first, err := a.Allocate(VertexData, 1*mb)
	if err != nil {
		t.Fatalf("first Allocate: %v", err)
	}
	second, err := a.Allocate(VertexData, 1*mb)
	if err != nil {
		t.Fatalf("Allocate after growth: %v", err)
	}

	st := a.Stats()
	if st.Pools[0].BlockCount < 2 {
		t.Errorf("BlockCount = %d, want >= 2 after growth", st.Pools[0].BlockCount)
	}
	if st.Pools[0].UsedBytes > st.Pools[0].TotalBytes {
		t.Errorf("pool bound violated after growth")
	}

	a.Deallocate(first)
	a.Deallocate(second)
}

func TestResize(t *testing.T) {
	a := New(testConfig(), nil)
	defer a.Close()

	alloc, err := a.Allocate(VertexData, 512*1024)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	t.Run("shrink below used rejected", func(t *testing.T) {
		err := a.Resize(VertexData, 256*1024)
		if !errors.Is(err, ErrShrinkBelowUsed) {
			t.Errorf("err = %v, want ErrShrinkBelowUsed", err)
		}
	})

	t.Run("grow", func(t *testing.T) {
		if err := a.Resize(VertexData, 2*mb); err != nil {
			t.Fatalf("Resize up: %v", err)
		}
		if got := poolTotal(t, a, VertexData); got != 2*mb {
			t.Errorf("total = %d, want %d", got, 2*mb)
		}
	})

	t.Run("shrink drops empty blocks", func(t *testing.T) {
		if err := a.Resize(VertexData, 1*mb); err != nil {
			t.Fatalf("Resize down: %v", err)
		}
		if got := poolTotal(t, a, VertexData); got != 1*mb {
			t.Errorf("total = %d, want %d", got, 1*mb)
		}
	})

	a.Deallocate(alloc)
}

func poolTotal(t *testing.T, a *Allocator, typ ResourceType) uint64 {
	t.Helper()
	for _, p := range a.Stats().Pools {
		if p.Type == typ {
			return p.TotalBytes
		}
	}
	t.Fatalf("pool %v not found", typ)
	return 0
}

func TestPressureCallbacks(t *testing.T) {
	// 16MB cap, thresholds 0.7 and 0.9. Allocating 4MB steps crosses
	// warning at 12MB and critical at 16MB; each crossing fires exactly
	// once, and the critical callback evicts to bring usage back down.
	cfg := AllocatorConfig{
		MaxTotalMemory:    16 * mb,
		WarningThreshold:  0.7,
		CriticalThreshold: 0.9,
		Pools: map[ResourceType]PoolConfig{
			VertexData: {
				PreferredPoolSize:     16 * mb,
				AllocationAlignment:   256,
				EnableDefragmentation: true,
			},
		},
	}
	a := New(cfg, nil)
	defer a.Close()

	var (
		mu        sync.Mutex
		warnCount int
		critCount int
		critRatio float64
		allocs    []*Allocation
	)
	a.SetPressureCallback(func(ratio float64, level PressureLevel) {
		mu.Lock()
		defer mu.Unlock()
		switch level {
		case PressureWarning:
			warnCount++
		case PressureCritical:
			critCount++
			critRatio = ratio
			// Mitigate: release the oldest allocation. The callback
			// runs without allocator locks held, so calling back into
			// Deallocate here is legal.
			if len(allocs) > 0 {
				a.Deallocate(allocs[0])
				allocs = allocs[1:]
			}
		}
	})

	allocate := func() {
		t.Helper()
		alloc, err := a.Allocate(VertexData, 4*mb)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		mu.Lock()
		allocs = append(allocs, alloc)
		mu.Unlock()
	}

	allocate() // 4MB, 0.25
	allocate() // 8MB, 0.50
	if warnCount != 0 || critCount != 0 {
		t.Fatalf("premature callbacks: warn=%d crit=%d", warnCount, critCount)
	}

	allocate() // 12MB, 0.75: warning crossing
	if warnCount != 1 {
		t.Fatalf("warnCount = %d, want 1", warnCount)
	}

	allocate() // 16MB, 1.0: critical crossing, callback evicts 4MB
	if critCount != 1 {
		t.Fatalf("critCount = %d, want 1", critCount)
	}
	if after := a.UsageRatio(); after >= critRatio {
		t.Errorf("usage after mitigation = %.2f, want < %.2f (ratio at crossing)", after, critRatio)
	}

	// Still above the warning threshold, so the warning does not re-arm
	// and allocating again must not fire it a second time.
	allocate() // back to 16MB: critical re-armed at 0.75, fires again
	if critCount != 2 {
		t.Errorf("critCount = %d, want 2 (one per crossing)", critCount)
	}
	if warnCount != 1 {
		t.Errorf("warnCount = %d, want 1 (never dropped below warning)", warnCount)
	}

	mu.Lock()
	rest := allocs
	allocs = nil
	mu.Unlock()
	for _, al := range rest {
		a.Deallocate(al)
	}

	// Everything released: both triggers re-arm and fire on the next
	// climb.
	if got := a.UsageRatio(); got != 0 {
		t.Fatalf("ratio after full release = %v", got)
	}
	allocate()
	allocate()
	allocate()
	if warnCount != 2 {
		t.Errorf("warnCount after re-arm = %d, want 2", warnCount)
	}
}

func TestConcurrentAllocateDeallocate(t *testing.T) {
	// Two workers hammer the same pool with random sizes; when both
	// finish and release their survivors, accounting must be exactly
	// zero. Mirrors the dual-thread allocator stress contract.
	a := New(AllocatorConfig{MaxTotalMemory: 64 * mb}, nil)
	defer a.Close()

	const (
		workers = 2
		iters   = 10000
	)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			var live []*Allocation
			for i := 0; i < iters; i++ {
				if len(live) > 0 && rng.Intn(2) == 0 {
					idx := rng.Intn(len(live))
					if err := a.Deallocate(live[idx]); err != nil {
						t.Errorf("Deallocate: %v", err)
						return
					}
					live[idx] = live[len(live)-1]
					live = live[:len(live)-1]
					continue
				}
				size := uint64(rng.Intn(64*1024) + 1)
				alloc, err := a.Allocate(StagingBuffer, size)
				if err != nil {
					if errors.Is(err, ErrPoolExhausted) {
						continue
					}
					t.Errorf("Allocate: %v", err)
					return
				}
				live = append(live, alloc)
			}
			for _, alloc := range live {
				if err := a.Deallocate(alloc); err != nil {
					t.Errorf("final Deallocate: %v", err)
					return
				}
			}
		}(int64(w + 1))
	}
	wg.Wait()

	st := a.Stats()
	if st.TotalUsed != 0 {
		t.Errorf("TotalUsed = %d, want 0 after full release", st.TotalUsed)
	}
	for _, p := range st.Pools {
		if p.UsedBytes != 0 {
			t.Errorf("pool %v used = %d, want 0", p.Type, p.UsedBytes)
		}
		if p.AllocationCount != 0 {
			t.Errorf("pool %v allocs = %d, want 0", p.Type, p.AllocationCount)
		}
	}
	t.Logf("final stats: %s", st)
}

func TestClosedAllocator(t *testing.T) {
	a := New(testConfig(), nil)
	alloc, err := a.Allocate(VertexData, 4096)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a.Close()
	a.Close() // idempotent

	if _, err := a.Allocate(VertexData, 4096); !errors.Is(err, ErrAllocatorClosed) {
		t.Errorf("Allocate after close = %v, want ErrAllocatorClosed", err)
	}
	if err := a.Deallocate(alloc); !errors.Is(err, ErrAllocatorClosed) {
		t.Errorf("Deallocate after close = %v, want ErrAllocatorClosed", err)
	}
}

func TestMemoryReport(t *testing.T) {
	a := New(testConfig(), nil)
	defer a.Close()

	alloc, _ := a.Allocate(VertexData, 300*1024)
	defer a.Deallocate(alloc)

	report := a.MemoryReport()
	if report == "" {
		t.Fatal("empty report")
	}
	t.Logf("\n%s", report)
}
