// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cull

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/gogpu/terrain/geom"
	"github.com/gogpu/terrain/tile"
)

// stubDispatcher evaluates the reference function per record, the way
// the stub GPU context does.
type stubDispatcher struct {
	calls int
	fail  error
}

func (d *stubDispatcher) DispatchCull(records []Record, planes [6]PackedPlane, params Params) ([]uint32, error) {
	d.calls++
	if d.fail != nil {
		return nil, d.fail
	}
	out := make([]uint32, len(records))
	for i, r := range records {
		out[i] = EvaluateRecord(r, planes, params)
	}
	return out, nil
}

func testConfig() Config {
	return Config{
		LODDistances:         [4]float32{100, 400, 1600, 6400},
		MinLevel:             0,
		MaxLevel:             4,
		EnableFrustumCulling: true,
		EnableLODSelection:   true,
		EnableGPU:            true,
	}
}

func boxAt(x, z, size float32) geom.Bounds {
	return geom.Bounds{
		Min: geom.Vec3{x, 0, z},
		Max: geom.Vec3{x + size, 10, z + size},
	}
}

func randomObjects(r *rand.Rand, n int) []Object {
	objs := make([]Object, n)
	for i := range objs {
		x := r.Float32()*4000 - 2000
		z := r.Float32()*4000 - 2000
		size := r.Float32()*200 + 1
		objs[i] = Object{
			Bounds: boxAt(x, z, size),
			Coord:  tile.Coordinate{X: int32(i), Level: uint32(r.Intn(5)), DatasetID: "ds"},
			Level:  uint32(r.Intn(5)),
		}
	}
	return objs
}

func TestCPUGPUAgreement(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	frustum := geom.FrustumFromBox(geom.Bounds{
		Min: geom.Vec3{-500, -100, -500},
		Max: geom.Vec3{500, 100, 500},
	})
	camera := geom.Vec3{0, 50, 0}

	for trial := 0; trial < 50; trial++ {
		objs := randomObjects(r, 64)

		gpu := New(testConfig(), &stubDispatcher{})
		cpu := New(testConfig(), nil)

		rg := gpu.Cull(frustum, camera, objs)
		rc := cpu.Cull(frustum, camera, objs)

		if !rg.UsedGPU {
			t.Fatal("GPU culler did not take the GPU path")
		}
		if rc.UsedGPU {
			t.Fatal("CPU culler claims GPU path")
		}
		if len(rg.Visible) != len(rc.Visible) {
			t.Fatalf("trial %d: visible count GPU=%d CPU=%d", trial, len(rg.Visible), len(rc.Visible))
		}
		for i := range rg.Visible {
			if rg.Visible[i] != rc.Visible[i] {
				t.Fatalf("trial %d: visible[%d] GPU=%d CPU=%d", trial, i, rg.Visible[i], rc.Visible[i])
			}
		}
		for i := range rg.Levels {
			if rg.Levels[i] != rc.Levels[i] {
				t.Fatalf("trial %d: level[%d] GPU=%d CPU=%d", trial, i, rg.Levels[i], rc.Levels[i])
			}
		}
	}
}

func TestBandTieGoesToNearerBand(t *testing.T) {
	c := New(testConfig(), nil)

	tests := []struct {
		dist float32
		want uint32
	}{
		{0, 4},
		{99, 4},
		{100, 4}, // exactly on the threshold: nearer band, finer level
		{100.01, 3},
		{400, 3},
		{401, 2},
		{1600, 2},
		{1601, 1},
		{6400, 1},
		{6401, 0},
		{1e9, 0},
	}
	for _, tt := range tests {
		if got := c.SelectBand(tt.dist); got != tt.want {
			t.Errorf("SelectBand(%g) = %d, want %d", tt.dist, got, tt.want)
		}
	}
}

func TestBandLevelClamping(t *testing.T) {
	bands := [4]float32{10, 20, 30, 40}
	if got := bandLevel(1e9, bands, 2, 4); got != 2 {
		t.Errorf("far distance level = %d, want MinLevel 2", got)
	}
	if got := bandLevel(0, bands, 0, 3); got != 3 {
		t.Errorf("near distance level = %d, want MaxLevel 3", got)
	}
}

func TestCullPartition(t *testing.T) {
	frustum := geom.FrustumFromBox(geom.Bounds{
		Min: geom.Vec3{-10, -10, -10},
		Max: geom.Vec3{10, 10, 10},
	})
	objs := []Object{
		{Bounds: boxAt(-5, -5, 2)},      // inside
		{Bounds: boxAt(1000, 1000, 10)}, // far outside
		{Bounds: boxAt(8, 8, 10)},       // straddles
	}

	c := New(testConfig(), nil)
	res := c.Cull(frustum, geom.Vec3{0, 0, 0}, objs)

	if len(res.Visible)+len(res.Culled) != len(objs) {
		t.Fatalf("partition lost objects: %d visible + %d culled != %d",
			len(res.Visible), len(res.Culled), len(objs))
	}
	wantVisible := map[int]bool{0: true, 1: false, 2: true}
	for _, i := range res.Visible {
		if !wantVisible[i] {
			t.Errorf("object %d reported visible", i)
		}
	}
	for _, i := range res.Culled {
		if wantVisible[i] {
			t.Errorf("object %d reported culled", i)
		}
	}
}

func TestFrustumCullingDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableFrustumCulling = false
	c := New(cfg, nil)

	objs := []Object{
		{Bounds: boxAt(1e6, 1e6, 1)},
		{Bounds: boxAt(0, 0, 1)},
	}
	res := c.Cull(geom.FrustumFromBox(boxAt(0, 0, 1)), geom.Vec3{}, objs)
	if len(res.Visible) != len(objs) {
		t.Fatalf("visible = %d with culling disabled, want %d", len(res.Visible), len(objs))
	}
}

func TestGPUFallbackIsPermanent(t *testing.T) {
	d := &stubDispatcher{fail: errors.New("device lost")}
	c := New(testConfig(), d)

	objs := randomObjects(rand.New(rand.NewSource(7)), 8)
	f := geom.FrustumFromBox(geom.Bounds{Min: geom.Vec3{-100, -100, -100}, Max: geom.Vec3{100, 100, 100}})

	res := c.Cull(f, geom.Vec3{}, objs)
	if res.UsedGPU {
		t.Fatal("failed dispatch reported as GPU pass")
	}
	if len(res.Visible)+len(res.Culled) != len(objs) {
		t.Fatal("fallback lost objects")
	}
	if c.GPUActive() {
		t.Fatal("GPU path still active after dispatch failure")
	}

	// Subsequent passes must not retry the dispatcher.
	d.fail = nil
	_ = c.Cull(f, geom.Vec3{}, objs)
	if d.calls != 1 {
		t.Fatalf("dispatcher called %d times, want 1 (fallback is for the session)", d.calls)
	}

	st := c.Stats()
	if st.GPUFallbacks != 1 {
		t.Errorf("fallbacks = %d, want 1", st.GPUFallbacks)
	}
	if st.Passes != 2 {
		t.Errorf("passes = %d, want 2", st.Passes)
	}
}

func TestEmptyObjectSet(t *testing.T) {
	c := New(testConfig(), &stubDispatcher{})
	res := c.Cull(geom.Frustum{}, geom.Vec3{}, nil)
	if len(res.Visible) != 0 || len(res.Culled) != 0 || len(res.Levels) != 0 {
		t.Fatal("empty input produced output")
	}
}

func TestQuadtreePruneNeverDropsPassingSphere(t *testing.T) {
	// Brute-force sphere tests against the tree traversal: the tree may
	// never cull an object whose flat sphere test passes.
	r := rand.New(rand.NewSource(99))
	f := geom.FrustumFromBox(geom.Bounds{
		Min: geom.Vec3{-300, -50, -300},
		Max: geom.Vec3{300, 50, 300},
	})
	planes := PackPlanes(f)

	for trial := 0; trial < 20; trial++ {
		objs := randomObjects(r, 128)

		tree := newQuadtree(0)
		tree.build(objs)
		got := make([]bool, len(objs))
		tree.traverse(objs, f, planes, got)

		for i, o := range objs {
			want := f.ContainsSphere(o.Bounds.Sphere())
			if got[i] != want {
				t.Fatalf("trial %d object %d: tree=%v flat=%v bounds=%v",
					trial, i, got[i], want, o.Bounds)
			}
		}
	}
}

func TestRecordSerializationRoundTrip(t *testing.T) {
	objs := randomObjects(rand.New(rand.NewSource(5)), 4)
	records := make([]Record, len(objs))
	for i, o := range objs {
		records[i] = RecordFor(i, o)
	}

	b := RecordsBytes(records)
	if len(b) != len(records)*RecordSize {
		t.Fatalf("records bytes = %d, want %d", len(b), len(records)*RecordSize)
	}

	p := Params{ObjectCount: 4, LODDistances: [4]float32{1, 2, 3, 4}, MaxLevel: 4}
	if got := len(ParamsBytes(p)); got != ParamsSize {
		t.Fatalf("params bytes = %d, want %d", got, ParamsSize)
	}

	words := []uint32{packResult(true, 3), packResult(false, 1)}
	raw := make([]byte, 8)
	for i, w := range words {
		putU32(raw, i*4, w)
	}
	decoded := DecodeFlags(raw, 2)
	for i := range words {
		if decoded[i] != words[i] {
			t.Errorf("flag %d = %#x, want %#x", i, decoded[i], words[i])
		}
	}
	if v, l := unpackResult(decoded[0]); !v || l != 3 {
		t.Errorf("unpack = (%v, %d), want (true, 3)", v, l)
	}
}
