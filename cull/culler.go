// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cull selects the terrain tiles worth rendering: a frustum
// visibility pass plus distance-band LOD selection. It has two execution
// paths that must agree bit-for-bit: a CPU spatial-hierarchy walk and a
// GPU compute dispatch with one invocation per candidate. When the GPU
// path is unavailable the culler degrades to the CPU path transparently.
package cull

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/terrain/geom"
	"github.com/gogpu/terrain/tile"
)

// Object is one culling candidate: a tile's world bounds and identity.
type Object struct {
	Bounds geom.Bounds
	Coord  tile.Coordinate
	Level  uint32
}

// Config tunes the culler.
type Config struct {
	// LODDistances are the ascending band thresholds. Zero entries are
	// unused bands.
	LODDistances [4]float32

	// MinLevel and MaxLevel clamp the selected LOD level.
	MinLevel uint32
	MaxLevel uint32

	// EnableFrustumCulling gates the visibility test; disabled, every
	// object is reported visible.
	EnableFrustumCulling bool

	// EnableLODSelection gates distance banding; disabled, objects keep
	// the level they were submitted with.
	EnableLODSelection bool

	// EnableGPU requests the compute path when a dispatcher is present.
	EnableGPU bool

	// LeafCapacity bounds objects per quadtree leaf. 0 selects the
	// default.
	LeafCapacity int
}

// GPUDispatcher runs the culling kernel on a device. internal/gpu
// provides the wgpu implementation; a stub dispatcher evaluates the
// reference function instead.
type GPUDispatcher interface {
	// DispatchCull runs one invocation per record and returns the packed
	// result words in record order.
	DispatchCull(records []Record, planes [6]PackedPlane, params Params) ([]uint32, error)
}

// Result is the outcome of one culling pass. Visible and Culled hold
// indices into the submitted object slice; Levels holds the selected LOD
// level for every object.
type Result struct {
	Visible []int
	Culled  []int
	Levels  []uint32
	UsedGPU bool
}

// Stats counts culler activity since construction.
type Stats struct {
	Passes       uint64
	GPUPasses    uint64
	ObjectsSeen  uint64
	ObjectsCut   uint64
	GPUFallbacks uint64
}

// Culler decides tile visibility and LOD each frame.
type Culler struct {
	cfg        Config
	dispatcher GPUDispatcher

	gpuDisabled  atomic.Bool
	fallbackOnce sync.Once

	mu      sync.Mutex
	tree    *quadtree
	visible []bool
	records []Record

	passes    atomic.Uint64
	gpuPasses atomic.Uint64
	seen      atomic.Uint64
	cut       atomic.Uint64
	fallbacks atomic.Uint64
}

// New creates a culler. dispatcher may be nil, which pins the culler to
// the CPU path.
func New(cfg Config, dispatcher GPUDispatcher) *Culler {
	if cfg.MaxLevel < cfg.MinLevel {
		cfg.MaxLevel = cfg.MinLevel
	}
	c := &Culler{
		cfg:        cfg,
		dispatcher: dispatcher,
		tree:       newQuadtree(cfg.LeafCapacity),
	}
	if dispatcher == nil {
		c.gpuDisabled.Store(true)
	}
	return c
}

// GPUActive reports whether the compute path is currently in use.
func (c *Culler) GPUActive() bool {
	return c.cfg.EnableGPU && !c.gpuDisabled.Load()
}

// SelectBand returns the LOD level for a distance under the configured
// bands. Distances exactly on a threshold belong to the nearer band.
func (c *Culler) SelectBand(distance float32) uint32 {
	return bandLevel(distance, c.cfg.LODDistances, c.cfg.MinLevel, c.cfg.MaxLevel)
}

// Cull computes the visible subset and LOD levels for the object set.
// The GPU path is used when enabled and healthy; any dispatch error
// permanently disables it for this culler and reroutes to the CPU path,
// logged once rather than per frame.
func (c *Culler) Cull(f geom.Frustum, cameraPos geom.Vec3, objects []Object) Result {
	c.passes.Add(1)
	c.seen.Add(uint64(len(objects)))

	res := Result{Levels: make([]uint32, len(objects))}
	if len(objects) == 0 {
		return res
	}

	planes := PackPlanes(f)
	params := c.params(cameraPos, len(objects))

	if c.GPUActive() {
		if words, err := c.dispatchGPU(objects, planes, params); err == nil {
			c.gpuPasses.Add(1)
			res.UsedGPU = true
			c.partition(&res, objects, words)
			return res
		} else {
			c.disableGPU(err)
		}
	}

	words := c.cullCPU(f, planes, params, objects)
	c.partition(&res, objects, words)
	return res
}

// params assembles the shared parameter block.
func (c *Culler) params(cameraPos geom.Vec3, count int) Params {
	p := Params{
		CameraPosition: [3]float32{cameraPos[0], cameraPos[1], cameraPos[2]},
		ObjectCount:    uint32(count),
		LODDistances:   c.cfg.LODDistances,
		MinLevel:       c.cfg.MinLevel,
		MaxLevel:       c.cfg.MaxLevel,
	}
	if c.cfg.EnableFrustumCulling {
		p.EnableFrustumCulling = 1
	}
	if c.cfg.EnableLODSelection {
		p.EnableLODSelection = 1
	}
	return p
}

// dispatchGPU runs the compute path.
func (c *Culler) dispatchGPU(objects []Object, planes [6]PackedPlane, params Params) ([]uint32, error) {
	c.mu.Lock()
	c.records = c.records[:0]
	for i, o := range objects {
		c.records = append(c.records, RecordFor(i, o))
	}
	records := c.records
	c.mu.Unlock()

	return c.dispatcher.DispatchCull(records, planes, params)
}

// cullCPU runs the spatial-hierarchy path and packs results in the same
// word format the kernel writes.
func (c *Culler) cullCPU(f geom.Frustum, planes [6]PackedPlane, params Params, objects []Object) []uint32 {
	c.mu.Lock()
	if cap(c.visible) < len(objects) {
		c.visible = make([]bool, len(objects))
	}
	vis := c.visible[:len(objects)]
	for i := range vis {
		vis[i] = !c.cfg.EnableFrustumCulling
	}
	if c.cfg.EnableFrustumCulling {
		c.tree.build(objects)
		c.tree.traverse(objects, f, planes, vis)
	}

	words := make([]uint32, len(objects))
	cam := geom.Vec3{params.CameraPosition[0], params.CameraPosition[1], params.CameraPosition[2]}
	for i, o := range objects {
		level := o.Level
		if params.EnableLODSelection != 0 {
			dist := geom.Distance(cam, o.Bounds.Sphere().Center)
			level = bandLevel(dist, params.LODDistances, params.MinLevel, params.MaxLevel)
		}
		words[i] = packResult(vis[i], level)
	}
	c.mu.Unlock()
	return words
}

// partition splits packed result words into the visible and culled index
// sets.
func (c *Culler) partition(res *Result, objects []Object, words []uint32) {
	for i := range objects {
		visible, level := unpackResult(words[i])
		res.Levels[i] = level
		if visible {
			res.Visible = append(res.Visible, i)
		} else {
			res.Culled = append(res.Culled, i)
		}
	}
	c.cut.Add(uint64(len(res.Culled)))
}

// disableGPU permanently routes this culler to the CPU path.
func (c *Culler) disableGPU(err error) {
	c.gpuDisabled.Store(true)
	c.fallbacks.Add(1)
	c.fallbackOnce.Do(func() {
		logger().Warn("GPU culling unavailable, falling back to CPU path", "err", err)
	})
}

// Stats returns a snapshot of culler activity.
func (c *Culler) Stats() Stats {
	return Stats{
		Passes:       c.passes.Load(),
		GPUPasses:    c.gpuPasses.Load(),
		ObjectsSeen:  c.seen.Load(),
		ObjectsCut:   c.cut.Load(),
		GPUFallbacks: c.fallbacks.Load(),
	}
}
