// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cull

import (
	"math"

	"github.com/gogpu/terrain/geom"
)

// Record is the GPU-compatible culling record for one candidate tile.
// Must match CullRecord in cull.wgsl: two vec3s padded to vec4 with the
// id and level in the w lanes.
type Record struct {
	BoundsMin [3]float32
	ID        uint32
	BoundsMax [3]float32
	Level     uint32
}

// RecordSize is the byte size of one Record on the GPU.
const RecordSize = 32

// Params is the culling parameter block. Must match CullParams in
// cull.wgsl (48 bytes, 16-byte aligned).
type Params struct {
	CameraPosition       [3]float32
	ObjectCount          uint32
	LODDistances         [4]float32
	EnableFrustumCulling uint32
	EnableLODSelection   uint32
	MinLevel             uint32
	MaxLevel             uint32
}

// ParamsSize is the byte size of Params on the GPU.
const ParamsSize = 48

// PackedPlane is one frustum plane as the shader consumes it: normal in
// xyz, D in w.
type PackedPlane [4]float32

// Result flag layout: bit 0 is visibility, bits 8+ carry the selected
// LOD level. CPU and GPU paths produce identical words.
const (
	flagVisible = 1
	levelShift  = 8
)

// packResult builds the per-object output word.
func packResult(visible bool, level uint32) uint32 {
	w := level << levelShift
	if visible {
		w |= flagVisible
	}
	return w
}

// unpackResult splits an output word.
func unpackResult(w uint32) (visible bool, level uint32) {
	return w&flagVisible != 0, w >> levelShift
}

// PackPlanes converts a frustum to the shader plane layout.
func PackPlanes(f geom.Frustum) [6]PackedPlane {
	var out [6]PackedPlane
	for i, p := range f {
		out[i] = PackedPlane{p.Normal[0], p.Normal[1], p.Normal[2], p.D}
	}
	return out
}

// RecordFor builds the culling record for one object.
func RecordFor(id int, o Object) Record {
	return Record{
		BoundsMin: [3]float32{o.Bounds.Min[0], o.Bounds.Min[1], o.Bounds.Min[2]},
		ID:        uint32(id),
		BoundsMax: [3]float32{o.Bounds.Max[0], o.Bounds.Max[1], o.Bounds.Max[2]},
		Level:     o.Level,
	}
}

// EvaluateRecord runs the shader algorithm for one record on the CPU:
// bounding-sphere-vs-plane frustum test followed by distance banding.
// This is the reference implementation the WGSL kernel mirrors; the stub
// dispatcher executes it directly, which is what makes CPU and GPU
// results bit-identical.
func EvaluateRecord(rec Record, planes [6]PackedPlane, p Params) uint32 {
	b := geom.Bounds{
		Min: geom.Vec3{rec.BoundsMin[0], rec.BoundsMin[1], rec.BoundsMin[2]},
		Max: geom.Vec3{rec.BoundsMax[0], rec.BoundsMax[1], rec.BoundsMax[2]},
	}
	s := b.Sphere()

	visible := true
	if p.EnableFrustumCulling != 0 {
		for _, pl := range planes {
			d := pl[0]*s.Center[0] + pl[1]*s.Center[1] + pl[2]*s.Center[2] + pl[3]
			if d < -s.Radius {
				visible = false
				break
			}
		}
	}

	level := rec.Level
	if p.EnableLODSelection != 0 {
		cam := geom.Vec3{p.CameraPosition[0], p.CameraPosition[1], p.CameraPosition[2]}
		dist := geom.Distance(cam, s.Center)
		level = bandLevel(dist, p.LODDistances, p.MinLevel, p.MaxLevel)
	}
	return packResult(visible, level)
}

// bandLevel maps a distance to a target LOD level: the band index is the
// number of thresholds the distance exceeds, and finer levels sit in
// nearer bands. A distance exactly on a threshold belongs to the nearer
// band (strict comparison). Band and level run in opposite directions:
// higher level means finer detail, so level = maxLevel - band, not band
// itself.
func bandLevel(dist float32, bands [4]float32, minLevel, maxLevel uint32) uint32 {
	var band uint32
	for _, threshold := range bands {
		if threshold > 0 && dist > threshold {
			band++
		}
	}
	if band > maxLevel {
		band = maxLevel
	}
	level := maxLevel - band
	if level < minLevel {
		level = minLevel
	}
	return level
}

// RecordsBytes serializes records little-endian for a device buffer.
func RecordsBytes(records []Record) []byte {
	out := make([]byte, len(records)*RecordSize)
	pos := 0
	for _, r := range records {
		pos = putF32(out, pos, r.BoundsMin[0])
		pos = putF32(out, pos, r.BoundsMin[1])
		pos = putF32(out, pos, r.BoundsMin[2])
		pos = putU32(out, pos, r.ID)
		pos = putF32(out, pos, r.BoundsMax[0])
		pos = putF32(out, pos, r.BoundsMax[1])
		pos = putF32(out, pos, r.BoundsMax[2])
		pos = putU32(out, pos, r.Level)
	}
	return out
}

// PlanesBytes serializes the six packed planes.
func PlanesBytes(planes [6]PackedPlane) []byte {
	out := make([]byte, 6*16)
	pos := 0
	for _, p := range planes {
		for _, c := range p {
			pos = putF32(out, pos, c)
		}
	}
	return out
}

// ParamsBytes serializes the parameter block.
func ParamsBytes(p Params) []byte {
	out := make([]byte, ParamsSize)
	pos := 0
	pos = putF32(out, pos, p.CameraPosition[0])
	pos = putF32(out, pos, p.CameraPosition[1])
	pos = putF32(out, pos, p.CameraPosition[2])
	pos = putU32(out, pos, p.ObjectCount)
	for _, d := range p.LODDistances {
		pos = putF32(out, pos, d)
	}
	pos = putU32(out, pos, p.EnableFrustumCulling)
	pos = putU32(out, pos, p.EnableLODSelection)
	pos = putU32(out, pos, p.MinLevel)
	putU32(out, pos, p.MaxLevel)
	return out
}

// DecodeFlags turns a readback buffer into output words.
func DecodeFlags(data []byte, count int) []uint32 {
	out := make([]uint32, count)
	for i := 0; i < count && i*4+3 < len(data); i++ {
		out[i] = uint32(data[i*4]) | uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
	}
	return out
}

func putU32(b []byte, pos int, v uint32) int {
	b[pos] = byte(v)
	b[pos+1] = byte(v >> 8)
	b[pos+2] = byte(v >> 16)
	b[pos+3] = byte(v >> 24)
	return pos + 4
}

func putF32(b []byte, pos int, v float32) int {
	return putU32(b, pos, math.Float32bits(v))
}
