// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package geom

import "fmt"

// Bounds is a world-space axis-aligned bounding box.
type Bounds struct {
	Min Vec3
	Max Vec3
}

// NewBounds returns a Bounds with Min and Max fixed up so that
// Min <= Max on every axis.
func NewBounds(a, b Vec3) Bounds {
	return Bounds{Min: Min3(a, b), Max: Max3(a, b)}
}

// Center returns the midpoint of the box.
func (b Bounds) Center() Vec3 {
	return Vec3{
		(b.Min[0] + b.Max[0]) * 0.5,
		(b.Min[1] + b.Max[1]) * 0.5,
		(b.Min[2] + b.Max[2]) * 0.5,
	}
}

// Size returns the extent of the box on each axis.
func (b Bounds) Size() Vec3 {
	return Sub(b.Max, b.Min)
}

// Sphere returns the bounding sphere of the box: its center and the
// half-diagonal radius. This is the sphere the leaf culling test and the
// compute kernel both use.
func (b Bounds) Sphere() Sphere {
	return Sphere{
		Center: b.Center(),
		Radius: Length(Scale(Sub(b.Max, b.Min), 0.5)),
	}
}

// Union returns the smallest box containing both b and o.
func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{Min: Min3(b.Min, o.Min), Max: Max3(b.Max, o.Max)}
}

// Contains reports whether p lies inside the box (inclusive).
func (b Bounds) Contains(p Vec3) bool {
	return p[0] >= b.Min[0] && p[0] <= b.Max[0] &&
		p[1] >= b.Min[1] && p[1] <= b.Max[1] &&
		p[2] >= b.Min[2] && p[2] <= b.Max[2]
}

// Intersects reports whether b and o overlap (touching counts).
func (b Bounds) Intersects(o Bounds) bool {
	return b.Min[0] <= o.Max[0] && b.Max[0] >= o.Min[0] &&
		b.Min[1] <= o.Max[1] && b.Max[1] >= o.Min[1] &&
		b.Min[2] <= o.Max[2] && b.Max[2] >= o.Min[2]
}

// MinElevation returns the lowest elevation covered by the box.
func (b Bounds) MinElevation() float32 { return b.Min[1] }

// MaxElevation returns the highest elevation covered by the box.
func (b Bounds) MaxElevation() float32 { return b.Max[1] }

// WithElevation returns a copy of b with the elevation range replaced.
func (b Bounds) WithElevation(minElev, maxElev float32) Bounds {
	out := b
	out.Min[1] = minElev
	out.Max[1] = maxElev
	return out
}

// String returns a compact representation for logs and test output.
func (b Bounds) String() string {
	return fmt.Sprintf("[%g %g %g]-[%g %g %g]",
		b.Min[0], b.Min[1], b.Min[2], b.Max[0], b.Max[1], b.Max[2])
}

// Sphere is a bounding sphere.
type Sphere struct {
	Center Vec3
	Radius float32
}
