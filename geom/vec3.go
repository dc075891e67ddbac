// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package geom provides the float32 vector and bounding-volume math shared
// by the tile, cull, and GPU layers.
//
// Everything here is deliberately float32: the culling predicates must
// produce the same results whether they run on the CPU or inside the WGSL
// compute kernel, so expressions are written with a fixed evaluation order
// and no intermediate float64 widening.
package geom

import (
	"math"

	"golang.org/x/image/math/f32"
)

// Vec3 is a 3-element float32 vector. The Y component carries elevation.
type Vec3 = f32.Vec3

// Mat4 is a 4x4 float32 matrix in row major order: m[4*r+c] is the element
// in the r'th row and c'th column.
type Mat4 = f32.Mat4

// V3 is a convenience constructor for Vec3.
func V3(x, y, z float32) Vec3 {
	return Vec3{x, y, z}
}

// Add returns a + b.
func Add(a, b Vec3) Vec3 {
	return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// Sub returns a - b.
func Sub(a, b Vec3) Vec3 {
	return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

// Scale returns v scaled by s.
func Scale(v Vec3, s float32) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Dot returns the dot product of a and b.
func Dot(a, b Vec3) float32 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// Length returns the Euclidean length of v.
func Length(v Vec3) float32 {
	return Sqrt(Dot(v, v))
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Vec3) float32 {
	return Length(Sub(a, b))
}

// Normalize returns v scaled to unit length. The zero vector is returned
// unchanged.
func Normalize(v Vec3) Vec3 {
	l := Length(v)
	if l == 0 {
		return v
	}
	return Scale(v, 1/l)
}

// Sqrt is float32 square root. Shared so every culling path rounds
// identically.
func Sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// Min3 returns the component-wise minimum of a and b.
func Min3(a, b Vec3) Vec3 {
	return Vec3{minf(a[0], b[0]), minf(a[1], b[1]), minf(a[2], b[2])}
}

// Max3 returns the component-wise maximum of a and b.
func Max3(a, b Vec3) Vec3 {
	return Vec3{maxf(a[0], b[0]), maxf(a[1], b[1]), maxf(a[2], b[2])}
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
