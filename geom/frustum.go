// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package geom

// Plane is the set of points p with Dot(Normal, p) + D == 0. The normal
// points toward the inside half-space: a point is in front of (inside) the
// plane when its signed distance is non-negative.
type Plane struct {
	Normal Vec3
	D      float32
}

// DistanceTo returns the signed distance from p to the plane. Positive
// means inside.
func (pl Plane) DistanceTo(p Vec3) float32 {
	return Dot(pl.Normal, p) + pl.D
}

// Normalized returns the plane scaled so that the normal has unit length,
// which makes DistanceTo return true world-space distances.
func (pl Plane) Normalized() Plane {
	l := Length(pl.Normal)
	if l == 0 {
		return pl
	}
	inv := 1 / l
	return Plane{Normal: Scale(pl.Normal, inv), D: pl.D * inv}
}

// PositiveVertex returns the corner of b farthest along the plane normal.
// If that corner is behind the plane, the whole box is.
func (pl Plane) PositiveVertex(b Bounds) Vec3 {
	v := b.Min
	if pl.Normal[0] >= 0 {
		v[0] = b.Max[0]
	}
	if pl.Normal[1] >= 0 {
		v[1] = b.Max[1]
	}
	if pl.Normal[2] >= 0 {
		v[2] = b.Max[2]
	}
	return v
}

// Frustum plane indices.
const (
	PlaneLeft = iota
	PlaneRight
	PlaneBottom
	PlaneTop
	PlaneNear
	PlaneFar
)

// Frustum is six inward-facing planes bounding a camera volume.
type Frustum [6]Plane

// FrustumFromMatrix extracts the six frustum planes from a combined
// view-projection matrix using the Gribb-Hartmann method (plane
// coefficients are sums and differences of matrix rows). The planes are
// returned normalized.
func FrustumFromMatrix(m Mat4) Frustum {
	row := func(r int) [4]float32 {
		return [4]float32{m[4*r+0], m[4*r+1], m[4*r+2], m[4*r+3]}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	plane := func(a, b [4]float32, sub bool) Plane {
		var c [4]float32
		for i := range c {
			if sub {
				c[i] = a[i] - b[i]
			} else {
				c[i] = a[i] + b[i]
			}
		}
		return Plane{Normal: Vec3{c[0], c[1], c[2]}, D: c[3]}.Normalized()
	}

	var f Frustum
	f[PlaneLeft] = plane(r3, r0, false)
	f[PlaneRight] = plane(r3, r0, true)
	f[PlaneBottom] = plane(r3, r1, false)
	f[PlaneTop] = plane(r3, r1, true)
	f[PlaneNear] = plane(r3, r2, false)
	f[PlaneFar] = plane(r3, r2, true)
	return f
}

// FrustumFromBox builds an axis-aligned frustum whose volume is exactly
// the box b. Useful for orthographic captures and tests.
func FrustumFromBox(b Bounds) Frustum {
	return Frustum{
		PlaneLeft:   {Normal: Vec3{1, 0, 0}, D: -b.Min[0]},
		PlaneRight:  {Normal: Vec3{-1, 0, 0}, D: b.Max[0]},
		PlaneBottom: {Normal: Vec3{0, 1, 0}, D: -b.Min[1]},
		PlaneTop:    {Normal: Vec3{0, -1, 0}, D: b.Max[1]},
		PlaneNear:   {Normal: Vec3{0, 0, 1}, D: -b.Min[2]},
		PlaneFar:    {Normal: Vec3{0, 0, -1}, D: b.Max[2]},
	}
}

// ContainsBounds reports whether b is at least partially inside the
// frustum. A box is rejected only when it lies entirely behind one of the
// planes, tested via the positive vertex; boxes that straddle planes are
// reported visible.
func (f Frustum) ContainsBounds(b Bounds) bool {
	for i := range f {
		if f[i].DistanceTo(f[i].PositiveVertex(b)) < 0 {
			return false
		}
	}
	return true
}

// ContainsSphere reports whether the sphere is at least partially inside
// the frustum.
func (f Frustum) ContainsSphere(s Sphere) bool {
	for i := range f {
		if f[i].DistanceTo(s.Center) < -s.Radius {
			return false
		}
	}
	return true
}
