// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cull

import "github.com/gogpu/terrain/geom"

// node is one quadtree node in the arena. Children are arena indices
// (-1 when absent), never pointers, so the whole tree is two flat slices
// that can be reused across frames.
type node struct {
	bounds   geom.Bounds
	children [4]int32
	objStart int32
	objEnd   int32
	// slack is the largest culling-sphere radius in the subtree. The
	// prune test widens the node's plane distance by it so a node is
	// never discarded while some descendant's sphere test would pass.
	slack float32
}

// quadtree is an index-based arena quadtree over the XZ plane. Build
// reorders an index slice so each node owns a contiguous range.
type quadtree struct {
	nodes []node
	order []int32 // object indices, grouped by leaf
	caps  int     // leaf capacity
}

// defaultLeafCapacity bounds how many objects share a leaf before it
// splits. Terrain tiles are coarse-grained; small leaves keep the sphere
// tests tight without deep recursion.
const defaultLeafCapacity = 8

func newQuadtree(leafCapacity int) *quadtree {
	if leafCapacity <= 0 {
		leafCapacity = defaultLeafCapacity
	}
	return &quadtree{caps: leafCapacity}
}

// build rebuilds the arena over the object set. Previous storage is
// reused.
func (q *quadtree) build(objects []Object) {
	q.nodes = q.nodes[:0]
	q.order = q.order[:0]
	if len(objects) == 0 {
		return
	}
	for i := range objects {
		q.order = append(q.order, int32(i))
	}
	q.buildNode(objects, 0, int32(len(q.order)))
}

// buildNode creates the node covering order[start:end] and recursively
// splits it. Returns the node's arena index.
func (q *quadtree) buildNode(objects []Object, start, end int32) int32 {
	idx := int32(len(q.nodes))
	q.nodes = append(q.nodes, node{
		children: [4]int32{-1, -1, -1, -1},
		objStart: start,
		objEnd:   end,
	})

	b := objects[q.order[start]].Bounds
	slack := objects[q.order[start]].Bounds.Sphere().Radius
	for _, oi := range q.order[start+1 : end] {
		b = b.Union(objects[oi].Bounds)
		if r := objects[oi].Bounds.Sphere().Radius; r > slack {
			slack = r
		}
	}
	q.nodes[idx].bounds = b
	q.nodes[idx].slack = slack

	if end-start <= int32(q.caps) {
		return idx
	}

	// Partition the range into XZ quadrants around the node center. A
	// quadrant that ends up with everything (degenerate overlap) stays a
	// leaf to guarantee progress.
	c := b.Center()
	quadrant := func(o Object) int {
		oc := o.Bounds.Center()
		quad := 0
		if oc[0] >= c[0] {
			quad |= 1
		}
		if oc[2] >= c[2] {
			quad |= 2
		}
		return quad
	}

	buckets := [4][]int32{}
	for _, oi := range q.order[start:end] {
		qd := quadrant(objects[oi])
		buckets[qd] = append(buckets[qd], oi)
	}
	for _, bk := range buckets {
		if int32(len(bk)) == end-start {
			return idx // no split possible
		}
	}

	pos := start
	for quad, bk := range buckets {
		if len(bk) == 0 {
			continue
		}
		childStart := pos
		for _, oi := range bk {
			q.order[pos] = oi
			pos++
		}
		q.nodes[idx].children[quad] = q.buildNode(objects, childStart, pos)
	}
	return idx
}

// traverse walks the tree against the frustum, calling leaf sphere tests
// for surviving objects and writing visibility into out (indexed by
// object index). Nodes entirely behind a plane are pruned with their
// whole subtree.
func (q *quadtree) traverse(objects []Object, f geom.Frustum, planes [6]PackedPlane, out []bool) {
	if len(q.nodes) == 0 {
		return
	}
	q.traverseNode(0, objects, f, planes, out)
}

func (q *quadtree) traverseNode(idx int32, objects []Object, f geom.Frustum, planes [6]PackedPlane, out []bool) {
	n := &q.nodes[idx]

	// Gribb-Hartmann positive-vertex test, widened by the subtree's
	// sphere slack: every object sphere center lies inside the node box,
	// so a node this far behind a plane cannot contain a passing sphere.
	for i := range f {
		if f[i].DistanceTo(f[i].PositiveVertex(n.bounds)) < -n.slack {
			return
		}
	}

	leaf := true
	for _, ch := range n.children {
		if ch >= 0 {
			leaf = false
			q.traverseNode(ch, objects, f, planes, out)
		}
	}
	if !leaf {
		return
	}

	// Leaf: per-object sphere test, the same float32 predicate the
	// compute kernel runs.
	for _, oi := range q.order[n.objStart:n.objEnd] {
		s := objects[oi].Bounds.Sphere()
		visible := true
		for _, pl := range planes {
			d := pl[0]*s.Center[0] + pl[1]*s.Center[1] + pl[2]*s.Center[2] + pl[3]
			if d < -s.Radius {
				visible = false
				break
			}
		}
		out[oi] = visible
	}
}
