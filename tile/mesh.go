package tile

import "math"

// VertexStride is the byte size of one terrain vertex: position xyz plus
// grid uv, all float32.
const VertexStride = 20

// VertexDataSize returns the vertex buffer size for a grid.
func VertexDataSize(w, h int) uint64 {
	return uint64(w) * uint64(h) * VertexStride
}

// IndexCount returns the number of triangle indices for a grid: two
// triangles per cell.
func IndexCount(w, h int) uint32 {
	if w < 2 || h < 2 {
		return 0
	}
	return uint32(w-1) * uint32(h-1) * 6
}

// IndexDataSize returns the index buffer size for a grid (uint32 indices).
func IndexDataSize(w, h int) uint64 {
	return uint64(IndexCount(w, h)) * 4
}

// buildVertexData serializes the tessellation-ready vertex grid: world XZ
// positions spread across the tile bounds, world Y from the height
// samples, and normalized grid uv for texture lookups. Little-endian, the
// wgpu buffer byte order.
func buildVertexData(d *HeightData, minX, minZ, sizeX, sizeZ float32) []byte {
	out := make([]byte, VertexDataSize(d.Width, d.Height))
	pos := 0
	stepU := float32(0)
	stepV := float32(0)
	if d.Width > 1 {
		stepU = 1 / float32(d.Width-1)
	}
	if d.Height > 1 {
		stepV = 1 / float32(d.Height-1)
	}
	for y := 0; y < d.Height; y++ {
		v := float32(y) * stepV
		for x := 0; x < d.Width; x++ {
			u := float32(x) * stepU
			pos = putFloat32(out, pos, minX+u*sizeX)
			pos = putFloat32(out, pos, d.Elevations[y*d.Width+x]*d.HeightScale)
			pos = putFloat32(out, pos, minZ+v*sizeZ)
			pos = putFloat32(out, pos, u)
			pos = putFloat32(out, pos, v)
		}
	}
	return out
}

// buildIndexData serializes the shared triangle list for a grid. Tiles
// with the same dimensions produce identical index buffers.
func buildIndexData(w, h int) []byte {
	out := make([]byte, IndexDataSize(w, h))
	pos := 0
	for y := 0; y < h-1; y++ {
		for x := 0; x < w-1; x++ {
			i0 := uint32(y*w + x)
			i1 := i0 + 1
			i2 := i0 + uint32(w)
			i3 := i2 + 1
			pos = putUint32(out, pos, i0)
			pos = putUint32(out, pos, i2)
			pos = putUint32(out, pos, i1)
			pos = putUint32(out, pos, i1)
			pos = putUint32(out, pos, i2)
			pos = putUint32(out, pos, i3)
		}
	}
	return out
}

// heightTexels serializes the raw elevation samples as R32Float texels.
func heightTexels(d *HeightData) []byte {
	out := make([]byte, len(d.Elevations)*4)
	pos := 0
	for _, e := range d.Elevations {
		pos = putFloat32(out, pos, e)
	}
	return out
}

func putUint32(b []byte, pos int, v uint32) int {
	b[pos] = byte(v)
	b[pos+1] = byte(v >> 8)
	b[pos+2] = byte(v >> 16)
	b[pos+3] = byte(v >> 24)
	return pos + 4
}

func putFloat32(b []byte, pos int, v float32) int {
	return putUint32(b, pos, math.Float32bits(v))
}
