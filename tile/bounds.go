package tile

import "github.com/gogpu/terrain/geom"

// CoordinateBounds returns the world-space box a coordinate covers inside
// the dataset's root extent. Level L splits the root into a 2^L x 2^L
// grid on the XZ plane; the elevation range is the root's until height
// data refines it.
func CoordinateBounds(c Coordinate, root geom.Bounds) geom.Bounds {
	n := float32(int64(1) << c.Level)
	sizeX := (root.Max[0] - root.Min[0]) / n
	sizeZ := (root.Max[2] - root.Min[2]) / n
	minX := root.Min[0] + float32(c.X)*sizeX
	minZ := root.Min[2] + float32(c.Y)*sizeZ
	return geom.Bounds{
		Min: geom.Vec3{minX, root.Min[1], minZ},
		Max: geom.Vec3{minX + sizeX, root.Max[1], minZ + sizeZ},
	}
}
