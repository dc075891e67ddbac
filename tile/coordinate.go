// Package tile defines terrain tile addressing, the per-tile lifecycle
// state machine, and the CPU-side height data model.
package tile

import "fmt"

// Coordinate identifies one tile in a quadtree LOD pyramid. Higher levels
// are finer: level L splits the dataset into 2^L x 2^L tiles. The zero
// coordinate is the root tile of the empty dataset ID.
//
// Coordinate is a value type: comparable, hashable, never mutated.
type Coordinate struct {
	X         int32
	Y         int32
	Level     uint32
	DatasetID string
}

// String returns "ds/L2/(3,4)" style output for logs and errors.
func (c Coordinate) String() string {
	return fmt.Sprintf("%s/L%d/(%d,%d)", c.DatasetID, c.Level, c.X, c.Y)
}

// Valid reports whether x and y lie inside the level's grid.
func (c Coordinate) Valid() bool {
	if c.Level > 31 {
		return false
	}
	n := int32(1) << c.Level
	return c.X >= 0 && c.X < n && c.Y >= 0 && c.Y < n
}

// Parent returns the coordinate one level coarser. The root returns
// itself.
func (c Coordinate) Parent() Coordinate {
	if c.Level == 0 {
		return c
	}
	return Coordinate{
		X:         c.X >> 1,
		Y:         c.Y >> 1,
		Level:     c.Level - 1,
		DatasetID: c.DatasetID,
	}
}

// Children returns the four coordinates one level finer, in
// (0,0),(1,0),(0,1),(1,1) quadrant order.
func (c Coordinate) Children() [4]Coordinate {
	x, y, l := c.X<<1, c.Y<<1, c.Level+1
	return [4]Coordinate{
		{X: x, Y: y, Level: l, DatasetID: c.DatasetID},
		{X: x + 1, Y: y, Level: l, DatasetID: c.DatasetID},
		{X: x, Y: y + 1, Level: l, DatasetID: c.DatasetID},
		{X: x + 1, Y: y + 1, Level: l, DatasetID: c.DatasetID},
	}
}
