package tile

import (
	"fmt"
	"math"
)

// HeightData is one tile's decoded elevation grid. Elevations are raw
// sample values; world-space elevation is sample * HeightScale.
type HeightData struct {
	Width       int
	Height      int
	Elevations  []float32
	HeightScale float32
}

// Validate checks the grid's internal consistency.
func (d *HeightData) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil", ErrInvalidHeightData)
	}
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidHeightData, d.Width, d.Height)
	}
	if len(d.Elevations) != d.Width*d.Height {
		return fmt.Errorf("%w: %d samples for %dx%d grid",
			ErrInvalidHeightData, len(d.Elevations), d.Width, d.Height)
	}
	return nil
}

// MinMax returns the lowest and highest world-space elevations in the
// grid, scale applied.
func (d *HeightData) MinMax() (min, max float32) {
	if len(d.Elevations) == 0 {
		return 0, 0
	}
	min, max = d.Elevations[0], d.Elevations[0]
	for _, e := range d.Elevations[1:] {
		if e < min {
			min = e
		}
		if e > max {
			max = e
		}
	}
	return min * d.HeightScale, max * d.HeightScale
}

// MemoryBytes returns the CPU footprint of the elevation grid.
func (d *HeightData) MemoryBytes() uint64 {
	if d == nil {
		return 0
	}
	return uint64(len(d.Elevations)) * 4
}

// At returns the raw sample at grid position (x, y). Coordinates are
// clamped to the grid, which keeps the central-difference stencil simple
// at the edges.
func (d *HeightData) At(x, y int) float32 {
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x >= d.Width {
		x = d.Width - 1
	}
	if y >= d.Height {
		y = d.Height - 1
	}
	return d.Elevations[y*d.Width+x]
}

// SampleBilinear returns the world-space elevation at normalized grid
// coordinates u, v in [0, 1].
func (d *HeightData) SampleBilinear(u, v float32) float32 {
	if d.Width == 1 && d.Height == 1 {
		return d.Elevations[0] * d.HeightScale
	}
	fx := u * float32(d.Width-1)
	fy := v * float32(d.Height-1)
	x0 := int(fx)
	y0 := int(fy)
	tx := fx - float32(x0)
	ty := fy - float32(y0)

	h00 := d.At(x0, y0)
	h10 := d.At(x0+1, y0)
	h01 := d.At(x0, y0+1)
	h11 := d.At(x0+1, y0+1)

	top := h00 + (h10-h00)*tx
	bot := h01 + (h11-h01)*tx
	return (top + (bot-top)*ty) * d.HeightScale
}

// ComputeNormals derives an RGBA8 normal map from the height grid using
// central differences, one texel per sample. The X/Z gradient spacing is
// the world-space size of one grid cell on each axis.
func (d *HeightData) ComputeNormals(cellSizeX, cellSizeZ float32) []byte {
	if cellSizeX <= 0 {
		cellSizeX = 1
	}
	if cellSizeZ <= 0 {
		cellSizeZ = 1
	}
	out := make([]byte, d.Width*d.Height*4)
	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			dx := (d.At(x+1, y) - d.At(x-1, y)) * d.HeightScale / (2 * cellSizeX)
			dz := (d.At(x, y+1) - d.At(x, y-1)) * d.HeightScale / (2 * cellSizeZ)

			// Normal of the height surface y = h(x, z).
			nx, ny, nz := -dx, float32(1), -dz
			inv := 1 / float32(math.Sqrt(float64(nx*nx+ny*ny+nz*nz)))
			nx, ny, nz = nx*inv, ny*inv, nz*inv

			i := (y*d.Width + x) * 4
			out[i+0] = packUnorm(nx)
			out[i+1] = packUnorm(ny)
			out[i+2] = packUnorm(nz)
			out[i+3] = 255
		}
	}
	return out
}

// packUnorm maps a [-1, 1] component to a [0, 255] byte.
func packUnorm(v float32) byte {
	s := (v*0.5 + 0.5) * 255
	if s < 0 {
		s = 0
	}
	if s > 255 {
		s = 255
	}
	return byte(s + 0.5)
}
