package tile

import (
	"errors"
	"testing"
)

func gradientGrid(w, h int, scale float32) *HeightData {
	e := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			e[y*w+x] = float32(x + y)
		}
	}
	return &HeightData{Width: w, Height: h, Elevations: e, HeightScale: scale}
}

func TestHeightDataValidate(t *testing.T) {
	tests := []struct {
		name string
		data *HeightData
		ok   bool
	}{
		{"valid", gradientGrid(4, 4, 1), true},
		{"nil", nil, false},
		{"zero width", &HeightData{Width: 0, Height: 4}, false},
		{"short samples", &HeightData{Width: 4, Height: 4, Elevations: make([]float32, 15)}, false},
		{"long samples", &HeightData{Width: 4, Height: 4, Elevations: make([]float32, 17)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.data.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidHeightData) {
				t.Errorf("Validate = %v, want ErrInvalidHeightData", err)
			}
		})
	}
}

func TestHeightDataMinMax(t *testing.T) {
	d := &HeightData{Width: 2, Height: 2, Elevations: []float32{-3, 7, 0, 2}, HeightScale: 2}
	min, max := d.MinMax()
	if min != -6 || max != 14 {
		t.Errorf("MinMax = (%g, %g), want (-6, 14)", min, max)
	}
}

func TestSampleBilinear(t *testing.T) {
	d := gradientGrid(3, 3, 1)

	tests := []struct {
		u, v float32
		want float32
	}{
		{0, 0, 0},
		{1, 1, 4},
		{0.5, 0.5, 2},
		{1, 0, 2},
		{0.25, 0, 0.5},
	}
	for _, tt := range tests {
		if got := d.SampleBilinear(tt.u, tt.v); got != tt.want {
			t.Errorf("SampleBilinear(%g, %g) = %g, want %g", tt.u, tt.v, got, tt.want)
		}
	}
}

func TestComputeNormalsFlat(t *testing.T) {
	d := &HeightData{Width: 4, Height: 4, Elevations: make([]float32, 16), HeightScale: 1}
	n := d.ComputeNormals(1, 1)
	if len(n) != 4*4*4 {
		t.Fatalf("normal map size = %d, want %d", len(n), 4*4*4)
	}
	// A flat grid's normals all point straight up: (0, 1, 0) packs to
	// (128, 255, 128, 255) give or take rounding on the zero components.
	for i := 0; i < len(n); i += 4 {
		if n[i+1] != 255 || n[i+3] != 255 {
			t.Fatalf("texel %d = (%d,%d,%d,%d), want Y=255 A=255", i/4, n[i], n[i+1], n[i+2], n[i+3])
		}
		if n[i] < 127 || n[i] > 128 || n[i+2] < 127 || n[i+2] > 128 {
			t.Fatalf("texel %d X/Z = (%d, %d), want ~128", i/4, n[i], n[i+2])
		}
	}
}

func TestComputeNormalsSlope(t *testing.T) {
	// Height rises with x, so normals lean in -x: packed X < 128.
	d := gradientGrid(8, 1, 1)
	d.Height = 1
	n := d.ComputeNormals(1, 1)
	mid := (0*8 + 4) * 4
	if n[mid] >= 128 {
		t.Errorf("sloped normal X component = %d, want < 128", n[mid])
	}
}

func TestMeshSizes(t *testing.T) {
	if got := VertexDataSize(64, 64); got != 64*64*20 {
		t.Errorf("VertexDataSize = %d, want %d", got, 64*64*20)
	}
	if got := IndexCount(64, 64); got != 63*63*6 {
		t.Errorf("IndexCount = %d, want %d", got, 63*63*6)
	}
	if got := IndexCount(1, 64); got != 0 {
		t.Errorf("IndexCount degenerate = %d, want 0", got)
	}
}

func TestBuildIndexDataWindsConsistently(t *testing.T) {
	idx := buildIndexData(3, 2)
	if len(idx) != int(IndexDataSize(3, 2)) {
		t.Fatalf("index data size = %d, want %d", len(idx), IndexDataSize(3, 2))
	}
	// First triangle of the first cell: 0, 3, 1.
	first := []uint32{0, 3, 1}
	for i, want := range first {
		got := uint32(idx[i*4]) | uint32(idx[i*4+1])<<8 | uint32(idx[i*4+2])<<16 | uint32(idx[i*4+3])<<24
		if got != want {
			t.Errorf("index %d = %d, want %d", i, got, want)
		}
	}
}

func TestCoordinateNavigation(t *testing.T) {
	c := Coordinate{X: 5, Y: 3, Level: 3, DatasetID: "ds"}
	if !c.Valid() {
		t.Fatal("coordinate should be valid")
	}
	p := c.Parent()
	if p.X != 2 || p.Y != 1 || p.Level != 2 {
		t.Errorf("Parent = %v", p)
	}
	for _, ch := range p.Children() {
		if ch.Parent() != p {
			t.Errorf("child %v does not round-trip to parent", ch)
		}
	}
	root := Coordinate{Level: 0, DatasetID: "ds"}
	if root.Parent() != root {
		t.Error("root parent should be itself")
	}
	if (Coordinate{X: 8, Y: 0, Level: 3, DatasetID: "ds"}).Valid() {
		t.Error("x=8 at level 3 should be invalid")
	}
	if got := c.String(); got != "ds/L3/(5,3)" {
		t.Errorf("String = %q", got)
	}
}
