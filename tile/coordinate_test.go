package tile

import "testing"

func TestCoordinateString(t *testing.T) {
	c := Coordinate{X: 3, Y: 4, Level: 2, DatasetID: "alps"}
	if got, want := c.String(), "alps/L2/(3,4)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCoordinateValid(t *testing.T) {
	tests := []struct {
		name string
		c    Coordinate
		want bool
	}{
		{"root", Coordinate{Level: 0}, true},
		{"in grid", Coordinate{X: 3, Y: 3, Level: 2}, true},
		{"x past grid", Coordinate{X: 4, Y: 0, Level: 2}, false},
		{"y past grid", Coordinate{X: 0, Y: 4, Level: 2}, false},
		{"negative x", Coordinate{X: -1, Y: 0, Level: 1}, false},
		{"level too deep", Coordinate{Level: 32}, false},
		{"max usable level", Coordinate{X: 0, Y: 0, Level: 31}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Valid(); got != tt.want {
				t.Errorf("Valid(%v) = %v, want %v", tt.c, got, tt.want)
			}
		})
	}
}

func TestCoordinateParentChildren(t *testing.T) {
	c := Coordinate{X: 5, Y: 3, Level: 3, DatasetID: "ds"}

	p := c.Parent()
	want := Coordinate{X: 2, Y: 1, Level: 2, DatasetID: "ds"}
	if p != want {
		t.Errorf("Parent() = %v, want %v", p, want)
	}

	// Every child maps back to its parent.
	for i, ch := range c.Children() {
		if !ch.Valid() {
			t.Errorf("child %d %v not valid", i, ch)
		}
		if ch.Parent() != c {
			t.Errorf("child %d parent = %v, want %v", i, ch.Parent(), c)
		}
	}

	root := Coordinate{DatasetID: "ds"}
	if root.Parent() != root {
		t.Error("root parent should be the root itself")
	}
}

func TestCoordinateAsMapKey(t *testing.T) {
	m := map[Coordinate]int{}
	a := Coordinate{X: 1, Y: 2, Level: 3, DatasetID: "ds"}
	b := Coordinate{X: 1, Y: 2, Level: 3, DatasetID: "ds"}
	m[a] = 1
	m[b] = 2
	if len(m) != 1 || m[a] != 2 {
		t.Errorf("equal coordinates should collide as map keys, map = %v", m)
	}
}
