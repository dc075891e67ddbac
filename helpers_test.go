package terrain

import (
	"context"
	"testing"
	"time"

	"github.com/gogpu/terrain/geom"
	"github.com/gogpu/terrain/pool"
	"github.com/gogpu/terrain/tile"
)

// readerFunc adapts a function to tile.DatasetReader.
type readerFunc func(ctx context.Context, path string) (*tile.HeightData, error)

func (f readerFunc) LoadTile(ctx context.Context, path string) (*tile.HeightData, error) {
	return f(ctx, path)
}

func flatGrid(w, h int, elevation float32) *tile.HeightData {
	e := make([]float32, w*h)
	for i := range e {
		e[i] = elevation
	}
	return &tile.HeightData{Width: w, Height: h, Elevations: e, HeightScale: 1}
}

// flatReader produces a constant-height grid for any path.
func flatReader(w, h int, elevation float32) readerFunc {
	return func(context.Context, string) (*tile.HeightData, error) {
		return flatGrid(w, h, elevation), nil
	}
}

// mapCache is a plain map implementation of tile.HeightCache.
type mapCache struct {
	m map[tile.Coordinate]*tile.HeightData
}

func newMapCache() *mapCache {
	return &mapCache{m: make(map[tile.Coordinate]*tile.HeightData)}
}

func (c *mapCache) Get(k tile.Coordinate) (*tile.HeightData, bool) {
	d, ok := c.m[k]
	return d, ok
}

func (c *mapCache) Put(k tile.Coordinate, d *tile.HeightData) { c.m[k] = d }

// drawRecorder collects recorded draws.
type drawRecorder struct {
	draws []tile.Draw
}

func (r *drawRecorder) RecordTileDraw(d tile.Draw) error {
	r.draws = append(r.draws, d)
	return nil
}

func testWorldBounds() geom.Bounds {
	return geom.Bounds{Min: geom.Vec3{0, 0, 0}, Max: geom.Vec3{1024, 256, 1024}}
}

func newTestAllocator(t *testing.T) *pool.Allocator {
	t.Helper()
	a := pool.New(pool.AllocatorConfig{}, nil)
	t.Cleanup(a.Close)
	return a
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
