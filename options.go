package terrain

import (
	"log/slog"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/terrain/geom"
	"github.com/gogpu/terrain/pool"
	"github.com/gogpu/terrain/tile"
)

// Option configures an Engine during creation.
//
// Example:
//
//	// Stub GPU (no device), embedded defaults:
//	eng, err := terrain.NewEngine(nil, terrain.WithDatasetReader(reader))
//
//	// Sharing the host application's device:
//	eng, err := terrain.NewEngine(cfg,
//		terrain.WithDatasetReader(reader),
//		terrain.WithDeviceProvider(app.Device()),
//	)
type Option func(*engineOptions)

// engineOptions holds optional dependencies injected at construction.
type engineOptions struct {
	logger      *slog.Logger
	provider    gpucontext.DeviceProvider
	ownedDevice bool
	reader      tile.DatasetReader
	allocator   *pool.Allocator
	worldBounds geom.Bounds
}

// defaultWorldBounds is the world box tiles subdivide when no
// WithWorldBounds option is given: a 32 km square centered on the origin
// with 4 km of elevation headroom.
var defaultWorldBounds = geom.Bounds{
	Min: geom.Vec3{-16384, 0, -16384},
	Max: geom.Vec3{16384, 4096, 16384},
}

func defaultEngineOptions() engineOptions {
	return engineOptions{worldBounds: defaultWorldBounds}
}

// WithLogger enables logging for the engine and all sub-packages. It is
// equivalent to calling SetLogger before construction.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = l
	}
}

// WithDeviceProvider shares a host application's GPU device with the
// engine instead of running device-free. The provider must expose
// wgpu/hal handles; the engine never destroys a shared device.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *engineOptions) {
		o.provider = p
	}
}

// WithOwnedDevice makes the engine create and own its GPU device,
// preferring a discrete adapter. Construction fails when no adapter is
// available. Without this option (and without WithDeviceProvider) the
// engine runs in stub mode: full state machines and accounting, no
// device calls.
func WithOwnedDevice() Option {
	return func(o *engineOptions) {
		o.ownedDevice = true
	}
}

// WithDatasetReader injects the reader that resolves tile paths to
// elevation grids. Without one, tiles can be created and culled but
// never leave the Empty state.
func WithDatasetReader(r tile.DatasetReader) Option {
	return func(o *engineOptions) {
		o.reader = r
	}
}

// WithAllocator injects a pre-built memory allocator, overriding the
// one the engine would construct from Config. The engine takes ownership
// and closes it on Close.
func WithAllocator(a *pool.Allocator) Option {
	return func(o *engineOptions) {
		o.allocator = a
	}
}

// WithWorldBounds sets the world-space box that tile coordinates
// subdivide. Level 0 covers the whole box; each level quarters the
// previous one on the XZ plane.
func WithWorldBounds(b geom.Bounds) Option {
	return func(o *engineOptions) {
		o.worldBounds = b
	}
}
