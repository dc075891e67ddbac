package tile

import "github.com/gogpu/terrain/pool"

// GPUResources holds the pool allocations a Ready tile owns. The set is
// all-or-nothing: a tile either holds every handle or none.
type GPUResources struct {
	VertexBuffer  *pool.Allocation
	IndexBuffer   *pool.Allocation
	HeightTexture *pool.Allocation
	NormalTexture *pool.Allocation
	UniformBlock  *pool.Allocation
	IndexCount    uint32
	TotalBytes    uint64
}

// allocations lists the held handles for release loops.
func (r *GPUResources) allocations() []*pool.Allocation {
	return []*pool.Allocation{
		r.VertexBuffer, r.IndexBuffer, r.HeightTexture, r.NormalTexture, r.UniformBlock,
	}
}

// Uploader copies CPU bytes into device resources after allocation. A nil
// Uploader skips the copies, which is how device-free tests run; pool
// accounting and the tile state machine behave identically either way.
type Uploader interface {
	// WriteBuffer copies data into a buffer at the given byte offset.
	WriteBuffer(h pool.BufferHandle, offset uint64, data []byte) error

	// WriteTexture copies tightly packed texel data into a 2D texture.
	WriteTexture(h pool.TextureHandle, width, height uint32, data []byte) error
}

// Draw is everything the renderer needs to issue one tile's draw call.
type Draw struct {
	VertexBuffer  pool.BufferHandle
	VertexOffset  uint64
	IndexBuffer   pool.BufferHandle
	IndexOffset   uint64
	IndexCount    uint32
	HeightTexture pool.TextureHandle
	NormalTexture pool.TextureHandle
	UniformBuffer pool.BufferHandle
	UniformOffset uint64
}

// CommandRecorder records tile draw calls into the renderer's command
// stream. The rendering pipeline itself lives outside this module.
type CommandRecorder interface {
	RecordTileDraw(d Draw) error
}

// RenderKind tags what kind of renderable a tile is, replacing dynamic
// type inspection on the render path.
type RenderKind uint8

const (
	// KindHeightfield is a tessellated elevation grid tile.
	KindHeightfield RenderKind = iota
)

// Renderable is the capability the manager renders through.
type Renderable interface {
	RenderKind() RenderKind
	Render(rec CommandRecorder) error
}
