package pool

// Backing creates and destroys the device resources behind pool blocks
// and dedicated texture allocations. internal/gpu implements it on wgpu.
//
// A nil Backing puts the allocator in stub mode: handles are minted
// locally, no device calls are made, and all accounting behaves exactly
// as with a device attached. Tests run in stub mode.
type Backing interface {
	// CreateBuffer creates a device buffer of the given size.
	CreateBuffer(size uint64, usage BufferUsage) (BufferHandle, error)

	// DestroyBuffer releases a buffer created by CreateBuffer.
	DestroyBuffer(h BufferHandle)

	// CreateTexture2D creates a dedicated 2D texture.
	CreateTexture2D(width, height uint32, format TextureFormat) (TextureHandle, error)

	// DestroyTexture releases a texture created by CreateTexture2D.
	DestroyTexture(h TextureHandle)

	// CopyBuffer copies a byte range between (or within) buffers. Used by
	// defragmentation to relocate live allocations; ranges never overlap.
	CopyBuffer(src, dst BufferHandle, srcOffset, dstOffset, size uint64) error
}
