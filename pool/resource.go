package pool

// ResourceType identifies one typed sub-allocator. Each type has its own
// budget, alignment rule, and growth policy.
type ResourceType uint8

const (
	// VertexData holds tessellation-ready vertex buffers.
	VertexData ResourceType = iota
	// IndexData holds triangle index buffers.
	IndexData
	// HeightTexture holds per-tile elevation textures (R32Float).
	HeightTexture
	// NormalTexture holds per-tile normal-map textures (RGBA8).
	NormalTexture
	// UniformData holds small per-tile uniform blocks.
	UniformData
	// StagingBuffer holds upload staging memory.
	StagingBuffer
	// ComputeBuffer holds compute-pass storage (culling records, flags).
	ComputeBuffer

	numResourceTypes = int(ComputeBuffer) + 1
)

// String returns the resource type name.
func (t ResourceType) String() string {
	switch t {
	case VertexData:
		return "VertexData"
	case IndexData:
		return "IndexData"
	case HeightTexture:
		return "HeightTexture"
	case NormalTexture:
		return "NormalTexture"
	case UniformData:
		return "UniformData"
	case StagingBuffer:
		return "StagingBuffer"
	case ComputeBuffer:
		return "ComputeBuffer"
	default:
		return "Unknown"
	}
}

// IsTexture reports whether allocations of this type are dedicated GPU
// textures rather than ranges suballocated from a shared buffer. Texture
// pools never fragment, so defragmentation is pointless for them.
func (t ResourceType) IsTexture() bool {
	return t == HeightTexture || t == NormalTexture
}

// ResourceTypes lists all types in deterministic order, which defrag and
// reporting iterate.
func ResourceTypes() []ResourceType {
	out := make([]ResourceType, numResourceTypes)
	for i := range out {
		out[i] = ResourceType(i)
	}
	return out
}

// BufferHandle identifies a device buffer minted by the backing store.
// Zero is never a valid handle.
type BufferHandle uint64

// TextureHandle identifies a device texture minted by the backing store.
// Zero is never a valid handle.
type TextureHandle uint64

// BufferUsage tells the backing store how a pool block will be used.
type BufferUsage uint8

const (
	// UsageVertex marks vertex buffer blocks.
	UsageVertex BufferUsage = iota
	// UsageIndex marks index buffer blocks.
	UsageIndex
	// UsageUniform marks uniform blocks.
	UsageUniform
	// UsageStaging marks CPU-visible staging blocks.
	UsageStaging
	// UsageStorage marks compute storage blocks.
	UsageStorage
)

// TextureFormat tells the backing store which texel format to create.
type TextureFormat uint8

const (
	// FormatR32Float is one float32 per texel, used for elevation data.
	FormatR32Float TextureFormat = iota
	// FormatRGBA8 is four bytes per texel, used for normal maps.
	FormatRGBA8
)

// BytesPerTexel returns the storage cost of one texel.
func (f TextureFormat) BytesPerTexel() uint64 {
	switch f {
	case FormatR32Float:
		return 4
	case FormatRGBA8:
		return 4
	default:
		return 4
	}
}

// bufferUsageFor maps a buffer-pool resource type to its device usage.
func bufferUsageFor(t ResourceType) BufferUsage {
	switch t {
	case VertexData:
		return UsageVertex
	case IndexData:
		return UsageIndex
	case UniformData:
		return UsageUniform
	case StagingBuffer:
		return UsageStaging
	default:
		return UsageStorage
	}
}
