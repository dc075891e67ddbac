package pool

import "time"

// Default allocator tuning. Sizes are in bytes unless the name says MB.
const (
	// DefaultMaxTotalMemoryMB caps the sum of all typed pool capacities.
	DefaultMaxTotalMemoryMB = 512

	// MinTotalMemoryMB is the floor for the global cap.
	MinTotalMemoryMB = 16

	// DefaultWarningThreshold is the usage ratio that triggers the
	// advisory pressure callback.
	DefaultWarningThreshold = 0.7

	// DefaultCriticalThreshold is the usage ratio that triggers forced
	// pressure handling.
	DefaultCriticalThreshold = 0.9

	// DefaultPressureDefragBudget bounds the forced defragmentation pass
	// that runs when the critical threshold is crossed.
	DefaultPressureDefragBudget = 50 * time.Millisecond

	// DefaultAlignment is the allocation alignment used when a pool
	// config leaves it zero. 256 matches the strictest wgpu offset
	// alignment requirement for bound buffer ranges.
	DefaultAlignment = 256

	// DefaultGrowthFactor scales a pool's capacity when it grows.
	DefaultGrowthFactor = 1.5

	// GrowthMaxCycles bounds how many times one request may grow its
	// pool before the request is rejected.
	GrowthMaxCycles = 2

	mb = 1 << 20
)

// PoolConfig tunes one typed pool.
type PoolConfig struct {
	// PreferredPoolSize is the capacity the pool is created with on its
	// first allocation.
	PreferredPoolSize uint64

	// MinPoolSize is the lower bound for any resize.
	MinPoolSize uint64

	// AllocationAlignment aligns every allocation's size and offset.
	// Must be a power of two; 0 selects DefaultAlignment.
	AllocationAlignment uint64

	// EnableDefragmentation opts the pool into periodic compaction.
	// Texture pools leave this false: dedicated allocations cannot
	// fragment, so a compaction pass would only burn the budget.
	EnableDefragmentation bool

	// GrowthFactor scales capacity when the pool grows. Values <= 1
	// select DefaultGrowthFactor.
	GrowthFactor float64
}

// DefaultPoolConfig returns the tuned defaults for one resource type.
func DefaultPoolConfig(t ResourceType) PoolConfig {
	switch t {
	case VertexData:
		return PoolConfig{
			PreferredPoolSize:     64 * mb,
			MinPoolSize:           16 * mb,
			AllocationAlignment:   DefaultAlignment,
			EnableDefragmentation: true,
			GrowthFactor:          DefaultGrowthFactor,
		}
	case IndexData:
		return PoolConfig{
			PreferredPoolSize:     32 * mb,
			MinPoolSize:           8 * mb,
			AllocationAlignment:   DefaultAlignment,
			EnableDefragmentation: true,
			GrowthFactor:          DefaultGrowthFactor,
		}
	case HeightTexture:
		return PoolConfig{
			PreferredPoolSize:   128 * mb,
			MinPoolSize:         32 * mb,
			AllocationAlignment: DefaultAlignment,
			// Height textures are large and rarely reallocated.
			EnableDefragmentation: false,
			GrowthFactor:          DefaultGrowthFactor,
		}
	case NormalTexture:
		return PoolConfig{
			PreferredPoolSize:     128 * mb,
			MinPoolSize:           32 * mb,
			AllocationAlignment:   DefaultAlignment,
			EnableDefragmentation: false,
			GrowthFactor:          DefaultGrowthFactor,
		}
	case UniformData:
		return PoolConfig{
			PreferredPoolSize:     8 * mb,
			MinPoolSize:           2 * mb,
			AllocationAlignment:   DefaultAlignment,
			EnableDefragmentation: true,
			GrowthFactor:          2.0,
		}
	case StagingBuffer:
		return PoolConfig{
			PreferredPoolSize:     32 * mb,
			MinPoolSize:           8 * mb,
			AllocationAlignment:   4,
			EnableDefragmentation: true,
			GrowthFactor:          DefaultGrowthFactor,
		}
	case ComputeBuffer:
		return PoolConfig{
			PreferredPoolSize:     16 * mb,
			MinPoolSize:           4 * mb,
			AllocationAlignment:   16,
			EnableDefragmentation: true,
			GrowthFactor:          DefaultGrowthFactor,
		}
	default:
		return PoolConfig{
			PreferredPoolSize:     16 * mb,
			MinPoolSize:           4 * mb,
			AllocationAlignment:   DefaultAlignment,
			EnableDefragmentation: true,
			GrowthFactor:          DefaultGrowthFactor,
		}
	}
}

// normalize fills zero fields with defaults and fixes invalid values.
func (c PoolConfig) normalize() PoolConfig {
	if c.PreferredPoolSize == 0 {
		c.PreferredPoolSize = 16 * mb
	}
	if c.MinPoolSize == 0 || c.MinPoolSize > c.PreferredPoolSize {
		c.MinPoolSize = c.PreferredPoolSize
	}
	if c.AllocationAlignment == 0 || !isPowerOfTwo(c.AllocationAlignment) {
		c.AllocationAlignment = DefaultAlignment
	}
	if c.GrowthFactor <= 1 {
		c.GrowthFactor = DefaultGrowthFactor
	}
	return c
}

// AllocatorConfig tunes the whole allocator.
type AllocatorConfig struct {
	// MaxTotalMemory caps the sum of all typed pool capacities, in bytes.
	// 0 selects DefaultMaxTotalMemoryMB.
	MaxTotalMemory uint64

	// WarningThreshold and CriticalThreshold are usage ratios in (0, 1].
	// Zero values select the defaults. CriticalThreshold is clamped to
	// be >= WarningThreshold.
	WarningThreshold  float64
	CriticalThreshold float64

	// PressureDefragBudget bounds the forced defragmentation pass run on
	// a critical crossing. 0 selects DefaultPressureDefragBudget.
	PressureDefragBudget time.Duration

	// Pools overrides per-type configs. Types absent from the map use
	// DefaultPoolConfig.
	Pools map[ResourceType]PoolConfig
}

func (c AllocatorConfig) normalize() AllocatorConfig {
	if c.MaxTotalMemory == 0 {
		c.MaxTotalMemory = DefaultMaxTotalMemoryMB * mb
	}
	if c.MaxTotalMemory < MinTotalMemoryMB*mb {
		c.MaxTotalMemory = MinTotalMemoryMB * mb
	}
	if c.WarningThreshold <= 0 || c.WarningThreshold > 1 {
		c.WarningThreshold = DefaultWarningThreshold
	}
	if c.CriticalThreshold <= 0 || c.CriticalThreshold > 1 {
		c.CriticalThreshold = DefaultCriticalThreshold
	}
	if c.CriticalThreshold < c.WarningThreshold {
		c.CriticalThreshold = c.WarningThreshold
	}
	if c.PressureDefragBudget <= 0 {
		c.PressureDefragBudget = DefaultPressureDefragBudget
	}
	return c
}

// poolConfigFor resolves the effective config for one type.
func (c AllocatorConfig) poolConfigFor(t ResourceType) PoolConfig {
	if pc, ok := c.Pools[t]; ok {
		return pc.normalize()
	}
	return DefaultPoolConfig(t).normalize()
}

func isPowerOfTwo(x uint64) bool {
	return x != 0 && x&(x-1) == 0
}

// alignUp rounds size up to the next multiple of align (a power of two).
func alignUp(size, align uint64) uint64 {
	return (size + align - 1) &^ (align - 1)
}
