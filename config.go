package terrain

import (
	_ "embed"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/terrain/cull"
	"github.com/gogpu/terrain/pool"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all engine configuration. Load it from YAML or start from
// DefaultConfig and mutate before constructing the engine.
type Config struct {
	Streaming StreamingConfig           `yaml:"streaming"`
	Culling   CullingConfig             `yaml:"culling"`
	Memory    MemoryConfig              `yaml:"memory"`
	Pools     map[string]PoolYAMLConfig `yaml:"pools"`

	// Derived values computed after loading.
	Derived DerivedConfig `yaml:"-"`
}

// StreamingConfig tunes the tile manager and scheduler.
type StreamingConfig struct {
	// MaxResidentTiles caps the tile registry. Creation beyond the cap
	// evicts the least recently used resident tile.
	MaxResidentTiles int `yaml:"max_resident_tiles"`

	// WorkerCount sizes the streaming worker pool. 0 selects
	// runtime.NumCPU().
	WorkerCount int `yaml:"worker_count"`

	// RecencyWindow is the frame window over which a rendered tile keeps
	// a streaming priority bonus.
	RecencyWindow int `yaml:"recency_window"`

	// HeightCacheMB budgets the decoded height data cache.
	HeightCacheMB int `yaml:"height_cache_mb"`
}

// CullingConfig tunes visibility and LOD selection.
type CullingConfig struct {
	// NearDistance and FarDistance describe the camera range the LOD
	// bands are tuned for: every lod_distances entry must fall inside
	// (near_distance, far_distance]. The frustum itself comes from the
	// caller each frame; these bounds only validate the band layout.
	NearDistance         float32   `yaml:"near_distance"`
	FarDistance          float32   `yaml:"far_distance"`
	LODDistances         []float32 `yaml:"lod_distances"`
	MinLevel             uint32    `yaml:"min_level"`
	MaxLevel             uint32    `yaml:"max_level"`
	EnableFrustumCulling bool      `yaml:"enable_frustum_culling"`
	EnableLODCulling     bool      `yaml:"enable_lod_culling"`
	EnableGPUCulling     bool      `yaml:"enable_gpu_culling"`
}

// MemoryConfig tunes the GPU memory allocator.
type MemoryConfig struct {
	MaxTotalGPUMemoryMB int     `yaml:"max_total_gpu_memory_mb"`
	WarningThreshold    float64 `yaml:"warning_threshold"`
	CriticalThreshold   float64 `yaml:"critical_threshold"`
	MaxDefragTimeMS     int     `yaml:"max_defrag_time_ms"`
}

// PoolYAMLConfig is the file surface of one typed pool.
type PoolYAMLConfig struct {
	PreferredMB int     `yaml:"preferred_mb"`
	MinMB       int     `yaml:"min_mb"`
	Alignment   uint64  `yaml:"alignment"`
	Defrag      bool    `yaml:"defrag"`
	Growth      float64 `yaml:"growth"`
}

// DerivedConfig holds values computed from the loaded config.
type DerivedConfig struct {
	WorkerCount  int
	LODDistances [4]float32
	CacheBudget  uint64
	DefragBudget time.Duration
}

// poolTypeByName maps YAML pool keys to resource types.
var poolTypeByName = map[string]pool.ResourceType{
	"vertex":         pool.VertexData,
	"index":          pool.IndexData,
	"height_texture": pool.HeightTexture,
	"normal_texture": pool.NormalTexture,
	"uniform":        pool.UniformData,
	"staging":        pool.StagingBuffer,
	"compute":        pool.ComputeBuffer,
}

// DefaultConfig returns the embedded defaults.
func DefaultConfig() *Config {
	cfg, err := LoadConfig("")
	if err != nil {
		// The embedded defaults are compiled in and validated by tests;
		// failing to parse them is a build defect, not a runtime input.
		panic(fmt.Sprintf("terrain: embedded defaults invalid: %v", err))
	}
	return cfg
}

// LoadConfig loads configuration from a YAML file, merging over the
// embedded defaults. An empty path uses the defaults alone.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("terrain: parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("terrain: reading config file: %w", err)
		}
		// Unmarshal into the same struct; only keys present in the file
		// overwrite defaults.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("terrain: parsing config file: %w", err)
		}
	}

	if err := cfg.computeDerived(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// computeDerived validates the configuration and fills Derived.
func (c *Config) computeDerived() error {
	if c.Streaming.MaxResidentTiles <= 0 {
		return fmt.Errorf("terrain: max_resident_tiles must be positive, got %d", c.Streaming.MaxResidentTiles)
	}
	if c.Streaming.RecencyWindow < 0 {
		return fmt.Errorf("terrain: recency_window must not be negative, got %d", c.Streaming.RecencyWindow)
	}

	w := c.Memory.WarningThreshold
	crit := c.Memory.CriticalThreshold
	if w <= 0 || w > 1 || crit <= 0 || crit > 1 {
		return fmt.Errorf("terrain: pressure thresholds must be in (0, 1], got %g and %g", w, crit)
	}
	if crit < w {
		return fmt.Errorf("terrain: critical_threshold %g below warning_threshold %g", crit, w)
	}

	if n := len(c.Culling.LODDistances); n > 4 {
		return fmt.Errorf("terrain: lod_distances has %d entries, max 4", n)
	}
	var lod [4]float32
	prev := float32(0)
	for i, d := range c.Culling.LODDistances {
		if d <= prev {
			return fmt.Errorf("terrain: lod_distances must be strictly ascending, entry %d is %g", i, d)
		}
		lod[i] = d
		prev = d
	}
	if c.Culling.MaxLevel < c.Culling.MinLevel {
		return fmt.Errorf("terrain: max_level %d below min_level %d", c.Culling.MaxLevel, c.Culling.MinLevel)
	}
	if c.Culling.FarDistance <= c.Culling.NearDistance {
		return fmt.Errorf("terrain: far_distance %g must exceed near_distance %g", c.Culling.FarDistance, c.Culling.NearDistance)
	}
	for i, d := range c.Culling.LODDistances {
		if d <= c.Culling.NearDistance || d > c.Culling.FarDistance {
			return fmt.Errorf("terrain: lod_distances entry %d (%g) outside (near_distance %g, far_distance %g]",
				i, d, c.Culling.NearDistance, c.Culling.FarDistance)
		}
	}

	for name := range c.Pools {
		if _, ok := poolTypeByName[name]; !ok {
			return fmt.Errorf("terrain: unknown pool %q", name)
		}
	}

	workers := c.Streaming.WorkerCount
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	c.Derived = DerivedConfig{
		WorkerCount:  workers,
		LODDistances: lod,
		CacheBudget:  uint64(c.Streaming.HeightCacheMB) << 20,
		DefragBudget: time.Duration(c.Memory.MaxDefragTimeMS) * time.Millisecond,
	}
	return nil
}

// allocatorConfig maps the memory section onto the pool allocator.
func (c *Config) allocatorConfig() pool.AllocatorConfig {
	pools := make(map[pool.ResourceType]pool.PoolConfig, len(c.Pools))
	for name, pc := range c.Pools {
		t := poolTypeByName[name]
		pools[t] = pool.PoolConfig{
			PreferredPoolSize:     uint64(pc.PreferredMB) << 20,
			MinPoolSize:           uint64(pc.MinMB) << 20,
			AllocationAlignment:   pc.Alignment,
			EnableDefragmentation: pc.Defrag,
			GrowthFactor:          pc.Growth,
		}
	}
	return pool.AllocatorConfig{
		MaxTotalMemory:       uint64(c.Memory.MaxTotalGPUMemoryMB) << 20,
		WarningThreshold:     c.Memory.WarningThreshold,
		CriticalThreshold:    c.Memory.CriticalThreshold,
		PressureDefragBudget: c.Derived.DefragBudget,
		Pools:                pools,
	}
}

// cullConfig maps the culling section onto the culler.
func (c *Config) cullConfig() cull.Config {
	return cull.Config{
		LODDistances:         c.Derived.LODDistances,
		MinLevel:             c.Culling.MinLevel,
		MaxLevel:             c.Culling.MaxLevel,
		EnableFrustumCulling: c.Culling.EnableFrustumCulling,
		EnableLODSelection:   c.Culling.EnableLODCulling,
		EnableGPU:            c.Culling.EnableGPUCulling,
	}
}
