package pool

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// reportPrinter formats byte counts with thousands grouping in memory
// reports.
var reportPrinter = message.NewPrinter(language.English)

// PoolStats is a snapshot of one typed pool.
type PoolStats struct {
	Type            ResourceType
	TotalBytes      uint64
	UsedBytes       uint64
	AllocationCount uint64
	BlockCount      int
	Fragmentation   float64
}

// Utilization returns used/total, or 0 for an empty pool.
func (s PoolStats) Utilization() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.TotalBytes)
}

// AllocatorStats is a snapshot of the whole allocator.
type AllocatorStats struct {
	Pools         []PoolStats
	TotalUsed     uint64
	TotalCapacity uint64
	MaxTotal      uint64
	UsageRatio    float64
	Pressure      PressureLevel
}

// Stats returns a consistent snapshot of per-pool and global usage.
func (a *Allocator) Stats() AllocatorStats {
	var out AllocatorStats

	a.mu.RLock()
	types := make([]ResourceType, 0, len(a.pools))
	for t := range a.pools {
		types = append(types, t)
	}
	a.mu.RUnlock()
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	for _, t := range types {
		a.mu.RLock()
		p := a.pools[t]
		a.mu.RUnlock()
		if p == nil {
			continue
		}
		mu := a.poolMus[t]
		mu.Lock()
		out.Pools = append(out.Pools, PoolStats{
			Type:            t,
			TotalBytes:      p.total,
			UsedBytes:       p.used,
			AllocationCount: p.allocCount,
			BlockCount:      len(p.blocks),
			Fragmentation:   p.fragmentation(),
		})
		mu.Unlock()
	}

	a.statsMu.Lock()
	out.TotalUsed = a.totalUsed
	out.TotalCapacity = a.totalCapacity
	out.MaxTotal = a.cfg.MaxTotalMemory
	out.UsageRatio = float64(a.totalUsed) / float64(a.cfg.MaxTotalMemory)
	switch {
	case out.UsageRatio >= a.cfg.CriticalThreshold:
		out.Pressure = PressureCritical
	case out.UsageRatio >= a.cfg.WarningThreshold:
		out.Pressure = PressureWarning
	default:
		out.Pressure = PressureNone
	}
	a.statsMu.Unlock()

	return out
}

// String implements fmt.Stringer with a one-line summary.
func (s AllocatorStats) String() string {
	return fmt.Sprintf("pools=%d used=%d/%d ratio=%.1f%% pressure=%s",
		len(s.Pools), s.TotalUsed, s.MaxTotal, s.UsageRatio*100, s.Pressure)
}

// MemoryReport returns a multi-line human-readable report of every pool
// with utilization bars, for debug logs and the stats endpoint of a host
// application.
func (a *Allocator) MemoryReport() string {
	st := a.Stats()
	var b strings.Builder

	reportPrinter.Fprintf(&b, "memory pools: %d/%d bytes (%.1f%%), pressure %s\n",
		st.TotalUsed, st.MaxTotal, st.UsageRatio*100, st.Pressure)
	for _, p := range st.Pools {
		reportPrinter.Fprintf(&b, "  %-14s %s %10d / %10d bytes  allocs=%d blocks=%d frag=%.0f%%\n",
			p.Type.String(),
			utilizationBar(p.Utilization(), 20),
			p.UsedBytes, p.TotalBytes,
			p.AllocationCount, p.BlockCount,
			p.Fragmentation*100)
	}
	return b.String()
}

// utilizationBar renders a fixed-width [####----] usage bar.
func utilizationBar(ratio float64, width int) string {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio*float64(width) + 0.5)
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < width; i++ {
		if i < filled {
			b.WriteByte('#')
		} else {
			b.WriteByte('-')
		}
	}
	b.WriteByte(']')
	return b.String()
}
