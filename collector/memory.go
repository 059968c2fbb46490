package collector

import (
	"fmt"

	"github.com/hostwatch/hostwatch/model"
	"github.com/hostwatch/hostwatch/util"
)

// MemoryCollector reads /proc/meminfo for memory and swap usage.
type MemoryCollector struct{}

func (m *MemoryCollector) Name() string { return "memory" }

func (m *MemoryCollector) Collect(snap *model.MetricSnapshot) error {
	lines, err := util.ReadFileLines("/proc/meminfo")
	if err != nil {
		return fmt.Errorf("read /proc/meminfo: %w", err)
	}
	snap.Memory, snap.Swap = memoryFromKV(util.ParseKeyValueLines(lines))
	return nil
}

// memoryFromKV builds memory and swap metrics from meminfo key/values.
// "Used" excludes buffers and page cache; percent_used is based on
// MemAvailable, which is what reclaim actually leaves usable.
func memoryFromKV(kv map[string]string) (model.MemoryMetrics, model.SwapMetrics) {
	var mem model.MemoryMetrics
	mem.TotalBytes = util.ParseKB(kv["MemTotal"])
	mem.FreeBytes = util.ParseKB(kv["MemFree"])
	mem.AvailableBytes = util.ParseKB(kv["MemAvailable"])
	mem.BuffersBytes = util.ParseKB(kv["Buffers"])
	mem.CachedBytes = util.ParseKB(kv["Cached"])

	used := mem.TotalBytes
	for _, sub := range []uint64{mem.FreeBytes, mem.BuffersBytes, mem.CachedBytes} {
		if sub > used {
			used = 0
			break
		}
		used -= sub
	}
	mem.UsedBytes = used
	if mem.TotalBytes > 0 {
		mem.PercentUsed = 100 * float64(mem.TotalBytes-mem.AvailableBytes) / float64(mem.TotalBytes)
	}

	var swap model.SwapMetrics
	swap.TotalBytes = util.ParseKB(kv["SwapTotal"])
	swap.FreeBytes = util.ParseKB(kv["SwapFree"])
	if swap.TotalBytes >= swap.FreeBytes {
		swap.UsedBytes = swap.TotalBytes - swap.FreeBytes
	}
	if swap.TotalBytes > 0 {
		swap.PercentUsed = 100 * float64(swap.UsedBytes) / float64(swap.TotalBytes)
	}
	return mem, swap
}
