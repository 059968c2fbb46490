package model

import (
	"fmt"
	"time"
)

// MetricSnapshot holds one point-in-time set of resource metrics from a host.
// A snapshot is immutable once built: the sampler constructs it, and every
// later stage treats it as read-only.
type MetricSnapshot struct {
	Hostname  string         `json:"hostname"`
	Timestamp time.Time      `json:"timestamp"`
	CPU       CPUMetrics     `json:"cpu"`
	Memory    MemoryMetrics  `json:"memory"`
	Swap      SwapMetrics    `json:"swap"`
	Disk      DiskMetrics    `json:"disk"`
	Network   NetworkMetrics `json:"network"`
}

// CPUMetrics holds overall and per-core utilization plus load averages.
type CPUMetrics struct {
	OverallPercent float64   `json:"overall_percent"`
	PerCorePercent []float64 `json:"per_core_percent,omitempty"`
	CoreCount      int       `json:"core_count_logical"`
	LoadAvg        LoadAvg   `json:"load_avg"`
}

// LoadAvg holds the 1/5/15 minute load averages.
type LoadAvg struct {
	Load1  float64 `json:"load_1m"`
	Load5  float64 `json:"load_5m"`
	Load15 float64 `json:"load_15m"`
}

// MemoryMetrics holds physical memory usage in bytes.
type MemoryMetrics struct {
	TotalBytes     uint64  `json:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	FreeBytes      uint64  `json:"free_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	BuffersBytes   uint64  `json:"buffers_bytes"`
	CachedBytes    uint64  `json:"cached_bytes"`
	PercentUsed    float64 `json:"percent_used"`
}

// SwapMetrics holds swap usage in bytes.
type SwapMetrics struct {
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	PercentUsed float64 `json:"percent_used"`
}

// DiskMetrics holds per-filesystem usage, keyed by mount point.
type DiskMetrics struct {
	Filesystems []FilesystemMetrics `json:"filesystems"`
}

// FilesystemMetrics holds usage for one mounted filesystem.
type FilesystemMetrics struct {
	Device      string  `json:"device"`
	MountPoint  string  `json:"mount_point"`
	FSType      string  `json:"fs_type"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	PercentUsed float64 `json:"percent_used"`
}

// NetworkMetrics holds host-wide interface counters (loopback excluded).
type NetworkMetrics struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
	ErrorsIn    uint64 `json:"errors_in"`
	ErrorsOut   uint64 `json:"errors_out"`
	DropsIn     uint64 `json:"drops_in"`
	DropsOut    uint64 `json:"drops_out"`
}

// Validate checks the snapshot invariants: required identity fields,
// percentages within [0,100], byte accounting that adds up, and unique
// mount points. The returned error is suitable as a rejection reason.
func (s *MetricSnapshot) Validate() error {
	if s.Hostname == "" {
		return fmt.Errorf("missing hostname")
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	if err := checkPercent("cpu.overall_percent", s.CPU.OverallPercent); err != nil {
		return err
	}
	for i, p := range s.CPU.PerCorePercent {
		if err := checkPercent(fmt.Sprintf("cpu.per_core_percent[%d]", i), p); err != nil {
			return err
		}
	}
	if err := checkPercent("memory.percent_used", s.Memory.PercentUsed); err != nil {
		return err
	}
	if s.Memory.UsedBytes+s.Memory.FreeBytes > s.Memory.TotalBytes {
		return fmt.Errorf("memory used+free exceeds total (%d+%d > %d)",
			s.Memory.UsedBytes, s.Memory.FreeBytes, s.Memory.TotalBytes)
	}
	if err := checkPercent("swap.percent_used", s.Swap.PercentUsed); err != nil {
		return err
	}
	if s.Swap.UsedBytes+s.Swap.FreeBytes > s.Swap.TotalBytes {
		return fmt.Errorf("swap used+free exceeds total (%d+%d > %d)",
			s.Swap.UsedBytes, s.Swap.FreeBytes, s.Swap.TotalBytes)
	}
	seen := make(map[string]bool, len(s.Disk.Filesystems))
	for _, fs := range s.Disk.Filesystems {
		if fs.MountPoint == "" {
			return fmt.Errorf("filesystem with empty mount_point")
		}
		if seen[fs.MountPoint] {
			return fmt.Errorf("duplicate mount_point %q", fs.MountPoint)
		}
		seen[fs.MountPoint] = true
		if err := checkPercent("disk "+fs.MountPoint+" percent_used", fs.PercentUsed); err != nil {
			return err
		}
		if fs.UsedBytes+fs.FreeBytes > fs.TotalBytes {
			return fmt.Errorf("filesystem %s used+free exceeds total (%d+%d > %d)",
				fs.MountPoint, fs.UsedBytes, fs.FreeBytes, fs.TotalBytes)
		}
	}
	return nil
}

func checkPercent(field string, v float64) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%s out of range: %g", field, v)
	}
	return nil
}
