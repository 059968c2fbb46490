package collector

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hostwatch/hostwatch/model"
	"github.com/hostwatch/hostwatch/util"
)

func TestParseCPUStat(t *testing.T) {
	lines := []string{
		"cpu  100 0 100 700 100 0 0 0 0 0",
		"cpu0 50 0 50 350 50 0 0 0 0 0",
		"cpu1 50 0 50 350 50 0 0 0 0 0",
		"intr 12345",
	}
	total, perCore := parseCPUStat(lines)
	if got := total.total(); got != 1000 {
		t.Errorf("total jiffies = %d, want 1000", got)
	}
	if len(perCore) != 2 {
		t.Fatalf("perCore count = %d, want 2", len(perCore))
	}
	if perCore[0].idle != 350 {
		t.Errorf("core0 idle = %d, want 350", perCore[0].idle)
	}
}

func TestCPUPercent(t *testing.T) {
	cases := []struct {
		name       string
		prev, cur  cpuTimes
		want       float64
	}{
		{"half_busy", cpuTimes{idle: 0}, cpuTimes{user: 50, idle: 50}, 50},
		{"all_idle", cpuTimes{}, cpuTimes{idle: 100}, 0},
		{"all_busy", cpuTimes{}, cpuTimes{user: 100}, 100},
		{"counter_regression", cpuTimes{user: 100, idle: 100}, cpuTimes{user: 10, idle: 10}, 0},
		{"no_delta", cpuTimes{user: 10, idle: 10}, cpuTimes{user: 10, idle: 10}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := cpuPercent(c.prev, c.cur); got != c.want {
				t.Errorf("cpuPercent = %g, want %g", got, c.want)
			}
		})
	}
}

func TestMemoryFromKV(t *testing.T) {
	kv := util.ParseKeyValueLines([]string{
		"MemTotal:       16384000 kB",
		"MemFree:         4096000 kB",
		"MemAvailable:    8192000 kB",
		"Buffers:          512000 kB",
		"Cached:          2048000 kB",
		"SwapTotal:       2048000 kB",
		"SwapFree:        1024000 kB",
	})
	mem, swap := memoryFromKV(kv)
	if mem.TotalBytes != 16384000*1024 {
		t.Errorf("TotalBytes = %d", mem.TotalBytes)
	}
	wantUsed := uint64(16384000-4096000-512000-2048000) * 1024
	if mem.UsedBytes != wantUsed {
		t.Errorf("UsedBytes = %d, want %d", mem.UsedBytes, wantUsed)
	}
	if mem.PercentUsed != 50 {
		t.Errorf("PercentUsed = %g, want 50", mem.PercentUsed)
	}
	if mem.UsedBytes+mem.FreeBytes > mem.TotalBytes {
		t.Error("memory accounting invariant violated")
	}
	if swap.UsedBytes != 1024000*1024 || swap.PercentUsed != 50 {
		t.Errorf("swap = %+v", swap)
	}
}

func TestParseMounts(t *testing.T) {
	lines := []string{
		"/dev/sda1 / ext4 rw,relatime 0 0",
		"proc /proc proc rw 0 0",
		"tmpfs /run tmpfs rw 0 0",
		"/dev/sda1 /mnt/bind ext4 rw 0 0",      // same device, deduped
		"/dev/nvme0n1p2 /data xfs rw 0 0",
		"overlay /var/lib/docker/overlay2/x overlay rw 0 0",
	}
	mounts := parseMounts(lines)
	if len(mounts) != 2 {
		t.Fatalf("mounts = %d, want 2: %+v", len(mounts), mounts)
	}
	if mounts[0].MountPoint != "/" || mounts[1].MountPoint != "/data" {
		t.Errorf("unexpected mounts: %+v", mounts)
	}
	if mounts[1].FSType != "xfs" {
		t.Errorf("fs_type = %q", mounts[1].FSType)
	}
}

func TestSumNetDev(t *testing.T) {
	lines := []string{
		"Inter-|   Receive                                                |  Transmit",
		" face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed",
		"    lo: 9999 99 9 9 0 0 0 0 9999 99 9 9 0 0 0 0",
		"  eth0: 1000 10 1 2 0 0 0 0 3000 30 3 4 0 0 0 0",
		"  eth1: 500 5 0 0 0 0 0 0 700 7 0 0 0 0 0 0",
	}
	nm := sumNetDev(lines)
	if nm.BytesRecv != 1500 || nm.BytesSent != 3700 {
		t.Errorf("bytes recv/sent = %d/%d", nm.BytesRecv, nm.BytesSent)
	}
	if nm.PacketsRecv != 15 || nm.PacketsSent != 37 {
		t.Errorf("packets recv/sent = %d/%d", nm.PacketsRecv, nm.PacketsSent)
	}
	if nm.ErrorsIn != 1 || nm.ErrorsOut != 3 || nm.DropsIn != 2 || nm.DropsOut != 4 {
		t.Errorf("errs/drops = %+v", nm)
	}
}

// failingCollector always errors to exercise partial-failure handling.
type failingCollector struct{}

func (failingCollector) Name() string                            { return "failing" }
func (failingCollector) Collect(snap *model.MetricSnapshot) error { return errFail }

var errFail = &collectError{}

type collectError struct{}

func (*collectError) Error() string { return "boom" }

func TestCollectAllContinuesPastFailure(t *testing.T) {
	reg := &Registry{}
	reg.Add(failingCollector{})
	reg.Add(staticCollector{percent: 12})

	snap := &model.MetricSnapshot{}
	errs := reg.CollectAll(snap)
	if len(errs) != 1 {
		t.Fatalf("errs = %d, want 1", len(errs))
	}
	if snap.CPU.OverallPercent != 12 {
		t.Error("later collector did not run after earlier failure")
	}
}

type staticCollector struct{ percent float64 }

func (staticCollector) Name() string { return "static" }
func (c staticCollector) Collect(snap *model.MetricSnapshot) error {
	snap.CPU.OverallPercent = c.percent
	return nil
}

// captureSink records offered snapshots without blocking.
type captureSink struct {
	mu    sync.Mutex
	snaps []*model.MetricSnapshot
}

func (c *captureSink) Offer(snap *model.MetricSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, snap)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

func TestSamplerProducesOnCadence(t *testing.T) {
	reg := &Registry{}
	reg.Add(staticCollector{percent: 5})
	reg.Add(failingCollector{})

	sink := &captureSink{}
	var logBuf strings.Builder
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	s := NewSampler("h1", reg, sink, 10*time.Millisecond, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if n := sink.count(); n < 3 {
		t.Errorf("snapshots produced = %d, want >= 3", n)
	}
	sink.mu.Lock()
	first := sink.snaps[0]
	sink.mu.Unlock()
	if first.Hostname != "h1" {
		t.Errorf("hostname = %q", first.Hostname)
	}
	if first.Timestamp.IsZero() || first.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp not UTC: %v", first.Timestamp)
	}
	if !strings.Contains(logBuf.String(), "partial collection failure") {
		t.Error("collection gap was not logged")
	}
}
