package collector

import (
	"fmt"
	"strings"

	"github.com/hostwatch/hostwatch/model"
	"github.com/hostwatch/hostwatch/util"
)

// cpuTimes holds one row of /proc/stat jiffy counters.
type cpuTimes struct {
	user, nice, system, idle, iowait, irq, softirq, steal uint64
}

func (t cpuTimes) total() uint64 {
	return t.user + t.nice + t.system + t.idle + t.iowait + t.irq + t.softirq + t.steal
}

func (t cpuTimes) busy() uint64 {
	return t.total() - t.idle - t.iowait
}

// CPUCollector reads /proc/stat and /proc/loadavg. Utilization is computed
// from the jiffy delta against the previous collection; the first collection
// uses the counters since boot.
type CPUCollector struct {
	prevTotal   cpuTimes
	prevPerCore []cpuTimes
	primed      bool
}

// NewCPUCollector creates a CPU collector with no prior sample.
func NewCPUCollector() *CPUCollector {
	return &CPUCollector{}
}

func (c *CPUCollector) Name() string { return "cpu" }

func (c *CPUCollector) Collect(snap *model.MetricSnapshot) error {
	lines, err := util.ReadFileLines("/proc/stat")
	if err != nil {
		return fmt.Errorf("read /proc/stat: %w", err)
	}
	total, perCore := parseCPUStat(lines)

	var prevTotal cpuTimes
	var prevPerCore []cpuTimes
	if c.primed {
		prevTotal, prevPerCore = c.prevTotal, c.prevPerCore
	}
	snap.CPU.OverallPercent = cpuPercent(prevTotal, total)
	snap.CPU.PerCorePercent = make([]float64, len(perCore))
	for i, ct := range perCore {
		var prev cpuTimes
		if i < len(prevPerCore) {
			prev = prevPerCore[i]
		}
		snap.CPU.PerCorePercent[i] = cpuPercent(prev, ct)
	}
	snap.CPU.CoreCount = len(perCore)
	c.prevTotal, c.prevPerCore, c.primed = total, perCore, true

	return c.collectLoadAvg(snap)
}

// parseCPUStat extracts the aggregate "cpu " row and the per-core "cpuN" rows.
func parseCPUStat(lines []string) (total cpuTimes, perCore []cpuTimes) {
	for _, line := range lines {
		if strings.HasPrefix(line, "cpu ") {
			total = parseCPULine(line)
		} else if strings.HasPrefix(line, "cpu") {
			perCore = append(perCore, parseCPULine(line))
		}
	}
	return total, perCore
}

func parseCPULine(line string) cpuTimes {
	fields := strings.Fields(line)
	var t cpuTimes
	idx := func(i int) uint64 {
		if i < len(fields) {
			return util.ParseUint64(fields[i])
		}
		return 0
	}
	t.user = idx(1)
	t.nice = idx(2)
	t.system = idx(3)
	t.idle = idx(4)
	t.iowait = idx(5)
	t.irq = idx(6)
	t.softirq = idx(7)
	t.steal = idx(8)
	return t
}

// cpuPercent computes busy utilization over the delta between two readings,
// clamped to [0,100]. Counters can regress after suspend; a non-positive
// delta yields 0.
func cpuPercent(prev, cur cpuTimes) float64 {
	totalDelta := int64(cur.total()) - int64(prev.total())
	if totalDelta <= 0 {
		return 0
	}
	busyDelta := int64(cur.busy()) - int64(prev.busy())
	if busyDelta < 0 {
		busyDelta = 0
	}
	pct := 100 * float64(busyDelta) / float64(totalDelta)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (c *CPUCollector) collectLoadAvg(snap *model.MetricSnapshot) error {
	content, err := util.ReadFileString("/proc/loadavg")
	if err != nil {
		return fmt.Errorf("read /proc/loadavg: %w", err)
	}
	fields := strings.Fields(content)
	if len(fields) < 3 {
		return fmt.Errorf("unexpected /proc/loadavg format")
	}
	snap.CPU.LoadAvg.Load1 = util.ParseFloat64(fields[0])
	snap.CPU.LoadAvg.Load5 = util.ParseFloat64(fields[1])
	snap.CPU.LoadAvg.Load15 = util.ParseFloat64(fields[2])
	return nil
}
