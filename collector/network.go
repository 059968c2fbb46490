package collector

import (
	"fmt"
	"strings"

	"github.com/hostwatch/hostwatch/model"
	"github.com/hostwatch/hostwatch/util"
)

// NetworkCollector reads /proc/net/dev and sums counters across interfaces,
// excluding loopback.
type NetworkCollector struct{}

func (n *NetworkCollector) Name() string { return "network" }

func (n *NetworkCollector) Collect(snap *model.MetricSnapshot) error {
	lines, err := util.ReadFileLines("/proc/net/dev")
	if err != nil {
		return fmt.Errorf("read /proc/net/dev: %w", err)
	}
	snap.Network = sumNetDev(lines)
	return nil
}

// sumNetDev aggregates all non-loopback interface counters.
//
// /proc/net/dev columns after "iface:":
//
//	rx: bytes packets errs drop fifo frame compressed multicast
//	tx: bytes packets errs drop fifo colls carrier compressed
func sumNetDev(lines []string) model.NetworkMetrics {
	var nm model.NetworkMetrics
	for _, line := range lines {
		if strings.Contains(line, "|") || strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.TrimSpace(parts[0]) == "lo" {
			continue
		}
		fields := strings.Fields(parts[1])
		if len(fields) < 16 {
			continue
		}
		nm.BytesRecv += util.ParseUint64(fields[0])
		nm.PacketsRecv += util.ParseUint64(fields[1])
		nm.ErrorsIn += util.ParseUint64(fields[2])
		nm.DropsIn += util.ParseUint64(fields[3])
		nm.BytesSent += util.ParseUint64(fields[8])
		nm.PacketsSent += util.ParseUint64(fields[9])
		nm.ErrorsOut += util.ParseUint64(fields[10])
		nm.DropsOut += util.ParseUint64(fields[11])
	}
	return nm
}
