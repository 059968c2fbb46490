package collector

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/hostwatch/hostwatch/model"
	"github.com/hostwatch/hostwatch/util"
)

// pseudoFS lists filesystem types to skip (not real block-backed filesystems).
var pseudoFS = map[string]bool{
	"sysfs": true, "proc": true, "devtmpfs": true, "tmpfs": true,
	"cgroup": true, "cgroup2": true, "debugfs": true, "tracefs": true,
	"securityfs": true, "hugetlbfs": true, "mqueue": true, "fusectl": true,
	"configfs": true, "pstore": true, "bpf": true, "ramfs": true,
	"rpc_pipefs": true, "nsfs": true, "autofs": true, "efivarfs": true,
	"squashfs": true, "iso9660": true, "devpts": true, "overlay": true,
}

// mountEntry is one candidate line from /proc/mounts.
type mountEntry struct {
	Device     string
	MountPoint string
	FSType     string
}

// DiskCollector reads /proc/mounts and calls statfs per real mount.
type DiskCollector struct{}

func (d *DiskCollector) Name() string { return "disk" }

func (d *DiskCollector) Collect(snap *model.MetricSnapshot) error {
	lines, err := util.ReadFileLines("/proc/mounts")
	if err != nil {
		return fmt.Errorf("read /proc/mounts: %w", err)
	}

	var filesystems []model.FilesystemMetrics
	var failed []string
	for _, m := range parseMounts(lines) {
		var stat syscall.Statfs_t
		if err := syscall.Statfs(m.MountPoint, &stat); err != nil {
			// One unreadable mount must not abort the snapshot.
			failed = append(failed, m.MountPoint)
			continue
		}
		filesystems = append(filesystems, filesystemFromStatfs(m, &stat))
	}
	snap.Disk.Filesystems = filesystems

	if len(failed) > 0 {
		return fmt.Errorf("statfs failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

// parseMounts returns the block-backed mounts from /proc/mounts lines,
// deduplicated by device and by mount point.
func parseMounts(lines []string) []mountEntry {
	seenDev := make(map[string]bool)
	seenMount := make(map[string]bool)
	var mounts []mountEntry
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		dev, mountPoint, fsType := fields[0], fields[1], fields[2]
		if pseudoFS[fsType] || !strings.HasPrefix(dev, "/") {
			continue
		}
		if seenDev[dev] || seenMount[mountPoint] {
			continue
		}
		seenDev[dev] = true
		seenMount[mountPoint] = true
		mounts = append(mounts, mountEntry{Device: dev, MountPoint: mountPoint, FSType: fsType})
	}
	return mounts
}

func filesystemFromStatfs(m mountEntry, stat *syscall.Statfs_t) model.FilesystemMetrics {
	bsize := uint64(stat.Bsize)
	total := stat.Blocks * bsize
	free := stat.Bfree * bsize
	used := uint64(0)
	if total >= free {
		used = total - free
	}
	fs := model.FilesystemMetrics{
		Device:     m.Device,
		MountPoint: m.MountPoint,
		FSType:     m.FSType,
		TotalBytes: total,
		UsedBytes:  used,
		FreeBytes:  free,
	}
	if total > 0 {
		fs.PercentUsed = 100 * float64(used) / float64(total)
	}
	return fs
}
