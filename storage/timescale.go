package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hostwatch/hostwatch/model"
)

const timescaleSchema = `
CREATE TABLE IF NOT EXISTS samples (
	ts       TIMESTAMPTZ      NOT NULL,
	hostname TEXT             NOT NULL,
	metric   TEXT             NOT NULL,
	resource TEXT             NOT NULL DEFAULT '',
	device   TEXT             NOT NULL DEFAULT '',
	fs_type  TEXT             NOT NULL DEFAULT '',
	value    DOUBLE PRECISION NOT NULL,
	UNIQUE (ts, hostname, metric, resource)
);
CREATE INDEX IF NOT EXISTS samples_host_ts_idx ON samples (hostname, ts);
`

// point is one tagged time-series row derived from a snapshot.
type point struct {
	metric   string
	resource string
	device   string
	fsType   string
	value    float64
}

// TimescaleStore is the time-series backend: each snapshot becomes a batch of
// tagged points in a Postgres/TimescaleDB hypertable, one row per numeric
// field. Query pivots the points back into snapshots.
type TimescaleStore struct {
	pool *pgxpool.Pool
}

// OpenTimescale connects to the database at dsn and ensures the schema.
// When the timescaledb extension is available the samples table is promoted
// to a hypertable; plain Postgres works too.
func OpenTimescale(ctx context.Context, dsn string) (*TimescaleStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect timescale: %w", err)
	}
	if _, err := pool.Exec(ctx, timescaleSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create timescale schema: %w", err)
	}
	// Best effort: a missing extension just leaves a regular table.
	_, _ = pool.Exec(ctx, `SELECT create_hypertable('samples', 'ts', if_not_exists => TRUE)`)
	return &TimescaleStore{pool: pool}, nil
}

// Write stores one snapshot as a batch of points inside a transaction.
// Conflicting points (same timestamp, host, metric, resource) are skipped,
// so duplicate ingests are idempotent.
func (t *TimescaleStore) Write(ctx context.Context, snap *model.MetricSnapshot) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin write tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	ts := snap.Timestamp.UTC()
	for _, p := range snapshotPoints(snap) {
		batch.Queue(`
			INSERT INTO samples (ts, hostname, metric, resource, device, fs_type, value)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (ts, hostname, metric, resource) DO NOTHING`,
			ts, snap.Hostname, p.metric, p.resource, p.device, p.fsType, p.value)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write points: %w", err)
	}
	return tx.Commit(ctx)
}

// snapshotPoints flattens a snapshot into tagged points. Metric naming
// mirrors the measurement/field layout of the original time-series schema.
func snapshotPoints(snap *model.MetricSnapshot) []point {
	pts := []point{
		{metric: "cpu.percent", value: snap.CPU.OverallPercent},
		{metric: "cpu.core_count", value: float64(snap.CPU.CoreCount)},
		{metric: "load.1m", value: snap.CPU.LoadAvg.Load1},
		{metric: "load.5m", value: snap.CPU.LoadAvg.Load5},
		{metric: "load.15m", value: snap.CPU.LoadAvg.Load15},
		{metric: "memory.total_bytes", value: float64(snap.Memory.TotalBytes)},
		{metric: "memory.used_bytes", value: float64(snap.Memory.UsedBytes)},
		{metric: "memory.free_bytes", value: float64(snap.Memory.FreeBytes)},
		{metric: "memory.available_bytes", value: float64(snap.Memory.AvailableBytes)},
		{metric: "memory.buffers_bytes", value: float64(snap.Memory.BuffersBytes)},
		{metric: "memory.cached_bytes", value: float64(snap.Memory.CachedBytes)},
		{metric: "memory.percent_used", value: snap.Memory.PercentUsed},
		{metric: "swap.total_bytes", value: float64(snap.Swap.TotalBytes)},
		{metric: "swap.used_bytes", value: float64(snap.Swap.UsedBytes)},
		{metric: "swap.free_bytes", value: float64(snap.Swap.FreeBytes)},
		{metric: "swap.percent_used", value: snap.Swap.PercentUsed},
		{metric: "network.bytes_sent", value: float64(snap.Network.BytesSent)},
		{metric: "network.bytes_recv", value: float64(snap.Network.BytesRecv)},
		{metric: "network.packets_sent", value: float64(snap.Network.PacketsSent)},
		{metric: "network.packets_recv", value: float64(snap.Network.PacketsRecv)},
		{metric: "network.errors_in", value: float64(snap.Network.ErrorsIn)},
		{metric: "network.errors_out", value: float64(snap.Network.ErrorsOut)},
		{metric: "network.drops_in", value: float64(snap.Network.DropsIn)},
		{metric: "network.drops_out", value: float64(snap.Network.DropsOut)},
	}
	for i, pct := range snap.CPU.PerCorePercent {
		pts = append(pts, point{metric: "cpu.core_percent", resource: strconv.Itoa(i), value: pct})
	}
	for _, fs := range snap.Disk.Filesystems {
		tag := point{resource: fs.MountPoint, device: fs.Device, fsType: fs.FSType}
		for metric, v := range map[string]float64{
			"disk.total_bytes":  float64(fs.TotalBytes),
			"disk.used_bytes":   float64(fs.UsedBytes),
			"disk.free_bytes":   float64(fs.FreeBytes),
			"disk.percent_used": fs.PercentUsed,
		} {
			p := tag
			p.metric = metric
			p.value = v
			pts = append(pts, p)
		}
	}
	return pts
}

// Query reads the points in the window and pivots them back into snapshots
// ordered by timestamp ascending.
func (t *TimescaleStore) Query(ctx context.Context, host string, since, until time.Time) ([]model.MetricSnapshot, error) {
	since, until = queryRange(since, until)
	rows, err := t.pool.Query(ctx, `
		SELECT ts, hostname, metric, resource, device, fs_type, value
		FROM samples
		WHERE ($1 = '' OR hostname = $1) AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC, hostname ASC, metric ASC, resource ASC`,
		host, since.UTC(), until.UTC())
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var (
		snaps []model.MetricSnapshot
		cur   *model.MetricSnapshot
		fsIdx map[string]int
	)
	for rows.Next() {
		var (
			ts                                time.Time
			hostname, metric, resource        string
			device, fsType                    string
			value                             float64
		)
		if err := rows.Scan(&ts, &hostname, &metric, &resource, &device, &fsType, &value); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		ts = ts.UTC()
		if cur == nil || !cur.Timestamp.Equal(ts) || cur.Hostname != hostname {
			snaps = append(snaps, model.MetricSnapshot{Hostname: hostname, Timestamp: ts})
			cur = &snaps[len(snaps)-1]
			fsIdx = make(map[string]int)
		}
		applyPoint(cur, fsIdx, metric, resource, device, fsType, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return snaps, nil
}

// applyPoint folds one tagged point into the snapshot being rebuilt.
func applyPoint(snap *model.MetricSnapshot, fsIdx map[string]int, metric, resource, device, fsType string, value float64) {
	if strings.HasPrefix(metric, "disk.") {
		idx, ok := fsIdx[resource]
		if !ok {
			snap.Disk.Filesystems = append(snap.Disk.Filesystems, model.FilesystemMetrics{
				MountPoint: resource, Device: device, FSType: fsType,
			})
			idx = len(snap.Disk.Filesystems) - 1
			fsIdx[resource] = idx
		}
		fs := &snap.Disk.Filesystems[idx]
		switch metric {
		case "disk.total_bytes":
			fs.TotalBytes = uint64(value)
		case "disk.used_bytes":
			fs.UsedBytes = uint64(value)
		case "disk.free_bytes":
			fs.FreeBytes = uint64(value)
		case "disk.percent_used":
			fs.PercentUsed = value
		}
		return
	}

	switch metric {
	case "cpu.percent":
		snap.CPU.OverallPercent = value
	case "cpu.core_count":
		snap.CPU.CoreCount = int(value)
	case "cpu.core_percent":
		core, err := strconv.Atoi(resource)
		if err != nil || core < 0 {
			return
		}
		for len(snap.CPU.PerCorePercent) <= core {
			snap.CPU.PerCorePercent = append(snap.CPU.PerCorePercent, 0)
		}
		snap.CPU.PerCorePercent[core] = value
	case "load.1m":
		snap.CPU.LoadAvg.Load1 = value
	case "load.5m":
		snap.CPU.LoadAvg.Load5 = value
	case "load.15m":
		snap.CPU.LoadAvg.Load15 = value
	case "memory.total_bytes":
		snap.Memory.TotalBytes = uint64(value)
	case "memory.used_bytes":
		snap.Memory.UsedBytes = uint64(value)
	case "memory.free_bytes":
		snap.Memory.FreeBytes = uint64(value)
	case "memory.available_bytes":
		snap.Memory.AvailableBytes = uint64(value)
	case "memory.buffers_bytes":
		snap.Memory.BuffersBytes = uint64(value)
	case "memory.cached_bytes":
		snap.Memory.CachedBytes = uint64(value)
	case "memory.percent_used":
		snap.Memory.PercentUsed = value
	case "swap.total_bytes":
		snap.Swap.TotalBytes = uint64(value)
	case "swap.used_bytes":
		snap.Swap.UsedBytes = uint64(value)
	case "swap.free_bytes":
		snap.Swap.FreeBytes = uint64(value)
	case "swap.percent_used":
		snap.Swap.PercentUsed = value
	case "network.bytes_sent":
		snap.Network.BytesSent = uint64(value)
	case "network.bytes_recv":
		snap.Network.BytesRecv = uint64(value)
	case "network.packets_sent":
		snap.Network.PacketsSent = uint64(value)
	case "network.packets_recv":
		snap.Network.PacketsRecv = uint64(value)
	case "network.errors_in":
		snap.Network.ErrorsIn = uint64(value)
	case "network.errors_out":
		snap.Network.ErrorsOut = uint64(value)
	case "network.drops_in":
		snap.Network.DropsIn = uint64(value)
	case "network.drops_out":
		snap.Network.DropsOut = uint64(value)
	}
}

// Ping verifies database connectivity.
func (t *TimescaleStore) Ping(ctx context.Context) error {
	return t.pool.Ping(ctx)
}

// Close releases the connection pool.
func (t *TimescaleStore) Close() error {
	t.pool.Close()
	return nil
}
