package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hostwatch/hostwatch/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	hostname         TEXT    NOT NULL,
	ts               INTEGER NOT NULL,
	cpu_percent      REAL    NOT NULL,
	cpu_cores        INTEGER NOT NULL,
	per_core         TEXT    NOT NULL,
	load_1m          REAL    NOT NULL,
	load_5m          REAL    NOT NULL,
	load_15m         REAL    NOT NULL,
	mem_total        INTEGER NOT NULL,
	mem_used         INTEGER NOT NULL,
	mem_free         INTEGER NOT NULL,
	mem_available    INTEGER NOT NULL,
	mem_buffers      INTEGER NOT NULL,
	mem_cached       INTEGER NOT NULL,
	mem_percent      REAL    NOT NULL,
	swap_total       INTEGER NOT NULL,
	swap_used        INTEGER NOT NULL,
	swap_free        INTEGER NOT NULL,
	swap_percent     REAL    NOT NULL,
	net_bytes_sent   INTEGER NOT NULL,
	net_bytes_recv   INTEGER NOT NULL,
	net_packets_sent INTEGER NOT NULL,
	net_packets_recv INTEGER NOT NULL,
	net_errors_in    INTEGER NOT NULL,
	net_errors_out   INTEGER NOT NULL,
	net_drops_in     INTEGER NOT NULL,
	net_drops_out    INTEGER NOT NULL,
	UNIQUE (hostname, ts)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_host_ts ON snapshots (hostname, ts);
CREATE TABLE IF NOT EXISTS filesystems (
	snapshot_id  INTEGER NOT NULL REFERENCES snapshots(id),
	device       TEXT    NOT NULL,
	mount_point  TEXT    NOT NULL,
	fs_type      TEXT    NOT NULL,
	total_bytes  INTEGER NOT NULL,
	used_bytes   INTEGER NOT NULL,
	free_bytes   INTEGER NOT NULL,
	percent_used REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_filesystems_snapshot ON filesystems (snapshot_id);
`

// SQLiteStore is the embedded relational backend: one snapshot row plus
// child filesystem rows, written in a single transaction.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Write stores one snapshot atomically. A snapshot already present for the
// same (hostname, timestamp) is left untouched.
func (s *SQLiteStore) Write(ctx context.Context, snap *model.MetricSnapshot) error {
	perCore, err := json.Marshal(snap.CPU.PerCorePercent)
	if err != nil {
		return fmt.Errorf("encode per-core percentages: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO snapshots (
			hostname, ts, cpu_percent, cpu_cores, per_core, load_1m, load_5m, load_15m,
			mem_total, mem_used, mem_free, mem_available, mem_buffers, mem_cached, mem_percent,
			swap_total, swap_used, swap_free, swap_percent,
			net_bytes_sent, net_bytes_recv, net_packets_sent, net_packets_recv,
			net_errors_in, net_errors_out, net_drops_in, net_drops_out
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		snap.Hostname, snap.Timestamp.UTC().UnixNano(),
		snap.CPU.OverallPercent, snap.CPU.CoreCount, string(perCore),
		snap.CPU.LoadAvg.Load1, snap.CPU.LoadAvg.Load5, snap.CPU.LoadAvg.Load15,
		int64(snap.Memory.TotalBytes), int64(snap.Memory.UsedBytes), int64(snap.Memory.FreeBytes),
		int64(snap.Memory.AvailableBytes), int64(snap.Memory.BuffersBytes), int64(snap.Memory.CachedBytes),
		snap.Memory.PercentUsed,
		int64(snap.Swap.TotalBytes), int64(snap.Swap.UsedBytes), int64(snap.Swap.FreeBytes),
		snap.Swap.PercentUsed,
		int64(snap.Network.BytesSent), int64(snap.Network.BytesRecv),
		int64(snap.Network.PacketsSent), int64(snap.Network.PacketsRecv),
		int64(snap.Network.ErrorsIn), int64(snap.Network.ErrorsOut),
		int64(snap.Network.DropsIn), int64(snap.Network.DropsOut),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if affected == 0 {
		// Duplicate (hostname, ts): keep the original, idempotent success.
		return tx.Commit()
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	for _, fs := range snap.Disk.Filesystems {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO filesystems (snapshot_id, device, mount_point, fs_type,
				total_bytes, used_bytes, free_bytes, percent_used)
			VALUES (?,?,?,?,?,?,?,?)`,
			id, fs.Device, fs.MountPoint, fs.FSType,
			int64(fs.TotalBytes), int64(fs.UsedBytes), int64(fs.FreeBytes), fs.PercentUsed,
		); err != nil {
			return fmt.Errorf("insert filesystem %s: %w", fs.MountPoint, err)
		}
	}
	return tx.Commit()
}

// Query returns stored snapshots ordered by timestamp ascending. host == ""
// matches all hosts; zero times leave that bound open.
func (s *SQLiteStore) Query(ctx context.Context, host string, since, until time.Time) ([]model.MetricSnapshot, error) {
	since, until = queryRange(since, until)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hostname, ts, cpu_percent, cpu_cores, per_core, load_1m, load_5m, load_15m,
			mem_total, mem_used, mem_free, mem_available, mem_buffers, mem_cached, mem_percent,
			swap_total, swap_used, swap_free, swap_percent,
			net_bytes_sent, net_bytes_recv, net_packets_sent, net_packets_recv,
			net_errors_in, net_errors_out, net_drops_in, net_drops_out
		FROM snapshots
		WHERE (? = '' OR hostname = ?) AND ts >= ? AND ts <= ?
		ORDER BY ts ASC, hostname ASC`,
		host, host, since.UTC().UnixNano(), until.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []model.MetricSnapshot
	byID := make(map[int64]int)
	for rows.Next() {
		var (
			id, ts  int64
			perCore string
			snap    model.MetricSnapshot
			mem     [6]int64
			swp     [3]int64
			net     [8]int64
		)
		if err := rows.Scan(&id, &snap.Hostname, &ts,
			&snap.CPU.OverallPercent, &snap.CPU.CoreCount, &perCore,
			&snap.CPU.LoadAvg.Load1, &snap.CPU.LoadAvg.Load5, &snap.CPU.LoadAvg.Load15,
			&mem[0], &mem[1], &mem[2], &mem[3], &mem[4], &mem[5], &snap.Memory.PercentUsed,
			&swp[0], &swp[1], &swp[2], &snap.Swap.PercentUsed,
			&net[0], &net[1], &net[2], &net[3], &net[4], &net[5], &net[6], &net[7],
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Timestamp = time.Unix(0, ts).UTC()
		if perCore != "" && perCore != "null" {
			if err := json.Unmarshal([]byte(perCore), &snap.CPU.PerCorePercent); err != nil {
				return nil, fmt.Errorf("decode per-core percentages: %w", err)
			}
		}
		snap.Memory.TotalBytes = uint64(mem[0])
		snap.Memory.UsedBytes = uint64(mem[1])
		snap.Memory.FreeBytes = uint64(mem[2])
		snap.Memory.AvailableBytes = uint64(mem[3])
		snap.Memory.BuffersBytes = uint64(mem[4])
		snap.Memory.CachedBytes = uint64(mem[5])
		snap.Swap.TotalBytes = uint64(swp[0])
		snap.Swap.UsedBytes = uint64(swp[1])
		snap.Swap.FreeBytes = uint64(swp[2])
		snap.Network.BytesSent = uint64(net[0])
		snap.Network.BytesRecv = uint64(net[1])
		snap.Network.PacketsSent = uint64(net[2])
		snap.Network.PacketsRecv = uint64(net[3])
		snap.Network.ErrorsIn = uint64(net[4])
		snap.Network.ErrorsOut = uint64(net[5])
		snap.Network.DropsIn = uint64(net[6])
		snap.Network.DropsOut = uint64(net[7])

		byID[id] = len(snaps)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	if len(snaps) == 0 {
		return nil, nil
	}

	if err := s.attachFilesystems(ctx, host, since, until, byID, snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

func (s *SQLiteStore) attachFilesystems(ctx context.Context, host string, since, until time.Time, byID map[int64]int, snaps []model.MetricSnapshot) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.snapshot_id, f.device, f.mount_point, f.fs_type,
			f.total_bytes, f.used_bytes, f.free_bytes, f.percent_used
		FROM filesystems f
		JOIN snapshots sn ON sn.id = f.snapshot_id
		WHERE (? = '' OR sn.hostname = ?) AND sn.ts >= ? AND sn.ts <= ?
		ORDER BY f.snapshot_id, f.mount_point`,
		host, host, since.UTC().UnixNano(), until.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("query filesystems: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id        int64
			fs        model.FilesystemMetrics
			sizes     [3]int64
		)
		if err := rows.Scan(&id, &fs.Device, &fs.MountPoint, &fs.FSType,
			&sizes[0], &sizes[1], &sizes[2], &fs.PercentUsed); err != nil {
			return fmt.Errorf("scan filesystem: %w", err)
		}
		fs.TotalBytes = uint64(sizes[0])
		fs.UsedBytes = uint64(sizes[1])
		fs.FreeBytes = uint64(sizes[2])
		if idx, ok := byID[id]; ok {
			snaps[idx].Disk.Filesystems = append(snaps[idx].Disk.Filesystems, fs)
		}
	}
	return rows.Err()
}

// Ping verifies the database file is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
