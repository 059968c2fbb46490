package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteStoreContract(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()
	runStoreContract(t, s)
}

func TestSQLiteConcurrentWriters(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	const perHost = 10

	errc := make(chan error, 2)
	for _, host := range []string{"h1", "h2"} {
		host := host
		go func() {
			for i := 0; i < perHost; i++ {
				snap := sampleSnapshot(host, base.Add(time.Duration(i)*time.Minute), float64(i))
				if err := s.Write(ctx, &snap); err != nil {
					errc <- err
					return
				}
			}
			errc <- nil
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil {
			t.Fatalf("concurrent write: %v", err)
		}
	}

	all, err := s.Query(ctx, "", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 2*perHost {
		t.Fatalf("stored %d snapshots, want %d", len(all), 2*perHost)
	}
	for _, snap := range all {
		// Each snapshot must be complete: no torn writes.
		if len(snap.Disk.Filesystems) != 2 {
			t.Fatalf("snapshot %s@%v has %d filesystems, want 2",
				snap.Hostname, snap.Timestamp, len(snap.Disk.Filesystems))
		}
	}
}

func TestSQLiteOpenEndedQuery(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	snap := sampleSnapshot("h1", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), 10)
	if err := s.Write(ctx, &snap); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Zero bounds mean an unbounded window; the snapshot must be visible.
	got, err := s.Query(ctx, "h1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("open-ended query returned %d snapshots, want 1", len(got))
	}

	// Open upper bound with an explicit lower bound.
	got, err = s.Query(ctx, "h1", snap.Timestamp.Add(-time.Minute), time.Time{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("open-until query returned %d snapshots, want 1", len(got))
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "etcd"})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
