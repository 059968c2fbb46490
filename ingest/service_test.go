package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hostwatch/hostwatch/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory Store for handler and service tests.
type memStore struct {
	mu       sync.Mutex
	snaps    []model.MetricSnapshot
	writeErr error
	pingErr  error
}

func (m *memStore) Write(ctx context.Context, snap *model.MetricSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	for _, s := range m.snaps {
		if s.Hostname == snap.Hostname && s.Timestamp.Equal(snap.Timestamp) {
			return nil
		}
	}
	m.snaps = append(m.snaps, *snap)
	return nil
}

func (m *memStore) Query(ctx context.Context, host string, since, until time.Time) ([]model.MetricSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return nil, m.writeErr
	}
	var out []model.MetricSnapshot
	for _, s := range m.snaps {
		if host != "" && s.Hostname != host {
			continue
		}
		if !since.IsZero() && s.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && s.Timestamp.After(until) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) Ping(ctx context.Context) error { return m.pingErr }
func (m *memStore) Close() error                   { return nil }

type recordingEvaluator struct {
	accept bool
	seen   []string
}

func (r *recordingEvaluator) Enqueue(snap *model.MetricSnapshot) bool {
	r.seen = append(r.seen, snap.Hostname)
	return r.accept
}

func validSnapshot(host string, ts time.Time) *model.MetricSnapshot {
	return &model.MetricSnapshot{
		Hostname:  host,
		Timestamp: ts,
		CPU:       model.CPUMetrics{OverallPercent: 42.5, CoreCount: 4},
		Memory: model.MemoryMetrics{
			TotalBytes: 8 << 30, UsedBytes: 4 << 30, FreeBytes: 4 << 30, PercentUsed: 50,
		},
	}
}

func TestIngestAcceptsAndStores(t *testing.T) {
	store := &memStore{}
	eval := &recordingEvaluator{accept: true}
	svc := NewService(store, eval, discardLogger())

	snap := validSnapshot("h1", time.Now().UTC())
	if err := svc.Ingest(context.Background(), snap); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(store.snaps) != 1 {
		t.Errorf("stored %d snapshots, want 1", len(store.snaps))
	}
	if len(eval.seen) != 1 || eval.seen[0] != "h1" {
		t.Errorf("evaluator saw %v", eval.seen)
	}
}

func TestIngestRejectsInvalid(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, nil, discardLogger())

	snap := validSnapshot("", time.Now().UTC())
	err := svc.Ingest(context.Background(), snap)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(store.snaps) != 0 {
		t.Error("invalid snapshot reached storage")
	}
}

func TestIngestSurfacesStorageFailure(t *testing.T) {
	store := &memStore{writeErr: errors.New("disk full")}
	svc := NewService(store, nil, discardLogger())

	err := svc.Ingest(context.Background(), validSnapshot("h1", time.Now().UTC()))
	if err == nil {
		t.Fatal("storage failure was silently acknowledged")
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		t.Error("storage failure misreported as validation error")
	}
}

func TestIngestContinuesWhenEvaluatorFull(t *testing.T) {
	store := &memStore{}
	eval := &recordingEvaluator{accept: false}
	svc := NewService(store, eval, discardLogger())

	if err := svc.Ingest(context.Background(), validSnapshot("h1", time.Now().UTC())); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(store.snaps) != 1 {
		t.Error("full evaluator queue blocked storage write")
	}
}
