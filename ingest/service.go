// Package ingest accepts metric snapshots over HTTP, validates them, routes
// them to alert evaluation, and persists them.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hostwatch/hostwatch/model"
	"github.com/hostwatch/hostwatch/storage"
)

// ValidationError marks a snapshot the service refuses to accept. The HTTP
// layer maps it to a 400 with the reason in the response body.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid snapshot: " + e.Reason
}

// Evaluator receives accepted snapshots for alert evaluation. Enqueue must
// not block; it reports whether the snapshot was taken.
type Evaluator interface {
	Enqueue(snap *model.MetricSnapshot) bool
}

// Service validates incoming snapshots, hands them to the alert evaluator,
// and writes them to storage. The write is synchronous: a storage failure is
// reported to the sender rather than acknowledged and lost.
type Service struct {
	store     storage.Store
	evaluator Evaluator
	logger    *slog.Logger
}

// NewService creates an ingestion service. evaluator may be nil when alerting
// is not configured.
func NewService(store storage.Store, evaluator Evaluator, logger *slog.Logger) *Service {
	return &Service{store: store, evaluator: evaluator, logger: logger}
}

// Ingest processes one snapshot. A *ValidationError means the snapshot was
// rejected; any other error means storage failed and the caller should retry.
func (s *Service) Ingest(ctx context.Context, snap *model.MetricSnapshot) error {
	if err := snap.Validate(); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	// Alert evaluation is best-effort and must not delay or fail ingestion.
	if s.evaluator != nil && !s.evaluator.Enqueue(snap) {
		s.logger.Warn("alert evaluation queue full, snapshot not evaluated",
			"hostname", snap.Hostname, "ts", snap.Timestamp)
	}

	if err := s.store.Write(ctx, snap); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	s.logger.Debug("snapshot ingested", "hostname", snap.Hostname, "ts", snap.Timestamp)
	return nil
}
