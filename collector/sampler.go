package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/hostwatch/hostwatch/model"
)

// Sink accepts completed snapshots for delivery. Offer must not block:
// the sampling cadence is wall-clock driven and must not be delayed by a
// slow or retrying delivery.
type Sink interface {
	Offer(snap *model.MetricSnapshot)
}

// Sampler produces one MetricSnapshot per interval tick and hands it to the
// sink. Partial collection failures are logged and leave gaps; they never
// abort a snapshot.
type Sampler struct {
	hostname string
	registry *Registry
	sink     Sink
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSampler creates a sampler for the given host identity and interval.
func NewSampler(hostname string, reg *Registry, sink Sink, interval time.Duration, logger *slog.Logger) *Sampler {
	return &Sampler{
		hostname: hostname,
		registry: reg,
		sink:     sink,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run samples once immediately, then on every tick until ctx is canceled.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sink.Offer(s.Sample())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sink.Offer(s.Sample())
		}
	}
}

// Sample runs all collectors and returns the snapshot. Sub-metric failures
// are recorded as structured log entries.
func (s *Sampler) Sample() *model.MetricSnapshot {
	snap := &model.MetricSnapshot{
		Hostname:  s.hostname,
		Timestamp: s.now().UTC(),
	}
	for _, err := range s.registry.CollectAll(snap) {
		s.logger.Warn("partial collection failure", "error", err)
	}
	return snap
}
