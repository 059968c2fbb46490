package client

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/hostwatch/hostwatch/model"
)

// handoffDepth bounds the sampler-to-delivery queue. With drop-oldest
// overflow, the queue always holds the latest known state rather than an
// unbounded backlog.
const handoffDepth = 2

// Runner connects the sampler to the transmission client: it owns the
// bounded handoff queue and keeps exactly one delivery in flight.
type Runner struct {
	client  *Client
	queue   chan *model.MetricSnapshot
	logger  *slog.Logger
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewRunner creates a delivery runner around the given client.
func NewRunner(c *Client, logger *slog.Logger) *Runner {
	return &Runner{
		client: c,
		queue:  make(chan *model.MetricSnapshot, handoffDepth),
		logger: logger,
	}
}

// Offer enqueues a snapshot without blocking. When the queue is full the
// oldest queued snapshot is dropped so the newest always gets a slot.
func (r *Runner) Offer(snap *model.MetricSnapshot) {
	for {
		select {
		case r.queue <- snap:
			return
		default:
		}
		select {
		case old := <-r.queue:
			r.dropped.Add(1)
			r.logger.Warn("delivery queue full, dropping oldest snapshot",
				"dropped_timestamp", old.Timestamp, "dropped_total", r.dropped.Load())
		default:
		}
	}
}

// Run consumes the queue until ctx is canceled, delivering one snapshot at a
// time. Exhausted deliveries drop the snapshot, bump the failure counter,
// and the runner moves on to the next snapshot.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-r.queue:
			res := r.client.Deliver(ctx, snap)
			switch {
			case res.Err == nil:
				r.logger.Debug("snapshot delivered",
					"timestamp", snap.Timestamp, "attempts", res.Attempts)
			case res.Rejected:
				r.failed.Add(1)
				r.logger.Error("snapshot rejected by endpoint",
					"timestamp", snap.Timestamp, "reason", res.Reason)
			default:
				r.failed.Add(1)
				r.logger.Error("snapshot dropped after delivery failure",
					"timestamp", snap.Timestamp, "attempts", res.Attempts,
					"failed_total", r.failed.Load(), "error", res.Err)
			}
		}
	}
}

// Dropped returns how many snapshots were displaced from the handoff queue.
func (r *Runner) Dropped() uint64 { return r.dropped.Load() }

// Failed returns how many snapshots were dropped after delivery failure.
func (r *Runner) Failed() uint64 { return r.failed.Load() }
