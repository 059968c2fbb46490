// Package alert evaluates snapshots against configured thresholds and
// dispatches deduplicated alert events to notification channels.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/hostwatch/hostwatch/model"
)

// Metric keys recognized in threshold configuration.
const (
	MetricCPU    = "cpu"
	MetricMemory = "memory"
	MetricDisk   = "disk"
	MetricSwap   = "swap"
)

// Thresholds maps a metric key to its firing threshold. Evaluation uses a
// closed lower bound: value >= threshold fires.
type Thresholds map[string]float64

// Config holds alert engine settings, loaded once at startup.
type Config struct {
	Thresholds     Thresholds
	Cooldown       time.Duration
	NotifyRecovery bool // emit an info event to channels on recovery
	QueueDepth     int  // evaluation queue bound (default 64)
}

// phase is the per-key state machine position. Firing is momentary: a key
// that fires immediately enters Cooldown.
type phase int

const (
	phaseNormal phase = iota
	phaseCooldown
)

// keyState tracks one alertable condition between evaluations.
type keyState struct {
	phase       phase
	lastFiredAt time.Time
	isActive    bool
}

// observation is one threshold-checkable value derived from a snapshot.
type observation struct {
	key   model.AlertKey
	value float64
	total uint64 // capacity for message formatting, 0 when not byte-based
	used  uint64
}

// Engine owns the per-key alert state table. All evaluation runs on the
// single goroutine inside Run, so two snapshots for the same key can never
// race; state is never shared outside the engine.
type Engine struct {
	cfg        Config
	dispatcher *Dispatcher
	logger     *slog.Logger
	now        func() time.Time
	states     map[model.AlertKey]*keyState
	queue      chan *model.MetricSnapshot
}

// NewEngine creates an alert engine dispatching through d (which may be
// empty for log-only operation).
func NewEngine(cfg Config, d *Dispatcher, logger *slog.Logger) *Engine {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Engine{
		cfg:        cfg,
		dispatcher: d,
		logger:     logger,
		now:        time.Now,
		states:     make(map[model.AlertKey]*keyState),
		queue:      make(chan *model.MetricSnapshot, cfg.QueueDepth),
	}
}

// Enqueue hands a snapshot to the evaluation goroutine without blocking.
// It returns false when the queue is full; the snapshot is then skipped for
// alerting (it is already persisted by the ingestion path).
func (e *Engine) Enqueue(snap *model.MetricSnapshot) bool {
	select {
	case e.queue <- snap:
		return true
	default:
		e.logger.Warn("alert queue full, skipping snapshot evaluation",
			"hostname", snap.Hostname, "timestamp", snap.Timestamp)
		return false
	}
}

// Run consumes the evaluation queue until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-e.queue:
			for _, ev := range e.Evaluate(snap) {
				if e.dispatcher != nil {
					go e.dispatcher.Dispatch(ctx, ev)
				}
			}
		}
	}
}

// Evaluate runs every configured threshold against the snapshot and returns
// the events that fired. Callers other than Run must not invoke it
// concurrently.
//
// Recovery uses the same threshold as firing: once the cooldown has elapsed,
// a value below the threshold returns the key to Normal. No separate
// hysteresis threshold is configurable.
func (e *Engine) Evaluate(snap *model.MetricSnapshot) []model.AlertEvent {
	var events []model.AlertEvent
	for _, obs := range e.observations(snap) {
		threshold, ok := e.cfg.Thresholds[obs.key.Metric]
		if !ok {
			continue
		}
		if ev, fired := e.step(obs, threshold); fired {
			events = append(events, ev)
		}
	}
	return events
}

// step advances one key's state machine for a new observation.
func (e *Engine) step(obs observation, threshold float64) (model.AlertEvent, bool) {
	st, ok := e.states[obs.key]
	if !ok {
		st = &keyState{}
		e.states[obs.key] = st
	}
	now := e.now()
	breached := obs.value >= threshold
	cooldownOver := st.phase == phaseCooldown && now.Sub(st.lastFiredAt) >= e.cfg.Cooldown

	switch {
	case breached && st.phase == phaseNormal,
		breached && cooldownOver:
		// Normal→Firing, or Cooldown→Firing on re-breach after cooldown.
		st.phase = phaseCooldown
		st.lastFiredAt = now
		st.isActive = true
		ev := e.newEvent(obs, threshold, now)
		e.logger.Warn("alert fired",
			"key", obs.key.String(), "severity", ev.Severity.String(),
			"value", obs.value, "threshold", threshold)
		return ev, true

	case breached:
		// Still in cooldown: suppressed, key stays active.
		e.logger.Debug("breach suppressed by cooldown",
			"key", obs.key.String(), "value", obs.value)
		return model.AlertEvent{}, false

	case st.isActive && cooldownOver:
		// Cooldown→Normal: recovered.
		st.phase = phaseNormal
		st.isActive = false
		e.logger.Info("alert recovered",
			"key", obs.key.String(), "value", obs.value, "threshold", threshold)
		if e.cfg.NotifyRecovery {
			ev := model.AlertEvent{
				ID:        uuid.NewString(),
				Key:       obs.key,
				Severity:  model.SeverityInfo,
				Value:     obs.value,
				Threshold: threshold,
				FiredAt:   now,
				Message:   fmt.Sprintf("%s recovered: %.1f%% below threshold %.1f%%", obs.key.String(), obs.value, threshold),
			}
			return ev, true
		}
		return model.AlertEvent{}, false

	default:
		return model.AlertEvent{}, false
	}
}

func (e *Engine) newEvent(obs observation, threshold float64, now time.Time) model.AlertEvent {
	msg := fmt.Sprintf("%s usage %.1f%% >= threshold %.1f%%", obs.key.String(), obs.value, threshold)
	if obs.total > 0 {
		msg += fmt.Sprintf(" (%s of %s used)", humanize.IBytes(obs.used), humanize.IBytes(obs.total))
	}
	return model.AlertEvent{
		ID:        uuid.NewString(),
		Key:       obs.key,
		Severity:  severityFor(obs.value, threshold),
		Value:     obs.value,
		Threshold: threshold,
		FiredAt:   now,
		Message:   msg,
	}
}

// severityFor grades a breach by how far it overshoots the threshold.
func severityFor(value, threshold float64) model.Severity {
	switch {
	case value >= threshold+20:
		return model.SeverityCritical
	case value >= threshold+10:
		return model.SeverityError
	default:
		return model.SeverityWarning
	}
}

// observations derives the threshold-checkable values from a snapshot.
// Disk is checked per filesystem, with the mount point as sub-resource.
func (e *Engine) observations(snap *model.MetricSnapshot) []observation {
	obs := []observation{
		{
			key:   model.AlertKey{Hostname: snap.Hostname, Metric: MetricCPU},
			value: snap.CPU.OverallPercent,
		},
		{
			key:   model.AlertKey{Hostname: snap.Hostname, Metric: MetricMemory},
			value: snap.Memory.PercentUsed,
			total: snap.Memory.TotalBytes,
			used:  snap.Memory.UsedBytes,
		},
		{
			key:   model.AlertKey{Hostname: snap.Hostname, Metric: MetricSwap},
			value: snap.Swap.PercentUsed,
			total: snap.Swap.TotalBytes,
			used:  snap.Swap.UsedBytes,
		},
	}
	for _, fs := range snap.Disk.Filesystems {
		obs = append(obs, observation{
			key:   model.AlertKey{Hostname: snap.Hostname, Metric: MetricDisk, Resource: fs.MountPoint},
			value: fs.PercentUsed,
			total: fs.TotalBytes,
			used:  fs.UsedBytes,
		})
	}
	return obs
}
