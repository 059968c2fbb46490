// Package client delivers metric snapshots to the ingestion endpoint with
// bounded retry, exponential backoff, and jitter.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/hostwatch/hostwatch/model"
)

// ErrAttemptsExhausted is returned when every delivery attempt failed.
var ErrAttemptsExhausted = errors.New("delivery attempts exhausted")

// Config holds transmission client settings.
type Config struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int           // total attempts per snapshot
	BaseDelay  time.Duration // first backoff delay, doubled per attempt
	MaxDelay   time.Duration // backoff cap
}

// DeliveryResult reports the outcome of one snapshot delivery.
type DeliveryResult struct {
	Attempts int
	Rejected bool   // endpoint rejected the snapshot (4xx); not retried
	Reason   string // rejection reason, if any
	Err      error
}

// deliveryState drives the retry loop.
type deliveryState int

const (
	stateAttempting deliveryState = iota
	stateBackoff
	stateSucceeded
	stateRejected
	stateExhausted
)

// Client posts snapshots to the ingest endpoint. Safe for use by a single
// delivery goroutine; the pipeline keeps at most one delivery in flight.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	rng    *rand.Rand
}

// New creates a transmission client. Zero config fields get defaults:
// 3 attempts, 1s base delay, 30s cap, 10s request timeout.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ingestRequest is the wire body for POST /ingest.
type ingestRequest struct {
	Hostname string                `json:"hostname"`
	Metrics  *model.MetricSnapshot `json:"metrics"`
}

type ingestResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Deliver attempts to deliver one snapshot, retrying transient failures with
// exponential backoff until the attempt budget is spent. A 4xx rejection is
// permanent and not retried. Cancellation interrupts a pending backoff sleep.
func (c *Client) Deliver(ctx context.Context, snap *model.MetricSnapshot) DeliveryResult {
	res := DeliveryResult{}
	backoff := c.cfg.BaseDelay
	var lastErr error

	state := stateAttempting
	for {
		switch state {
		case stateAttempting:
			res.Attempts++
			reason, err := c.attempt(ctx, snap)
			switch {
			case err == nil && reason == "":
				state = stateSucceeded
			case err == nil:
				res.Reason = reason
				state = stateRejected
			case res.Attempts >= c.cfg.MaxRetries || ctx.Err() != nil:
				lastErr = err
				state = stateExhausted
			default:
				lastErr = err
				c.logger.Warn("delivery attempt failed, backing off",
					"attempt", res.Attempts, "backoff", backoff, "error", err)
				state = stateBackoff
			}

		case stateBackoff:
			if !c.sleep(ctx, c.jitter(backoff)) {
				lastErr = ctx.Err()
				state = stateExhausted
				continue
			}
			backoff *= 2
			if backoff > c.cfg.MaxDelay {
				backoff = c.cfg.MaxDelay
			}
			state = stateAttempting

		case stateSucceeded:
			return res

		case stateRejected:
			res.Rejected = true
			res.Err = fmt.Errorf("snapshot rejected: %s", res.Reason)
			return res

		case stateExhausted:
			res.Err = fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, res.Attempts, lastErr)
			return res
		}
	}
}

// attempt performs one ingest call. It returns ("", nil) on acceptance,
// (reason, nil) on a permanent 4xx rejection, and a non-nil error on
// transient failure (connection error, timeout, 5xx).
func (c *Client) attempt(ctx context.Context, snap *model.MetricSnapshot) (string, error) {
	body, err := json.Marshal(ingestRequest{Hostname: snap.Hostname, Metrics: snap})
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", c.cfg.URL, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return "", nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var ir ingestResponse
		if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil || ir.Reason == "" {
			ir.Reason = resp.Status
		}
		return ir.Reason, nil
	default:
		return "", fmt.Errorf("endpoint returned %s", resp.Status)
	}
}

// jitter randomizes a delay by ±20% to avoid thundering-herd retries across
// many collectors.
func (c *Client) jitter(d time.Duration) time.Duration {
	factor := 0.8 + 0.4*c.rng.Float64()
	return time.Duration(float64(d) * factor)
}

// sleep waits for d or until ctx is canceled. Returns false on cancellation.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
