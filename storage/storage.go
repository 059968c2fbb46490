// Package storage provides durable snapshot persistence behind a capability
// interface with interchangeable backends.
package storage

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hostwatch/hostwatch/model"
)

// Store is the capability interface every backend satisfies. Writes are
// append-only and atomic per snapshot; Query returns records ordered by
// timestamp ascending. Duplicate writes for the same (hostname, timestamp)
// are deduplicated, which makes retried deliveries idempotent.
type Store interface {
	Write(ctx context.Context, snap *model.MetricSnapshot) error
	Query(ctx context.Context, host string, since, until time.Time) ([]model.MetricSnapshot, error)
	Ping(ctx context.Context) error
	Close() error
}

// Backend identifiers accepted by Open.
const (
	BackendSQLite    = "sqlite"
	BackendTimescale = "timescale"
)

// Options selects and parameterizes a backend.
type Options struct {
	Backend      string
	SQLitePath   string
	TimescaleDSN string
}

// Open creates the configured backend and verifies it is reachable.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch opts.Backend {
	case BackendSQLite:
		s, err = OpenSQLite(opts.SQLitePath)
	case BackendTimescale:
		s, err = OpenTimescale(ctx, opts.TimescaleDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("storage backend %s unreachable: %w", opts.Backend, err)
	}
	return s, nil
}

// queryRange fills open-ended bounds so backends can use plain BETWEEN
// filters. The upper sentinel must stay representable as int64 nanoseconds
// (year 2262) so backends storing UnixNano timestamps do not overflow.
func queryRange(since, until time.Time) (time.Time, time.Time) {
	if since.IsZero() {
		since = time.Unix(0, 0)
	}
	if until.IsZero() {
		until = time.Unix(0, math.MaxInt64)
	}
	return since, until
}
