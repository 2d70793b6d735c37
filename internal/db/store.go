// Package db persists run output to SQLite or PostgreSQL.
package db

import (
	"context"
	"time"

	"github.com/mini-rodalies-3d/segmenter/internal/trip"
)

// Store is an SQL sink for a segmenter run
type Store interface {
	trip.Sink
	BeginRun(ctx context.Context, runID, inputPath string, startedAt time.Time) error
	Cleanup(ctx context.Context, retention time.Duration) error
	Close() error
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*PostgresStore)(nil)
)

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
