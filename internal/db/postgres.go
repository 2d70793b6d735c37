package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/mini-rodalies-3d/segmenter/internal/trip"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// PostgresStore writes run output to PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logrus.FieldLogger
}

// NewPostgresStore connects to databaseURL
func NewPostgresStore(ctx context.Context, databaseURL string, logger logrus.FieldLogger) (*PostgresStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to PostgreSQL database")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// EnsureSchema creates tables if they don't exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) BeginRun(ctx context.Context, runID, inputPath string, startedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO runs (run_id, input_path, started_at_utc) VALUES ($1, $2, $3)",
		runID, inputPath, startedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) WriteInterval(ctx context.Context, iv trip.Interval) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO intervals (
			run_id, seq, start_row, end_row, start_ts, end_ts, segment_count, trailing
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		iv.RunID, iv.Seq, iv.StartRow, iv.EndRow, iv.Start, iv.End, len(iv.Segments), iv.Trailing,
	)
	for i, m := range iv.Segments {
		batch.Queue(`
			INSERT INTO interval_segments (
				run_id, seq, position, street_id, street_name, segment_index, length_km, token
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			iv.RunID, iv.Seq, i, m.StreetID, m.StreetName, m.Index, m.LengthKm, m.Key().Token(),
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert interval %d: %w", iv.Seq, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit interval %d: %w", iv.Seq, err)
	}
	return nil
}

func (s *PostgresStore) WriteSummary(ctx context.Context, sum trip.Summary) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET
			finished_at_utc = $1,
			fixes_read = $2,
			malformed = $3,
			unresolved = $4,
			intervals_closed = $5,
			segment_open_events = $6,
			distinct_segments = $7,
			dropped_trailing = $8,
			interrupted = $9,
			length_mean_km = $10,
			length_stddev_km = $11
		WHERE run_id = $12`,
		sum.FinishedAt.UTC(),
		sum.FixesRead, sum.Malformed, sum.Unresolved, sum.IntervalsClosed,
		sum.SegmentOpenEvents, sum.DistinctSegments,
		sum.DroppedTrailing, sum.Interrupted,
		sum.LengthMeanKm, sum.LengthStdDevKm,
		sum.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", sum.RunID)
	}
	return nil
}

// Cleanup deletes runs started before the retention window. Intervals and
// segments go with them through ON DELETE CASCADE.
func (s *PostgresStore) Cleanup(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		"DELETE FROM runs WHERE started_at_utc < $1",
		time.Now().UTC().Add(-retention),
	)
	if err != nil {
		return fmt.Errorf("failed to cleanup runs: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Infof("Cleanup: deleted %d runs older than %v", n, retention)
	}
	return nil
}
