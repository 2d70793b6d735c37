package db

import (
	"context"
	"fmt"
	"time"

	"github.com/mini-rodalies-3d/segmenter/internal/trip"
)

// BeginRun records the start of a run. Intervals of the run reference it.
func (db *DB) BeginRun(ctx context.Context, runID, inputPath string, startedAt time.Time) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO runs (run_id, input_path, started_at_utc) VALUES (?, ?, ?)",
		runID, inputPath, startedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// WriteInterval stores a closed interval and its segments in one transaction
func (db *DB) WriteInterval(ctx context.Context, iv trip.Interval) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO intervals (
			run_id, seq, start_row, end_row, start_ts, end_ts, segment_count, trailing
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		iv.RunID, iv.Seq, iv.StartRow, iv.EndRow, iv.Start, iv.End, len(iv.Segments), boolInt(iv.Trailing),
	)
	if err != nil {
		return fmt.Errorf("failed to insert interval %d: %w", iv.Seq, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO interval_segments (
			run_id, seq, position, street_id, street_name, segment_index, length_km, token
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare segment insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range iv.Segments {
		_, err := stmt.ExecContext(ctx,
			iv.RunID, iv.Seq, i, m.StreetID, m.StreetName, m.Index, m.LengthKm, m.Key().Token(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert segment %d of interval %d: %w", i, iv.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit interval %d: %w", iv.Seq, err)
	}
	return nil
}

// WriteSummary stores the final counters of the run
func (db *DB) WriteSummary(ctx context.Context, s trip.Summary) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	result, err := db.conn.ExecContext(ctx, `
		UPDATE runs SET
			finished_at_utc = ?,
			fixes_read = ?,
			malformed = ?,
			unresolved = ?,
			intervals_closed = ?,
			segment_open_events = ?,
			distinct_segments = ?,
			dropped_trailing = ?,
			interrupted = ?,
			length_mean_km = ?,
			length_stddev_km = ?
		WHERE run_id = ?`,
		s.FinishedAt.UTC().Format(time.RFC3339),
		s.FixesRead, s.Malformed, s.Unresolved, s.IntervalsClosed,
		s.SegmentOpenEvents, s.DistinctSegments,
		boolInt(s.DroppedTrailing), boolInt(s.Interrupted),
		s.LengthMeanKm, s.LengthStdDevKm,
		s.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("run %s not found", s.RunID)
	}
	return nil
}
