package db

import (
	"context"
	"fmt"
	"time"
)

// Cleanup deletes runs started before the retention window, with their
// intervals and segments. A zero retention keeps everything.
func (db *DB) Cleanup(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	queries := []struct {
		name  string
		query string
	}{
		{
			name:  "interval_segments",
			query: "DELETE FROM interval_segments WHERE run_id IN (SELECT run_id FROM runs WHERE started_at_utc < ?)",
		},
		{
			name:  "intervals",
			query: "DELETE FROM intervals WHERE run_id IN (SELECT run_id FROM runs WHERE started_at_utc < ?)",
		},
		{
			name:  "runs",
			query: "DELETE FROM runs WHERE started_at_utc < ?",
		},
	}

	totalDeleted := 0
	for _, q := range queries {
		result, err := db.conn.ExecContext(ctx, q.query, cutoff)
		if err != nil {
			return fmt.Errorf("failed to cleanup %s: %w", q.name, err)
		}
		rows, _ := result.RowsAffected()
		totalDeleted += int(rows)
	}

	if totalDeleted > 0 {
		db.logger.Infof("Cleanup: deleted %d records older than %v", totalDeleted, retention)
	}
	return nil
}
