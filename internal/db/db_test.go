package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-rodalies-3d/segmenter/internal/segment"
	"github.com/mini-rodalies-3d/segmenter/internal/trip"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	logger, _ := test.NewNullLogger()
	db, err := Connect(filepath.Join(t.TempDir(), "segments.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))
	return db
}

func sampleInterval(runID string, seq int) trip.Interval {
	return trip.Interval{
		RunID:    runID,
		Seq:      seq,
		StartRow: 3,
		EndRow:   6,
		Start:    "2023-10-01 08:00:10",
		End:      "2023-10-01 08:00:40",
		Segments: []segment.Match{
			{StreetID: 101, StreetName: "Carrer_de_Mallorca", Index: 4, LengthKm: 0.08},
			{StreetID: 101, StreetName: "Carrer_de_Mallorca", Index: 5, LengthKm: 0.07},
		},
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.EnsureSchema(context.Background()))
}

func TestWriteRun(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	runID := uuid.New().String()

	require.NoError(t, db.BeginRun(ctx, runID, "route.csv", time.Now()))
	require.NoError(t, db.WriteInterval(ctx, sampleInterval(runID, 1)))
	require.NoError(t, db.WriteSummary(ctx, trip.Summary{
		RunID:             runID,
		FinishedAt:        time.Now(),
		FixesRead:         10,
		IntervalsClosed:   1,
		SegmentOpenEvents: 2,
		DistinctSegments:  2,
		LengthMeanKm:      0.075,
	}))

	var segmentCount int
	require.NoError(t, db.Conn().QueryRow(
		"SELECT segment_count FROM intervals WHERE run_id = ? AND seq = 1", runID,
	).Scan(&segmentCount))
	assert.Equal(t, 2, segmentCount)

	rows, err := db.Conn().Query(
		"SELECT token FROM interval_segments WHERE run_id = ? ORDER BY position", runID)
	require.NoError(t, err)
	defer rows.Close()
	var tokens []string
	for rows.Next() {
		var tok string
		require.NoError(t, rows.Scan(&tok))
		tokens = append(tokens, tok)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"4_Carrer_de_Mallorca", "5_Carrer_de_Mallorca"}, tokens)

	var fixes, distinct int
	var finished string
	require.NoError(t, db.Conn().QueryRow(
		"SELECT fixes_read, distinct_segments, finished_at_utc FROM runs WHERE run_id = ?", runID,
	).Scan(&fixes, &distinct, &finished))
	assert.Equal(t, 10, fixes)
	assert.Equal(t, 2, distinct)
	assert.NotEmpty(t, finished)
}

func TestWriteIntervalRequiresRun(t *testing.T) {
	db := openTestDB(t)
	err := db.WriteInterval(context.Background(), sampleInterval("missing", 1))
	assert.Error(t, err)
}

func TestWriteSummaryUnknownRun(t *testing.T) {
	db := openTestDB(t)
	err := db.WriteSummary(context.Background(), trip.Summary{RunID: "missing"})
	assert.Error(t, err)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	oldRun, newRun := uuid.New().String(), uuid.New().String()
	require.NoError(t, db.BeginRun(ctx, oldRun, "old.csv", time.Now().Add(-10*24*time.Hour)))
	require.NoError(t, db.BeginRun(ctx, newRun, "new.csv", time.Now()))
	require.NoError(t, db.WriteInterval(ctx, sampleInterval(oldRun, 1)))
	require.NoError(t, db.WriteInterval(ctx, sampleInterval(newRun, 1)))

	require.NoError(t, db.Cleanup(ctx, 0), "zero retention is a no-op")
	assert.Equal(t, 2, count(t, db, "runs"))

	require.NoError(t, db.Cleanup(ctx, 7*24*time.Hour))
	assert.Equal(t, 1, count(t, db, "runs"))
	assert.Equal(t, 1, count(t, db, "intervals"))
	assert.Equal(t, 2, count(t, db, "interval_segments"))
}

func count(t *testing.T, db *DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestSegmenterWritesToSQLite(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	logger, _ := test.NewNullLogger()

	seg := trip.New(fixedLocator{}, trip.Options{Logger: logger}, db)
	require.NoError(t, db.BeginRun(ctx, seg.RunID(), "inline", time.Now()))
	seg.Process(ctx, fix(2, true))
	seg.Process(ctx, fix(3, false))
	seg.Finish(ctx)

	assert.Equal(t, 1, count(t, db, "intervals"))
	assert.Equal(t, 1, count(t, db, "interval_segments"))
}

// Postgres tests need a live server
func TestPostgresStore(t *testing.T) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set, skipping PostgreSQL test")
	}

	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	store, err := NewPostgresStore(ctx, databaseURL, logger)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.EnsureSchema(ctx))

	runID := uuid.New().String()
	require.NoError(t, store.BeginRun(ctx, runID, "route.csv", time.Now()))
	require.NoError(t, store.WriteInterval(ctx, sampleInterval(runID, 1)))
	require.NoError(t, store.WriteSummary(ctx, trip.Summary{RunID: runID, FinishedAt: time.Now(), IntervalsClosed: 1}))

	var n int
	require.NoError(t, store.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM interval_segments WHERE run_id = $1", runID).Scan(&n))
	assert.Equal(t, 2, n)

	_, err = store.pool.Exec(ctx, "DELETE FROM runs WHERE run_id = $1", runID)
	require.NoError(t, err)
}
