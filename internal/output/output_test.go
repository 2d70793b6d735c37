package output

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-rodalies-3d/segmenter/internal/segment"
	"github.com/mini-rodalies-3d/segmenter/internal/telemetry"
	"github.com/mini-rodalies-3d/segmenter/internal/trip"
)

// gridLocator maps a fix to segment int(lon) of a street named by latitude
type gridLocator struct{}

func (gridLocator) Locate(_ context.Context, lat, lon float64) (segment.Match, error) {
	name := "Carrer_A"
	if lat > 0 {
		name = "Carrer_B"
	}
	return segment.Match{StreetName: name, Index: int(lon), LengthKm: 0.05}, nil
}

type listSource struct {
	fixes []telemetry.Fix
	pos   int
}

func (s *listSource) Next() (telemetry.Fix, error) {
	if s.pos >= len(s.fixes) {
		return telemetry.Fix{}, io.EOF
	}
	s.pos++
	return s.fixes[s.pos-1], nil
}

func sampleFixes() []telemetry.Fix {
	return []telemetry.Fix{
		{Row: 2, Timestamp: "08:00", Latitude: -1, Longitude: 0, Passenger: false},
		{Row: 3, Timestamp: "08:01", Latitude: -1, Longitude: 1, Passenger: true},
		{Row: 4, Timestamp: "08:02", Latitude: -1, Longitude: 2, Passenger: true},
		{Row: 5, Timestamp: "08:03", Latitude: 1, Longitude: 2, Passenger: true},
		{Row: 6, Timestamp: "08:04", Latitude: 1, Longitude: 2, Passenger: false},
		{Row: 7, Timestamp: "08:05", Latitude: -1, Longitude: 1, Passenger: true},
		{Row: 8, Timestamp: "08:06", Latitude: -1, Longitude: 1, Passenger: false},
	}
}

func runToFile(t *testing.T, path string) {
	t.Helper()
	sink, err := NewFileSink(path)
	require.NoError(t, err)
	defer sink.Close()

	logger, _ := test.NewNullLogger()
	seg := trip.New(gridLocator{}, trip.Options{Logger: logger}, sink)
	_, err = seg.Run(context.Background(), &listSource{fixes: sampleFixes()})
	require.NoError(t, err)
}

func TestFileSinkRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segments.txt")
	runToFile(t, path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)

	want := "1_Carrer_A\n2_Carrer_A\n2_Carrer_B\n3,1_Carrer_A,2_Carrer_A,2_Carrer_B\n\n" +
		"1_Carrer_A\n1,1_Carrer_A\n\n"
	assert.Equal(t, want, string(got))
}

func TestFileSinkIdempotent(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.txt")
	second := filepath.Join(dir, "second.txt")
	runToFile(t, first)
	runToFile(t, second)

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segments.txt")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0o644))

	sink, err := NewFileSink(path)
	require.NoError(t, err)
	iv := trip.Interval{Seq: 1, Segments: []segment.Match{{StreetName: "X", Index: 0}}}
	require.NoError(t, sink.WriteInterval(context.Background(), iv))
	require.NoError(t, sink.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing\n0_X\n1,0_X\n\n", string(got))
}

func TestNewFileSinkBadPath(t *testing.T) {
	_, err := NewFileSink(filepath.Join(t.TempDir(), "missing", "segments.txt"))
	assert.Error(t, err)
}

func TestConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsoleSink(&buf)

	logger, _ := test.NewNullLogger()
	seg := trip.New(gridLocator{}, trip.Options{Logger: logger, OnFirstSeen: console.SegmentFound}, console)
	_, err := seg.Run(context.Background(), &listSource{fixes: sampleFixes()})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Segment found: Carrer_A[1]\n")
	assert.Contains(t, out, "Segment found: Carrer_B[2]\n")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("Segment found: Carrer_A[1]")))
	assert.Contains(t, out, "3,1_Carrer_A,2_Carrer_A,2_Carrer_B\n")
	assert.Contains(t, out, "Number of segments with a passenger: 3\n")
	assert.Contains(t, out, "Total number of segments: 4\n")
	assert.NotContains(t, out, "Dropped open interval")
}

func TestConsoleSinkDroppedTrailing(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsoleSink(&buf)
	require.NoError(t, console.WriteSummary(context.Background(), trip.Summary{DroppedTrailing: true, DroppedPending: 2}))
	assert.Contains(t, buf.String(), "(2 segments pending)")
}
