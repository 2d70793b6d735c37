package trip

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-rodalies-3d/segmenter/internal/segment"
	"github.com/mini-rodalies-3d/segmenter/internal/street"
	"github.com/mini-rodalies-3d/segmenter/internal/telemetry"
)

// stubLocator resolves fixes by longitude: lon n maps to segment n of "Main_St".
// Negative longitudes fail with ErrNoStreetFound.
type stubLocator struct {
	calls int
}

func (l *stubLocator) Locate(_ context.Context, _, lon float64) (segment.Match, error) {
	l.calls++
	if lon < 0 {
		return segment.Match{}, street.ErrNoStreetFound
	}
	return segment.Match{StreetID: 1, StreetName: "Main_St", Index: int(lon), LengthKm: 0.1 * (lon + 1)}, nil
}

type memorySink struct {
	intervals []Interval
	summaries []Summary
}

func (m *memorySink) WriteInterval(_ context.Context, iv Interval) error {
	m.intervals = append(m.intervals, iv)
	return nil
}

func (m *memorySink) WriteSummary(_ context.Context, s Summary) error {
	m.summaries = append(m.summaries, s)
	return nil
}

type failingSink struct{}

func (failingSink) WriteInterval(context.Context, Interval) error { return errors.New("disk full") }
func (failingSink) WriteSummary(context.Context, Summary) error   { return errors.New("disk full") }

// sliceSource yields Fix values and errors in order
type sliceSource struct {
	items []any
	pos   int
}

func (s *sliceSource) Next() (telemetry.Fix, error) {
	if s.pos >= len(s.items) {
		return telemetry.Fix{}, io.EOF
	}
	item := s.items[s.pos]
	s.pos++
	if err, ok := item.(error); ok {
		return telemetry.Fix{}, err
	}
	return item.(telemetry.Fix), nil
}

// fixes builds a source from passenger flags and longitudes
func fixes(flags []int, lons []float64) *sliceSource {
	src := &sliceSource{}
	for i, f := range flags {
		src.items = append(src.items, telemetry.Fix{
			Row:       i + 2,
			Timestamp: "t" + string(rune('a'+i)),
			Latitude:  41.0,
			Longitude: lons[i],
			Passenger: f == 1,
		})
	}
	return src
}

func newTestSegmenter(opts Options, sinks ...Sink) (*Segmenter, *stubLocator) {
	logger, _ := test.NewNullLogger()
	opts.Logger = logger
	if opts.RunID == "" {
		opts.RunID = "run-1"
	}
	loc := &stubLocator{}
	return New(loc, opts, sinks...), loc
}

func TestDuplicateKeysCollapse(t *testing.T) {
	sink := &memorySink{}
	seg, _ := newTestSegmenter(Options{}, sink)

	summary, err := seg.Run(context.Background(), fixes(
		[]int{1, 1, 1, 1, 1, 0},
		[]float64{3, 3, 3, 3, 3, 0},
	))
	require.NoError(t, err)

	require.Len(t, sink.intervals, 1)
	assert.Equal(t, []string{"3_Main_St"}, sink.intervals[0].Tokens())
	assert.Equal(t, 1, summary.SegmentOpenEvents)
	assert.Equal(t, 1, summary.DistinctSegments)
}

func TestTransitions(t *testing.T) {
	sink := &memorySink{}
	seg, loc := newTestSegmenter(Options{}, sink)

	summary, err := seg.Run(context.Background(), fixes(
		[]int{1, 1, 0, 1, 0},
		[]float64{1, 2, 0, 1, 0},
	))
	require.NoError(t, err)

	require.Len(t, sink.intervals, 2)
	first, second := sink.intervals[0], sink.intervals[1]
	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, 2, first.StartRow)
	assert.Equal(t, 4, first.EndRow)
	assert.Equal(t, "ta", first.Start)
	assert.Equal(t, "tc", first.End)
	assert.Equal(t, []string{"1_Main_St", "2_Main_St"}, first.Tokens())

	assert.Equal(t, 2, second.Seq)
	assert.Equal(t, []string{"1_Main_St"}, second.Tokens())
	assert.False(t, second.Trailing)

	assert.Equal(t, 3, loc.calls, "only passenger fixes are resolved")
	assert.Equal(t, 2, summary.IntervalsClosed)
	assert.Equal(t, 3, summary.SegmentOpenEvents)
	assert.Equal(t, 2, summary.DistinctSegments)
	assert.Equal(t, 5, summary.FixesRead)
	assert.False(t, summary.DroppedTrailing)

	require.Len(t, sink.summaries, 1)
	assert.Equal(t, summary, sink.summaries[0])
}

func TestTrailingIntervalDropped(t *testing.T) {
	sink := &memorySink{}
	seg, _ := newTestSegmenter(Options{}, sink)

	summary, err := seg.Run(context.Background(), fixes(
		[]int{1, 0, 1, 1},
		[]float64{1, 0, 2, 3},
	))
	require.NoError(t, err)

	assert.Len(t, sink.intervals, 1)
	assert.True(t, summary.DroppedTrailing)
	assert.Equal(t, 2, summary.DroppedPending)
	assert.Equal(t, 1, summary.IntervalsClosed)
}

func TestTrailingIntervalFlushed(t *testing.T) {
	sink := &memorySink{}
	seg, _ := newTestSegmenter(Options{FlushTrailing: true}, sink)

	summary, err := seg.Run(context.Background(), fixes(
		[]int{1, 0, 1, 1},
		[]float64{1, 0, 2, 3},
	))
	require.NoError(t, err)

	require.Len(t, sink.intervals, 2)
	tail := sink.intervals[1]
	assert.True(t, tail.Trailing)
	assert.Equal(t, 5, tail.EndRow)
	assert.Equal(t, "td", tail.End)
	assert.Equal(t, []string{"2_Main_St", "3_Main_St"}, tail.Tokens())
	assert.False(t, summary.DroppedTrailing)
	assert.Equal(t, 2, summary.IntervalsClosed)
}

func TestEndToEndSingleStreet(t *testing.T) {
	sink := &memorySink{}
	seg, _ := newTestSegmenter(Options{}, sink)

	summary, err := seg.Run(context.Background(), fixes(
		[]int{0, 1, 1, 1, 0},
		[]float64{0, 4, 5, 4, 0},
	))
	require.NoError(t, err)

	require.Len(t, sink.intervals, 1)
	tokens := sink.intervals[0].Tokens()
	assert.LessOrEqual(t, len(tokens), 3)
	assert.Equal(t, []string{"4_Main_St", "5_Main_St"}, tokens)
	assert.Equal(t, "2,4_Main_St,5_Main_St", lastLine(sink.intervals[0].Record()))
	assert.Equal(t, len(tokens), summary.SegmentOpenEvents)
}

func TestUnresolvedFixesAreSkipped(t *testing.T) {
	sink := &memorySink{}
	seg, _ := newTestSegmenter(Options{}, sink)

	summary, err := seg.Run(context.Background(), fixes(
		[]int{1, 1, 1, 0},
		[]float64{-1, 2, -1, 0},
	))
	require.NoError(t, err)

	require.Len(t, sink.intervals, 1)
	assert.Equal(t, []string{"2_Main_St"}, sink.intervals[0].Tokens())
	assert.Equal(t, 2, summary.Unresolved)
}

func TestMalformedRowsCounted(t *testing.T) {
	sink := &memorySink{}
	seg, _ := newTestSegmenter(Options{}, sink)

	src := fixes([]int{1, 0}, []float64{1, 0})
	src.items = append([]any{&telemetry.MalformedRecordError{Row: 1, Field: "Di2", Value: "x"}}, src.items...)

	summary, err := seg.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Malformed)
	assert.Equal(t, 2, summary.FixesRead)
	assert.Len(t, sink.intervals, 1)
}

func TestSourceErrorIsFatal(t *testing.T) {
	seg, _ := newTestSegmenter(Options{})
	src := &sliceSource{items: []any{errors.New("read failed")}}

	_, err := seg.Run(context.Background(), src)
	assert.Error(t, err)
}

func TestSinkErrorsAreLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	mem := &memorySink{}
	seg := New(&stubLocator{}, Options{Logger: logger}, failingSink{}, mem)

	_, err := seg.Run(context.Background(), fixes([]int{1, 0}, []float64{1, 0}))
	require.NoError(t, err)

	assert.Len(t, mem.intervals, 1, "later sinks still receive the interval")
	var errorsLogged int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			errorsLogged++
		}
	}
	assert.Equal(t, 2, errorsLogged)
}

func TestFirstSeenAcrossIntervals(t *testing.T) {
	var found []string
	seg, _ := newTestSegmenter(Options{OnFirstSeen: func(m segment.Match) {
		found = append(found, m.Key().Token())
	}})

	summary, err := seg.Run(context.Background(), fixes(
		[]int{1, 1, 0, 1, 1, 0},
		[]float64{1, 2, 0, 2, 3, 0},
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"1_Main_St", "2_Main_St", "3_Main_St"}, found)
	assert.Equal(t, 4, summary.SegmentOpenEvents)
	assert.Equal(t, 3, summary.DistinctSegments)
}

func TestLengthStats(t *testing.T) {
	seg, _ := newTestSegmenter(Options{})

	summary, err := seg.Run(context.Background(), fixes(
		[]int{1, 1, 0},
		[]float64{0, 2, 0},
	))
	require.NoError(t, err)

	// lengths 0.1 and 0.3
	assert.InDelta(t, 0.2, summary.LengthMeanKm, 1e-9)
	assert.InDelta(t, 0.1, summary.LengthStdDevKm, 1e-9)
}

func TestCancelledBeforeFirstFix(t *testing.T) {
	sink := &memorySink{}
	seg, _ := newTestSegmenter(Options{}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := seg.Run(ctx, fixes([]int{1, 0}, []float64{1, 0}))
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Zero(t, summary.FixesRead)
	assert.Empty(t, sink.intervals)
	assert.Len(t, sink.summaries, 1)
}

// cancellingLocator resolves like stubLocator and cancels the run on its nth call
type cancellingLocator struct {
	stubLocator
	cancelOn int
	cancel   context.CancelFunc
}

func (l *cancellingLocator) Locate(ctx context.Context, lat, lon float64) (segment.Match, error) {
	m, err := l.stubLocator.Locate(ctx, lat, lon)
	if l.calls == l.cancelOn {
		l.cancel()
		return segment.Match{}, ctx.Err()
	}
	return m, err
}

// ctxSink records whether the context it was handed was still live
type ctxSink struct {
	memorySink
	ctxErrs []error
}

func (c *ctxSink) WriteInterval(ctx context.Context, iv Interval) error {
	c.ctxErrs = append(c.ctxErrs, ctx.Err())
	return c.memorySink.WriteInterval(ctx, iv)
}

func (c *ctxSink) WriteSummary(ctx context.Context, s Summary) error {
	c.ctxErrs = append(c.ctxErrs, ctx.Err())
	return c.memorySink.WriteSummary(ctx, s)
}

func runCancelledMidInterval(t *testing.T, opts Options) (Summary, *ctxSink) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	opts.Logger = logger
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &ctxSink{}
	loc := &cancellingLocator{cancelOn: 3, cancel: cancel}
	seg := New(loc, opts, sink)

	// The third passenger fix cancels the run while its interval is open.
	summary, err := seg.Run(ctx, fixes(
		[]int{1, 0, 1, 1, 1, 1, 0},
		[]float64{1, 0, 2, 3, 4, 5, 0},
	))
	require.NoError(t, err)
	return summary, sink
}

func TestCancelledRunDropsOpenInterval(t *testing.T) {
	summary, sink := runCancelledMidInterval(t, Options{})

	assert.True(t, summary.Interrupted)
	assert.Equal(t, 4, summary.FixesRead)
	assert.True(t, summary.DroppedTrailing)
	assert.Equal(t, 1, summary.DroppedPending)
	assert.Equal(t, 1, summary.Unresolved)
	require.Len(t, sink.intervals, 1)
	assert.False(t, sink.intervals[0].Trailing)
	assert.Len(t, sink.summaries, 1)
}

func TestCancelledRunFlushesOpenInterval(t *testing.T) {
	summary, sink := runCancelledMidInterval(t, Options{FlushTrailing: true})

	assert.True(t, summary.Interrupted)
	assert.False(t, summary.DroppedTrailing)
	assert.Equal(t, 2, summary.IntervalsClosed)

	require.Len(t, sink.intervals, 2)
	tail := sink.intervals[1]
	assert.True(t, tail.Trailing)
	assert.Equal(t, []string{"2_Main_St"}, tail.Tokens())
	assert.Equal(t, 5, tail.EndRow)
	assert.Equal(t, "td", tail.End)

	require.Len(t, sink.summaries, 1)
	for i, err := range sink.ctxErrs {
		assert.NoError(t, err, "sink write %d saw a cancelled context", i)
	}
}

func TestGeneratedRunID(t *testing.T) {
	a := New(&stubLocator{}, Options{})
	b := New(&stubLocator{}, Options{})
	assert.NotEmpty(t, a.RunID())
	assert.NotEqual(t, a.RunID(), b.RunID())
}

func TestIntervalRecord(t *testing.T) {
	iv := Interval{Segments: []segment.Match{
		{StreetName: "Carrer_de_Mallorca", Index: 4},
		{StreetName: "Carrer_de_Mallorca", Index: 5},
	}}
	assert.Equal(t, "4_Carrer_de_Mallorca\n5_Carrer_de_Mallorca\n2,4_Carrer_de_Mallorca,5_Carrer_de_Mallorca\n\n", iv.Record())

	assert.Equal(t, "0\n\n", Interval{}.Record())
}

func lastLine(record string) string {
	lines := strings.Split(strings.TrimRight(record, "\n"), "\n")
	return lines[len(lines)-1]
}
