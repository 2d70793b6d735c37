// Package output holds the flat-record sinks for closed passenger intervals.
package output

import (
	"context"
	"fmt"
	"io"

	"github.com/mini-rodalies-3d/segmenter/internal/segment"
	"github.com/mini-rodalies-3d/segmenter/internal/trip"
)

// ConsoleSink prints segments as they are first found, each closed interval
// record and the run summary.
type ConsoleSink struct {
	w io.Writer
}

// NewConsoleSink creates a ConsoleSink writing to w
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// SegmentFound announces a segment seen for the first time in the run
func (c *ConsoleSink) SegmentFound(m segment.Match) {
	fmt.Fprintf(c.w, "Segment found: %s[%d]\n", m.StreetName, m.Index)
}

func (c *ConsoleSink) WriteInterval(_ context.Context, iv trip.Interval) error {
	_, err := io.WriteString(c.w, iv.Record())
	return err
}

func (c *ConsoleSink) WriteSummary(_ context.Context, s trip.Summary) error {
	_, err := fmt.Fprintf(c.w,
		"\nNumber of segments with a passenger: %d\n"+
			"Total number of segments: %d\n"+
			"Intervals: %d, fixes: %d, malformed: %d, unresolved: %d\n"+
			"Segment length: mean %.3f km, stddev %.3f km\n",
		s.DistinctSegments,
		s.SegmentOpenEvents,
		s.IntervalsClosed, s.FixesRead, s.Malformed, s.Unresolved,
		s.LengthMeanKm, s.LengthStdDevKm,
	)
	if err != nil {
		return err
	}
	if s.DroppedTrailing {
		_, err = fmt.Fprintf(c.w, "Dropped open interval at end of input (%d segments pending)\n", s.DroppedPending)
	}
	return err
}
