// Package trip splits a telemetry stream into passenger intervals and collects
// the distinct street segments traversed in each.
package trip

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/mini-rodalies-3d/segmenter/internal/segment"
)

// Locator resolves a fix to a street segment
type Locator interface {
	Locate(ctx context.Context, lat, lon float64) (segment.Match, error)
}

// Interval is one stretch of consecutive passenger fixes
type Interval struct {
	RunID    string
	Seq      int // 1-based within the run
	StartRow int
	EndRow   int
	Start    string // timestamp of the opening fix
	End      string // timestamp of the closing fix
	Segments []segment.Match
	Trailing bool // flushed at end of stream instead of closed by a passenger-off fix
}

// Tokens returns the segment tokens in first-seen order
func (iv Interval) Tokens() []string {
	tokens := make([]string, len(iv.Segments))
	for i, m := range iv.Segments {
		tokens[i] = m.Key().Token()
	}
	return tokens
}

// Record renders the interval as written to the output file: one token per
// line, then "<count>,<tok1>,<tok2>...", then a blank line.
func (iv Interval) Record() string {
	tokens := iv.Tokens()

	var b strings.Builder
	for _, tok := range tokens {
		b.WriteString(tok)
		b.WriteByte('\n')
	}
	b.WriteString(strconv.Itoa(len(tokens)))
	for _, tok := range tokens {
		b.WriteByte(',')
		b.WriteString(tok)
	}
	b.WriteString("\n\n")
	return b.String()
}

// Summary is the outcome of a run
type Summary struct {
	RunID             string
	StartedAt         time.Time
	FinishedAt        time.Time
	FixesRead         int
	Malformed         int
	Unresolved        int
	IntervalsClosed   int
	SegmentOpenEvents int // sum of interval segment counts
	DistinctSegments  int // distinct keys across all intervals
	DroppedTrailing   bool
	DroppedPending    int // segments of the dropped trailing interval
	Interrupted       bool
	LengthMeanKm      float64
	LengthStdDevKm    float64
}

// Sink receives closed intervals and the run summary
type Sink interface {
	WriteInterval(ctx context.Context, iv Interval) error
	WriteSummary(ctx context.Context, s Summary) error
}

// Metrics receives per-fix observations
type Metrics interface {
	FixRead(passenger bool)
	FixMalformed()
	FixUnresolved(reason string)
	SegmentOpened(lengthKm float64)
	IntervalClosed(segments int)
}

type nopMetrics struct{}

func (nopMetrics) FixRead(bool)          {}
func (nopMetrics) FixMalformed()         {}
func (nopMetrics) FixUnresolved(string)  {}
func (nopMetrics) SegmentOpened(float64) {}
func (nopMetrics) IntervalClosed(int)    {}
