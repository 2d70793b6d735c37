package trip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mini-rodalies-3d/segmenter/internal/geo"
	"github.com/mini-rodalies-3d/segmenter/internal/metrics"
	"github.com/mini-rodalies-3d/segmenter/internal/segment"
	"github.com/mini-rodalies-3d/segmenter/internal/street"
	"github.com/mini-rodalies-3d/segmenter/internal/telemetry"
)

// Options configures a Segmenter
type Options struct {
	RunID         string // generated when empty
	FlushTrailing bool   // emit an interval still open at end of stream
	ProgressEvery int    // log progress every N fixes, 0 disables
	Logger        logrus.FieldLogger
	Metrics       Metrics
	// OnFirstSeen is called the first time a segment key is seen in the run
	OnFirstSeen func(segment.Match)
}

// Segmenter is the passenger-interval state machine. It is not safe for
// concurrent use; fixes are processed one at a time in input order.
type Segmenter struct {
	locator Locator
	sinks   []Sink
	opts    Options
	logger  logrus.FieldLogger
	metrics Metrics

	// open interval, nil when idle
	current *Interval
	seen    map[segment.Key]struct{}
	lastFix telemetry.Fix

	distinct map[segment.Key]struct{}
	lengths  metrics.Welford
	summary  Summary
}

// New creates a Segmenter writing closed intervals to sinks
func New(locator Locator, opts Options, sinks ...Sink) *Segmenter {
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	s := &Segmenter{
		locator:  locator,
		sinks:    sinks,
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		distinct: make(map[segment.Key]struct{}),
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	s.logger = s.logger.WithField("run_id", opts.RunID)
	s.summary.RunID = opts.RunID
	return s
}

// RunID returns the id of this run
func (s *Segmenter) RunID() string {
	return s.opts.RunID
}

// Run feeds every fix of src through the state machine, then handles any
// open interval and writes the summary. Only source errors are returned;
// a cancelled context ends the run as if the stream had ended.
func (s *Segmenter) Run(ctx context.Context, src telemetry.Source) (Summary, error) {
	s.summary.StartedAt = time.Now().UTC()
	s.logger.Info("Segmenter: run started")

	for {
		if ctx.Err() != nil {
			s.summary.Interrupted = true
			s.logger.Warn("Segmenter: interrupted, finishing run")
			break
		}

		fix, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var malformed *telemetry.MalformedRecordError
		if errors.As(err, &malformed) {
			s.summary.Malformed++
			s.metrics.FixMalformed()
			s.logger.WithFields(logrus.Fields{
				"row":   malformed.Row,
				"error": malformed.Error(),
			}).Warn("Segmenter: skipping malformed row")
			continue
		}
		if err != nil {
			return s.Summary(), fmt.Errorf("failed to read fix: %w", err)
		}

		s.Process(ctx, fix)
	}

	// Sinks still get the tail and summary when the run was interrupted
	finishCtx := context.WithoutCancel(ctx)
	s.Finish(finishCtx)
	s.writeSummary(finishCtx)
	return s.summary, nil
}

// Process advances the state machine by one fix
func (s *Segmenter) Process(ctx context.Context, fix telemetry.Fix) {
	s.summary.FixesRead++
	s.metrics.FixRead(fix.Passenger)

	switch {
	case fix.Passenger && s.current == nil:
		s.open(fix)
		s.resolve(ctx, fix)
	case fix.Passenger:
		s.resolve(ctx, fix)
	case s.current != nil:
		s.current.EndRow = fix.Row
		s.current.End = fix.Timestamp
		s.close(ctx)
	}
	s.lastFix = fix

	if n := s.opts.ProgressEvery; n > 0 && s.summary.FixesRead%n == 0 {
		s.logger.WithFields(logrus.Fields{
			"fixes":     s.summary.FixesRead,
			"intervals": s.summary.IntervalsClosed,
			"segments":  len(s.distinct),
		}).Info("Segmenter: progress")
	}
}

// Finish handles an interval still open at end of stream: dropped, or
// flushed when FlushTrailing is set.
func (s *Segmenter) Finish(ctx context.Context) {
	if s.current == nil {
		return
	}

	if s.opts.FlushTrailing {
		s.current.EndRow = s.lastFix.Row
		s.current.End = s.lastFix.Timestamp
		s.current.Trailing = true
		s.close(ctx)
		return
	}

	s.summary.DroppedTrailing = true
	s.summary.DroppedPending = len(s.current.Segments)
	s.logger.WithFields(logrus.Fields{
		"start_row": s.current.StartRow,
		"pending":   len(s.current.Segments),
	}).Warn("Segmenter: dropping interval still open at end of input")
	s.current = nil
	s.seen = nil
}

// Summary returns the counters so far
func (s *Segmenter) Summary() Summary {
	sum := s.summary
	sum.DistinctSegments = len(s.distinct)
	sum.LengthMeanKm = s.lengths.Mean()
	sum.LengthStdDevKm = s.lengths.StdDev()
	return sum
}

func (s *Segmenter) open(fix telemetry.Fix) {
	s.current = &Interval{
		RunID:    s.opts.RunID,
		Seq:      s.summary.IntervalsClosed + 1,
		StartRow: fix.Row,
		Start:    fix.Timestamp,
	}
	s.seen = make(map[segment.Key]struct{})
	s.logger.WithFields(fixFields(fix)).Debug("Segmenter: interval opened")
}

func (s *Segmenter) resolve(ctx context.Context, fix telemetry.Fix) {
	m, err := s.locator.Locate(ctx, fix.Latitude, fix.Longitude)
	if err != nil {
		s.summary.Unresolved++
		reason := unresolvedReason(err)
		s.metrics.FixUnresolved(reason)
		fields := fixFields(fix)
		fields["reason"] = reason
		fields["error"] = err.Error()
		s.logger.WithFields(fields).Warn("Segmenter: could not resolve fix")
		return
	}

	key := m.Key()
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.current.Segments = append(s.current.Segments, m)
	s.summary.SegmentOpenEvents++
	s.lengths.Add(m.LengthKm)
	s.metrics.SegmentOpened(m.LengthKm)

	if _, ok := s.distinct[key]; !ok {
		s.distinct[key] = struct{}{}
		if s.opts.OnFirstSeen != nil {
			s.opts.OnFirstSeen(m)
		}
	}
}

func (s *Segmenter) close(ctx context.Context) {
	iv := *s.current
	s.current = nil
	s.seen = nil

	s.summary.IntervalsClosed++
	s.metrics.IntervalClosed(len(iv.Segments))
	s.logger.WithFields(logrus.Fields{
		"seq":       iv.Seq,
		"start_row": iv.StartRow,
		"end_row":   iv.EndRow,
		"segments":  len(iv.Segments),
	}).Info("Segmenter: interval closed")

	for _, sink := range s.sinks {
		if err := sink.WriteInterval(ctx, iv); err != nil {
			s.logger.WithError(err).WithField("seq", iv.Seq).Error("Segmenter: failed to write interval")
		}
	}
}

func (s *Segmenter) writeSummary(ctx context.Context) {
	s.summary = s.Summary()
	s.summary.FinishedAt = time.Now().UTC()

	s.logger.WithFields(logrus.Fields{
		"fixes":               s.summary.FixesRead,
		"malformed":           s.summary.Malformed,
		"unresolved":          s.summary.Unresolved,
		"intervals":           s.summary.IntervalsClosed,
		"segment_open_events": s.summary.SegmentOpenEvents,
		"distinct_segments":   s.summary.DistinctSegments,
		"dropped_trailing":    s.summary.DroppedTrailing,
	}).Info("Segmenter: run finished")

	for _, sink := range s.sinks {
		if err := sink.WriteSummary(ctx, s.summary); err != nil {
			s.logger.WithError(err).Error("Segmenter: failed to write summary")
		}
	}
}

func fixFields(fix telemetry.Fix) logrus.Fields {
	return logrus.Fields{
		"row":       fix.Row,
		"timestamp": fix.Timestamp,
		"lat":       fix.Latitude,
		"lon":       fix.Longitude,
	}
}

// unresolvedReason buckets a Locate error for logs and metrics
func unresolvedReason(err error) string {
	switch {
	case errors.Is(err, geo.ErrInvalidCoordinate):
		return "invalid_coordinate"
	case errors.Is(err, street.ErrNoStreetFound):
		return "no_street"
	case errors.Is(err, segment.ErrNotFound):
		return "no_segment"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
