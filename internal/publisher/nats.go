// Package publisher announces closed intervals and run summaries on NATS.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/mini-rodalies-3d/segmenter/internal/trip"
)

// conn is the part of *nats.Conn the publisher uses
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// PublisherMetrics receives publish outcomes
type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// NATSPublisher publishes JSON messages under "<prefix>.<run id>.interval"
// and "<prefix>.<run id>.summary".
type NATSPublisher struct {
	nc      conn
	prefix  string
	logger  logrus.FieldLogger
	metrics PublisherMetrics
}

// NewNATSPublisher connects to url
func NewNATSPublisher(url, prefix string, logger logrus.FieldLogger, m PublisherMetrics) (*NATSPublisher, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	setConnected := func(connected bool) {
		if m != nil {
			m.NATSSetConnected(connected)
		}
	}

	nc, err := nats.Connect(url,
		nats.Name("segmenter"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			logger.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			setConnected(true)
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	setConnected(true)
	return newPublisher(nc, prefix, logger, m), nil
}

func newPublisher(nc conn, prefix string, logger logrus.FieldLogger, m PublisherMetrics) *NATSPublisher {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = "segmenter"
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger, metrics: m}
}

// Close drains pending messages and closes the connection
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.WithError(err).Warn("nats drain failed")
		}
		p.nc.Close()
	}
}

// SegmentMessage is one segment of an IntervalMessage
type SegmentMessage struct {
	Token      string  `json:"token"`
	StreetID   int64   `json:"streetId"`
	StreetName string  `json:"streetName"`
	Index      int     `json:"index"`
	LengthKm   float64 `json:"lengthKm"`
}

// IntervalMessage is the payload published for a closed interval
type IntervalMessage struct {
	RunID    string           `json:"runId"`
	Seq      int              `json:"seq"`
	Start    string           `json:"start"`
	End      string           `json:"end"`
	StartRow int              `json:"startRow"`
	EndRow   int              `json:"endRow"`
	Trailing bool             `json:"trailing,omitempty"`
	Count    int              `json:"count"`
	Segments []SegmentMessage `json:"segments"`
}

// SummaryMessage is the payload published when a run finishes
type SummaryMessage struct {
	RunID             string    `json:"runId"`
	FinishedAt        time.Time `json:"finishedAt"`
	FixesRead         int       `json:"fixesRead"`
	Malformed         int       `json:"malformed"`
	Unresolved        int       `json:"unresolved"`
	IntervalsClosed   int       `json:"intervalsClosed"`
	SegmentOpenEvents int       `json:"segmentOpenEvents"`
	DistinctSegments  int       `json:"distinctSegments"`
	DroppedTrailing   bool      `json:"droppedTrailing"`
	Interrupted       bool      `json:"interrupted"`
}

func intervalMessage(iv trip.Interval) IntervalMessage {
	msg := IntervalMessage{
		RunID:    iv.RunID,
		Seq:      iv.Seq,
		Start:    iv.Start,
		End:      iv.End,
		StartRow: iv.StartRow,
		EndRow:   iv.EndRow,
		Trailing: iv.Trailing,
		Count:    len(iv.Segments),
		Segments: make([]SegmentMessage, 0, len(iv.Segments)),
	}
	for _, m := range iv.Segments {
		msg.Segments = append(msg.Segments, SegmentMessage{
			Token:      m.Key().Token(),
			StreetID:   m.StreetID,
			StreetName: m.StreetName,
			Index:      m.Index,
			LengthKm:   m.LengthKm,
		})
	}
	return msg
}

func (p *NATSPublisher) WriteInterval(_ context.Context, iv trip.Interval) error {
	return p.publish(p.subject(iv.RunID, "interval"), intervalMessage(iv))
}

func (p *NATSPublisher) WriteSummary(_ context.Context, s trip.Summary) error {
	return p.publish(p.subject(s.RunID, "summary"), SummaryMessage{
		RunID:             s.RunID,
		FinishedAt:        s.FinishedAt,
		FixesRead:         s.FixesRead,
		Malformed:         s.Malformed,
		Unresolved:        s.Unresolved,
		IntervalsClosed:   s.IntervalsClosed,
		SegmentOpenEvents: s.SegmentOpenEvents,
		DistinctSegments:  s.DistinctSegments,
		DroppedTrailing:   s.DroppedTrailing,
		Interrupted:       s.Interrupted,
	})
}

func (p *NATSPublisher) subject(runID, kind string) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(runID), kind)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	p.logger.WithField("subject", subject).Debug("nats publish")

	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// subjectToken makes a run id usable as one subject token. Separators and
// wildcards would split or widen the subject, so they become "_".
func subjectToken(runID string) string {
	tok := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || strings.ContainsRune(".*>/", r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(runID))
	if tok == "" {
		return "_"
	}
	return tok
}
