// Package metrics exposes run metrics in Prometheus format and keeps running
// statistics for the run summary.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Collector holds the run metrics on its own registry, so tests and the
// textfile export see only segmenter series.
type Collector struct {
	reg *prometheus.Registry

	FixesRead       *prometheus.CounterVec // passenger label: true|false
	FixesMalformed  prometheus.Counter
	FixesUnresolved *prometheus.CounterVec // reason label
	SegmentsOpened  prometheus.Counter
	SegmentLength   prometheus.Histogram
	IntervalsClosed prometheus.Counter
	IntervalSize    prometheus.Histogram

	UpstreamRequests *prometheus.CounterVec // service, outcome labels
	UpstreamRetries  *prometheus.CounterVec // service label
	UpstreamDuration *prometheus.HistogramVec

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram
}

// NewCollector creates and registers every metric
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FixesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segmenter_fixes_read_total",
			Help: "Total fixes processed.",
		}, []string{"passenger"}),
		FixesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_fixes_malformed_total",
			Help: "Total input rows skipped as malformed.",
		}),
		FixesUnresolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segmenter_fixes_unresolved_total",
			Help: "Total passenger fixes that could not be resolved to a segment.",
		}, []string{"reason"}),
		SegmentsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_segment_open_events_total",
			Help: "Total segments added to a passenger interval.",
		}),
		SegmentLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "segmenter_segment_length_km",
			Help:    "Length of resolved segments in kilometers.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		IntervalsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_intervals_closed_total",
			Help: "Total passenger intervals emitted.",
		}),
		IntervalSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "segmenter_interval_segments",
			Help:    "Distinct segments per emitted interval.",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segmenter_upstream_requests_total",
			Help: "HTTP attempts against geocoding services.",
		}, []string{"service", "outcome"}),
		UpstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segmenter_upstream_retries_total",
			Help: "Retries against geocoding services.",
		}, []string{"service"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "segmenter_upstream_request_duration_seconds",
			Help:    "Duration of HTTP attempts against geocoding services.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"service"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "segmenter_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "segmenter_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.FixesRead, c.FixesMalformed, c.FixesUnresolved,
		c.SegmentsOpened, c.SegmentLength, c.IntervalsClosed, c.IntervalSize,
		c.UpstreamRequests, c.UpstreamRetries, c.UpstreamDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
	)
	return c
}

func (c *Collector) FixRead(passenger bool) {
	label := "false"
	if passenger {
		label = "true"
	}
	c.FixesRead.WithLabelValues(label).Inc()
}

func (c *Collector) FixMalformed()               { c.FixesMalformed.Inc() }
func (c *Collector) FixUnresolved(reason string) { c.FixesUnresolved.WithLabelValues(reason).Inc() }
func (c *Collector) IntervalClosed(segments int) {
	c.IntervalsClosed.Inc()
	c.IntervalSize.Observe(float64(segments))
}

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) SegmentOpened(lengthKm float64) {
	c.SegmentsOpened.Inc()
	c.SegmentLength.Observe(lengthKm)
}

func (c *Collector) ObserveRequest(service, outcome string, d time.Duration) {
	c.UpstreamRequests.WithLabelValues(service, outcome).Inc()
	c.UpstreamDuration.WithLabelValues(service).Observe(d.Seconds())
}

func (c *Collector) RetryInc(service string) {
	c.UpstreamRetries.WithLabelValues(service).Inc()
}

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server error")
		}
	}()
	logger.Infof("metrics listening on %s", addr)
	return srv
}

// WriteTextfile writes the current metrics in the node_exporter textfile format
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.reg); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
