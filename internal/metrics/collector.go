// Package metrics holds the prometheus collectors of the development backend.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "inspector"

// Collector groups the backend metrics. All methods are safe on a nil receiver
// so components can run without metrics in tests.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	uploadsTotal *prometheus.CounterVec
	uploadBytes  prometheus.Histogram

	jobsStarted      prometheus.Counter
	jobsFinished     *prometheus.CounterVec
	jobsActive       prometheus.Gauge
	analysisDuration *prometheus.HistogramVec

	eventStreams prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewCollector registers the collectors on a fresh registry.
func NewCollector(namespace string) *Collector {
	return NewCollectorWith(prometheus.NewRegistry(), namespace)
}

// NewCollectorWith registers the collectors on reg.
func NewCollectorWith(reg *prometheus.Registry, namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	c := &Collector{gatherer: reg}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.uploadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Model uploads by outcome",
		},
		[]string{"outcome"},
	)

	c.uploadBytes = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_size_bytes",
			Help:      "Size of accepted model uploads",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	c.jobsStarted = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Analysis jobs accepted",
		},
	)

	c.jobsFinished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Analysis jobs that reached a terminal status",
		},
		[]string{"status"},
	)

	c.jobsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Analysis jobs queued or running",
		},
	)

	c.analysisDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent analysing one model",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	c.eventStreams = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_event_streams",
			Help:      "Open job event websocket connections",
		},
	)

	return c
}

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordUpload records an upload attempt. size is ignored for rejected uploads.
func (c *Collector) RecordUpload(accepted bool, size int64) {
	if c == nil {
		return
	}
	if !accepted {
		c.uploadsTotal.WithLabelValues("rejected").Inc()
		return
	}
	c.uploadsTotal.WithLabelValues("accepted").Inc()
	c.uploadBytes.Observe(float64(size))
}

// JobStarted counts a newly queued job.
func (c *Collector) JobStarted() {
	if c == nil {
		return
	}
	c.jobsStarted.Inc()
	c.jobsActive.Inc()
}

// JobFinished counts a job reaching status after d of analysis.
func (c *Collector) JobFinished(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.jobsActive.Dec()
	c.jobsFinished.WithLabelValues(status).Inc()
	c.analysisDuration.WithLabelValues(status).Observe(d.Seconds())
}

// StreamOpened tracks an event stream connection; call the returned func on close.
func (c *Collector) StreamOpened() func() {
	if c == nil {
		return func() {}
	}
	c.eventStreams.Inc()
	return c.eventStreams.Dec
}
