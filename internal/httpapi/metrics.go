package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you/hypecut/internal/core"
)

// Metrics bundles Prometheus collectors for the HTTP API and the
// pipeline runs it reports on.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     prometheus.Counter

	runsTotal       *prometheus.CounterVec
	windowsWritten  prometheus.Counter
	segmentsWritten prometheus.Counter
	recordsDropped  *prometheus.CounterVec
	lateEvents      *prometheus.CounterVec
	storeErrors     prometheus.Counter
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hypecut",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hypecut",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hypecut",
			Name:      "http_rate_limited_total",
			Help:      "Number of HTTP requests rejected due to rate limiting",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hypecut",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome",
		}, []string{"status"}),
		windowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hypecut",
			Name:      "windows_written_total",
			Help:      "Window rows written across all runs",
		}),
		segmentsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hypecut",
			Name:      "segments_written_total",
			Help:      "Highlight segments written across all runs",
		}),
		recordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hypecut",
			Name:      "records_dropped_total",
			Help:      "Raw records dropped during normalization",
		}, []string{"reason"}),
		lateEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hypecut",
			Name:      "late_events_total",
			Help:      "Out-of-order events by disposition",
		}, []string{"disposition"}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hypecut",
			Name:      "store_write_errors_total",
			Help:      "Number of store write failures reported",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.rateLimited,
		m.runsTotal,
		m.windowsWritten,
		m.segmentsWritten,
		m.recordsDropped,
		m.lateEvents,
		m.storeErrors,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records timing and status information.
func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

// IncRateLimited increments the rate limit counter.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// RecordRun folds one finished pipeline run into the counters.
func (m *Metrics) RecordRun(r core.RunResult) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(string(r.Status)).Inc()
	m.windowsWritten.Add(float64(r.WindowsWritten))
	m.segmentsWritten.Add(float64(r.SegmentsWritten))
	if r.MalformedRecords > 0 {
		m.recordsDropped.WithLabelValues("malformed").Add(float64(r.MalformedRecords))
	}
	if r.DuplicateRecords > 0 {
		m.recordsDropped.WithLabelValues("duplicate").Add(float64(r.DuplicateRecords))
	}
	if r.LateMerged > 0 {
		m.lateEvents.WithLabelValues("merged").Add(float64(r.LateMerged))
	}
	if r.LateDropped > 0 {
		m.lateEvents.WithLabelValues("dropped").Add(float64(r.LateDropped))
	}
	if r.Status == core.RunFailed && r.Stage == "persist" {
		m.storeErrors.Inc()
	}
}
