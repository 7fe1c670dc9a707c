// Package metrics exposes Prometheus instruments for ingestion, uid
// allocation, deduplication and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Item outcomes recorded by RecordItems.
const (
	ItemSuccess = "success"
	ItemError   = "error"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpipe_runs_total",
			Help: "Ingestion runs by final status and feed format.",
		},
		[]string{"status", "format"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedpipe_run_duration_seconds",
			Help:    "Duration of finished ingestion runs.",
			Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900, 1800},
		},
		[]string{"status"},
	)
	activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedpipe_active_runs",
			Help: "Ingestion runs currently holding a slot.",
		},
	)
	itemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpipe_items_total",
			Help: "Feed items processed by outcome.",
		},
		[]string{"outcome"},
	)
	uidsAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedpipe_uids_allocated_total",
			Help: "Workspace uids handed out by the allocator.",
		},
	)
	flushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedpipe_batch_flush_duration_seconds",
			Help:    "Latency of mapped record batch upserts.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
	dedupRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpipe_dedup_runs_total",
			Help: "Deduplication passes by result.",
		},
		[]string{"result"},
	)
	dedupConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedpipe_dedup_conflicts_total",
			Help: "Contested match groups resolved by deduplication.",
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "endpoint", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		runsTotal,
		runDuration,
		activeRuns,
		itemsTotal,
		uidsAllocated,
		flushDuration,
		dedupRunsTotal,
		dedupConflictsTotal,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// RecordRun counts a finished run and observes its duration.
func RecordRun(status, format string, duration time.Duration) {
	runsTotal.WithLabelValues(status, format).Inc()
	runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetActiveRuns reports the number of occupied run slots.
func SetActiveRuns(n int) {
	activeRuns.Set(float64(n))
}

// RecordItems adds n items with the given outcome.
func RecordItems(outcome string, n int) {
	if n > 0 {
		itemsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// RecordUIDs counts n newly allocated uids.
func RecordUIDs(_ string, n int) {
	if n > 0 {
		uidsAllocated.Add(float64(n))
	}
}

// ObserveFlush records the latency of one batch upsert.
func ObserveFlush(duration time.Duration) {
	flushDuration.Observe(duration.Seconds())
}

// RecordDedup counts a deduplication pass. A nil err is recorded as ok.
func RecordDedup(conflicts int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	dedupRunsTotal.WithLabelValues(result).Inc()
	if conflicts > 0 {
		dedupConflictsTotal.Add(float64(conflicts))
	}
}

// RecordRequest records metrics for one HTTP request.
func RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

// classifyStatus buckets an HTTP status code into its class.
func classifyStatus(statusCode int) string {
	if statusCode >= 100 && statusCode < 600 {
		return strconv.Itoa(statusCode/100) + "xx"
	}
	return "unknown"
}

// Handler returns the HTTP handler serving the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
