// Package metrics holds the Prometheus collectors for the import and export
// pipeline. Collectors register with the default registry on package init
// and are served by promhttp on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "boardsheet"

var (
	// importJobs counts finished jobs.
	// Labels: mode (merge, overwrite), state (COMPLETED, FAILED)
	importJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "jobs_total",
		Help:      "Import jobs by terminal state",
	}, []string{"mode", "state"})

	// importRows counts processed rows.
	// Labels: outcome (success, failure)
	importRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "rows_total",
		Help:      "Imported rows by outcome",
	}, []string{"outcome"})

	importChunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "chunk_duration_seconds",
		Help:      "Time to persist one chunk transaction",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	importJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "job_duration_seconds",
		Help:      "Wall time from job start to terminal state",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"mode"})

	importActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "active_jobs",
		Help:      "Import jobs currently running",
	})

	// importRejected counts uploads refused before a job was created.
	// Labels: reason (the user message code, e.g. FILE002)
	importRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "rejected_total",
		Help:      "Uploads rejected during synchronous validation",
	}, []string{"reason"})

	exportRows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "export",
		Name:      "rows_total",
		Help:      "Rows written to exported workbooks",
	})

	exportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "export",
		Name:      "duration_seconds",
		Help:      "Time to build and stream one export",
		Buckets:   prometheus.DefBuckets,
	})

	// publishFailures counts events the publisher could not deliver.
	// Labels: sink (hub, redis)
	publishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "publish_failures_total",
		Help:      "Events that failed to publish",
	}, []string{"sink"})

	// httpRequests observes API latency.
	// Labels: route (chi pattern), method, status
	httpRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests refused by the per-IP rate limiter",
	}, []string{"tier"})

	streamClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "stream_clients",
		Help:      "Open progress streams",
	}, []string{"transport"})
)

// JobStarted marks a worker as running.
func JobStarted() { importActive.Inc() }

// JobFinished records a terminal job.
func JobFinished(mode, state string, elapsed time.Duration) {
	importActive.Dec()
	importJobs.WithLabelValues(mode, state).Inc()
	importJobDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// RowsProcessed adds chunk outcomes.
func RowsProcessed(success, failure int) {
	importRows.WithLabelValues("success").Add(float64(success))
	importRows.WithLabelValues("failure").Add(float64(failure))
}

// ChunkPersisted observes one chunk transaction.
func ChunkPersisted(elapsed time.Duration) { importChunkDuration.Observe(elapsed.Seconds()) }

// UploadRejected counts a synchronous rejection.
func UploadRejected(code string) { importRejected.WithLabelValues(code).Inc() }

// ExportFinished records one export.
func ExportFinished(rows int, elapsed time.Duration) {
	exportRows.Add(float64(rows))
	exportDuration.Observe(elapsed.Seconds())
}

// PublishFailed counts an undelivered event.
func PublishFailed(sink string) { publishFailures.WithLabelValues(sink).Inc() }

// ObserveRequest records one HTTP request. Unmatched routes use "unmatched".
func ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// RateLimited counts a refused request for tier (default, upload).
func RateLimited(tier string) { rateLimited.WithLabelValues(tier).Inc() }

// StreamOpened tracks an SSE or WebSocket client; call the returned func on close.
func StreamOpened(transport string) func() {
	g := streamClients.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}
