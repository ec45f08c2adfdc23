// Package telemetry holds the Prometheus collectors shared by the harness.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// scoreLatency labels: backend, verdict
	scoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fairscore",
		Subsystem: "backend",
		Name:      "score_duration_seconds",
		Help:      "Time taken to score one applicant record",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"backend", "verdict"})

	// remoteFailures labels: backend
	remoteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fairscore",
		Subsystem: "backend",
		Name:      "remote_failures_total",
		Help:      "Remote generation calls that failed after retries",
	}, []string{"backend"})

	// skippedBackends labels: backend, reason
	skippedBackends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fairscore",
		Subsystem: "evaluation",
		Name:      "skipped_backends_total",
		Help:      "Backends skipped for a run because they were not ready",
	}, []string{"backend", "reason"})

	rowsEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fairscore",
		Subsystem: "evaluation",
		Name:      "rows_total",
		Help:      "Evaluation rows produced",
	})

	// runs labels: status (completed, failed)
	runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fairscore",
		Subsystem: "evaluation",
		Name:      "runs_total",
		Help:      "Evaluation runs by terminal status",
	}, []string{"status"})

	// cacheLookups labels: result (hit, miss)
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fairscore",
		Subsystem: "llm",
		Name:      "cache_lookups_total",
		Help:      "Response cache lookups",
	}, []string{"result"})
)

// RecordScore observes one backend call.
func RecordScore(backend, verdict string, d time.Duration) {
	scoreLatency.WithLabelValues(backend, verdict).Observe(d.Seconds())
}

// RecordRemoteFailure counts a generation call that was absorbed as an error response.
func RecordRemoteFailure(backend string) {
	remoteFailures.WithLabelValues(backend).Inc()
}

// RecordSkippedBackend counts a backend excluded from a run.
func RecordSkippedBackend(backend, reason string) {
	skippedBackends.WithLabelValues(backend, reason).Inc()
}

// RecordRow counts one completed evaluation row.
func RecordRow() {
	rowsEvaluated.Inc()
}

// RecordRun counts a finished run.
func RecordRun(status string) {
	runs.WithLabelValues(status).Inc()
}

// RecordCacheLookup counts a response cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}
