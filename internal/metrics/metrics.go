// Package metrics owns the Prometheus registry of the content service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Commit outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeNoOp      = "noop"
	OutcomeConflict  = "conflict"
	OutcomeFailed    = "failed"
)

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	commits        *prometheus.CounterVec
	conflicts      prometheus.Counter
	commitDuration *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_commits_total",
			Help: "Content operations by outcome",
		}, []string{"operation", "outcome"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "content_commit_conflicts_total",
			Help: "Ref updates rejected because the branch moved",
		}),
		commitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "content_commit_duration_seconds",
			Help:    "Wall time of content operations, including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"operation"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP server's handled requests",
		}, []string{"code", "method"}),
	}

	reg.MustRegister(m.commits, m.conflicts, m.commitDuration, m.httpRequests)

	return m
}

// ObserveCommit records the outcome and duration of one content operation.
func (m *Metrics) ObserveCommit(operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(operation, outcome).Inc()
	m.commitDuration.WithLabelValues(operation).Observe(took.Seconds())
}

// IncConflict counts one rejected ref update.
func (m *Metrics) IncConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware counts handled requests by status code and method.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats := httpsnoop.CaptureMetrics(next, w, r)

		m.httpRequests.With(prometheus.Labels{
			"code":   strconv.Itoa(stats.Code),
			"method": r.Method,
		}).Inc()
	})
}
