// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landgate_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "landgate_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landgate_submissions_total",
			Help: "Ledger submissions by contract method and outcome",
		},
		[]string{"method", "outcome"},
	)

	submissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "landgate_submission_duration_seconds",
			Help:    "Time from lane pickup to confirmation",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "landgate_queue_depth",
			Help: "Jobs waiting or running in a signer's lane",
		},
		[]string{"signer"},
	)

	lifecycleOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landgate_lifecycle_outcomes_total",
			Help: "Transfer lifecycle actions by outcome",
		},
		[]string{"action", "outcome"},
	)

	authFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landgate_auth_failures_total",
			Help: "Rejected signed requests by reason",
		},
		[]string{"reason"},
	)

	rateLimitRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "landgate_rate_limit_rejected_total",
			Help: "Requests rejected by the per-IP rate limiter",
		},
	)

	panicsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "landgate_panics_recovered_total",
			Help: "Panics recovered by the HTTP server",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func ObserveSubmission(method, outcome string, elapsed time.Duration) {
	submissionsTotal.WithLabelValues(method, outcome).Inc()
	submissionDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func QueueDepth(signer string, delta float64) {
	queueDepth.WithLabelValues(signer).Add(delta)
}

func LifecycleOutcome(action, outcome string) {
	lifecycleOutcomes.WithLabelValues(action, outcome).Inc()
}

func AuthFailure(reason string) {
	authFailures.WithLabelValues(reason).Inc()
}

func RateLimited() {
	rateLimitRejected.Inc()
}

func PanicRecovered() {
	panicsRecovered.Inc()
}
