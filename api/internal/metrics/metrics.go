package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Identification
	IdentifyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafscan_identify_requests_total",
			Help: "Identification requests by provider and outcome",
		},
		[]string{"provider", "outcome"}, // ok, no_plant, quota, invalid, config, upstream, error
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leafscan_upstream_duration_seconds",
			Help:    "Latency of provider calls",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"provider", "operation"},
	)

	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafscan_upstream_errors_total",
			Help: "Provider calls that failed, by status code",
		},
		[]string{"provider", "operation", "status"},
	)

	HealthDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafscan_health_degraded_total",
			Help: "Identifications returned without health data because the health provider failed",
		},
		[]string{"provider"},
	)

	QuotaRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leafscan_quota_rejections_total",
			Help: "Requests rejected by the daily quota",
		},
	)

	// History
	HistoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafscan_history_writes_total",
			Help: "History appends by result",
		},
		[]string{"result"}, // ok, error, dropped
	)

	HistoryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leafscan_history_queue_depth",
			Help: "Records waiting to be written",
		},
	)

	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafscan_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leafscan_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordUpstream records one provider call.
func RecordUpstream(provider, operation string, duration time.Duration, status int) {
	UpstreamDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
	if status != 0 {
		UpstreamErrors.WithLabelValues(provider, operation, strconv.Itoa(status)).Inc()
	}
}

func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
