// Package metrics exposes helper process metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	// HelperRequests counts embedder requests answered by the helper.
	HelperRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushbridge_helper_requests_total",
			Help: "Embedder requests answered by the helper, by topic and outcome",
		},
		[]string{"topic", "outcome"},
	)

	// HelperRequestSeconds tracks time from request to reply.
	HelperRequestSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pushbridge_helper_request_seconds",
			Help:    "Time from embedder request to helper reply in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	// WorkerQueriesInFlight is the number of relayed worker queries
	// awaiting the worker's reply.
	WorkerQueriesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pushbridge_worker_queries_in_flight",
			Help: "Worker queries relayed by the helper and not yet answered",
		},
	)
)

// ObserveRequest records one answered request.
func ObserveRequest(topic, outcome string, started time.Time) {
	HelperRequests.WithLabelValues(topic, outcome).Inc()
	HelperRequestSeconds.WithLabelValues(topic).Observe(time.Since(started).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
