package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flightsurety",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flightsurety",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flightsurety",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)
	oracleResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flightsurety",
			Subsystem: "oracle",
			Name:      "responses_total",
			Help:      "Accepted oracle responses by reported status.",
		},
		[]string{"status"},
	)
	resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flightsurety",
			Subsystem: "oracle",
			Name:      "resolutions_total",
			Help:      "Flight status resolutions by final status.",
		},
		[]string{"status"},
	)
	payouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flightsurety",
			Subsystem: "insurance",
			Name:      "payout_subunits_total",
			Help:      "Sub-units paid out to passengers.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, operations, oracleResponses, resolutions, payouts)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordOperation counts an engine call; outcome is "ok" or an error kind.
func RecordOperation(operation, outcome string) {
	RegisterMetrics()
	operations.WithLabelValues(operation, outcome).Inc()
}

func RecordOracleResponse(status string) {
	RegisterMetrics()
	oracleResponses.WithLabelValues(status).Inc()
}

func RecordResolution(status string) {
	RegisterMetrics()
	resolutions.WithLabelValues(status).Inc()
}

func RecordPayout(subunits int64) {
	RegisterMetrics()
	payouts.Add(float64(subunits))
}
