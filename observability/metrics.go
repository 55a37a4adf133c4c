package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics aggregates the counters and histograms recorded by the
// connector: outbound gateway round-trips, signing activity, token cache
// behaviour, and merchant-facing HTTP traffic.
type GatewayMetrics struct {
	Requests       *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	TokenRefresh   *prometheus.CounterVec
	SignOps        *prometheus.CounterVec
	DegradedRandom prometheus.Counter
	HTTPRequests   *prometheus.CounterVec
}

var (
	gatewayOnce     sync.Once
	gatewayRegistry *GatewayMetrics
)

// Gateway returns the lazily-initialised metrics registry shared by every
// component of the connector.
func Gateway() *GatewayMetrics {
	gatewayOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "momogw",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Outbound gateway calls segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "momogw",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for outbound gateway calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			TokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "momogw",
				Subsystem: "token",
				Name:      "refresh_total",
				Help:      "Token cache refreshes segmented by outcome.",
			}, []string{"outcome"}),
			SignOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "momogw",
				Subsystem: "signing",
				Name:      "operations_total",
				Help:      "Sign and verify operations segmented by kind and outcome.",
			}, []string{"kind", "outcome"}),
			DegradedRandom: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "momogw",
				Subsystem: "signing",
				Name:      "degraded_random_total",
				Help:      "Nonce generations that fell back to a non-cryptographic source.",
			}),
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "momogw",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Merchant API requests segmented by route and status code.",
			}, []string{"route", "status"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.Requests,
			gatewayRegistry.RequestLatency,
			gatewayRegistry.TokenRefresh,
			gatewayRegistry.SignOps,
			gatewayRegistry.DegradedRandom,
			gatewayRegistry.HTTPRequests,
		)
	})
	return gatewayRegistry
}

// ObserveGatewayCall records one outbound gateway round-trip.
func (m *GatewayMetrics) ObserveGatewayCall(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Requests.WithLabelValues(operation, outcome).Inc()
	m.RequestLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveHTTP records a merchant API request outcome.
func (m *GatewayMetrics) ObserveHTTP(route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
