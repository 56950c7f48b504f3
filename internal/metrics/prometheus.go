// Package metrics provides observability primitives for the gateway:
// Prometheus collectors, OpenTelemetry tracing setup, and the in-memory
// performance collector behind the management API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	CooldownTrips    *prometheus.CounterVec
	QuotaRejects     *prometheus.CounterVec
	TokensProcessed  *prometheus.CounterVec
	TraceQueueLength prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plexus",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "plexus",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "plexus",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "plexus",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream provider call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"provider", "model"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plexus",
			Name:      "upstream_errors_total",
			Help:      "Total upstream provider errors.",
		}, []string{"provider", "status"}),

		CooldownTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plexus",
			Name:      "cooldown_trips_total",
			Help:      "Total provider cooldown activations.",
		}, []string{"provider", "reason"}),

		QuotaRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plexus",
			Name:      "quota_rejects_total",
			Help:      "Total requests rejected by quota admission.",
		}, []string{"checker"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plexus",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "type"}),

		TraceQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "plexus",
			Name:      "trace_queue_length",
			Help:      "Current number of queued trace records.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.CooldownTrips,
		m.QuotaRejects,
		m.TokensProcessed,
		m.TraceQueueLength,
	)

	return m
}
