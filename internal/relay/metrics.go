package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the relay.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	UpstreamLatency prometheus.Histogram
	UpstreamBytes   prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipnest_relay_requests_total",
			Help: "Relay requests by outcome.",
		},
		[]string{"outcome"},
	)
	latency := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clipnest_relay_upstream_duration_seconds",
			Help:    "Latency of upstream fetches made by the relay.",
			Buckets: prometheus.DefBuckets,
		},
	)
	upstreamBytes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clipnest_relay_upstream_bytes_total",
			Help: "Bytes relayed back to callers.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipnest_relay_errors_total",
			Help: "Relay errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, latency, upstreamBytes, errorsTotal)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		UpstreamLatency: latency,
		UpstreamBytes:   upstreamBytes,
		ErrorsTotal:     errorsTotal,
	}
}

// IncRequest counts one relay request with the given outcome ("ok" or "error").
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveUpstream records an upstream fetch duration.
func (m *Metrics) ObserveUpstream(d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamLatency.Observe(d.Seconds())
}

// AddBytes counts relayed body bytes.
func (m *Metrics) AddBytes(n int) {
	if m == nil {
		return
	}
	m.UpstreamBytes.Add(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
