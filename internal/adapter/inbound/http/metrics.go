// Package http provides the HTTP transport adapter for the gateway.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	MessagesTotal      *prometheus.CounterVec
	FindingsTotal      *prometheus.CounterVec
	BackendErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
// sessionCount feeds the active_sessions gauge lazily so scraping never
// touches gateway locks beyond a read.
func NewMetrics(reg prometheus.Registerer, sessionCount func() int) *Metrics {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "arena_gateway",
			Name:      "active_sessions",
			Help:      "Number of active client sessions",
		},
		func() float64 { return float64(sessionCount()) },
	))

	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arena_gateway",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // method=POST/GET, status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "arena_gateway",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		MessagesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arena_gateway",
				Name:      "messages_total",
				Help:      "Total protocol messages processed",
			},
			[]string{"outcome"}, // delivered/local_error/malformed
		),
		FindingsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arena_gateway",
				Name:      "findings_total",
				Help:      "Total detection findings on inbound traffic",
			},
			[]string{"rule"},
		),
		BackendErrorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arena_gateway",
				Name:      "backend_errors_total",
				Help:      "Gateway-constructed protocol errors by code",
			},
			[]string{"code"},
		),
	}
}
