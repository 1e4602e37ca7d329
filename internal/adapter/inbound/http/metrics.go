// Package http provides the HTTP transport adapter: listeners, lifecycle,
// and the middleware pipeline shared by the data and control planes.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the proxy.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimitedHits prometheus.Counter
	AuditDropsTotal prometheus.CounterFunc
	RateLimitKeys   prometheus.GaugeFunc
	ConfigReloads   prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
// auditDropped and limiterSize are sampled at scrape time.
func NewMetrics(reg prometheus.Registerer, auditDropped func() float64, limiterSize func() float64) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relaygate",
				Name:      "requests_total",
				Help:      "Total requests processed, by plane and status class",
			},
			[]string{"plane", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relaygate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"plane"},
		),
		RateLimitedHits: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "relaygate",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the admission limiter",
			},
		),
		AuditDropsTotal: promauto.With(reg).NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: "relaygate",
				Name:      "audit_drops_total",
				Help:      "Audit events dropped due to backpressure",
			},
			auditDropped,
		),
		RateLimitKeys: promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "relaygate",
				Name:      "rate_limit_keys",
				Help:      "Number of tracked rate limit keys",
			},
			limiterSize,
		),
		ConfigReloads: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "relaygate",
				Name:      "config_reloads_total",
				Help:      "Successful configuration reloads",
			},
		),
	}
}
