package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry        *prometheus.Registry
	operationsTotal *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	executionsTotal *prometheus.CounterVec
	replaysTotal    *prometheus.CounterVec
	rateLimited     prometheus.Counter
}

func newMetricsRegistry() *metricsRegistry {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "limitvault_operations_total",
		Help: "Escrow operations by outcome",
	}, []string{"operation", "domain", "result"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "limitvault_operation_duration_seconds",
		Help:    "Latency of escrow operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "domain"})

	executions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "limitvault_executions_total",
		Help: "Limit order executions recorded",
	}, []string{"domain"})

	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "limitvault_idempotent_replays_total",
		Help: "Responses served from the idempotency store",
	}, []string{"operation"})

	limited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "limitvault_rate_limited_total",
		Help: "Requests refused by the per-signer rate limiter",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(ops, duration, executions, replays, limited)

	return &metricsRegistry{
		registry:        r,
		operationsTotal: ops,
		duration:        duration,
		executionsTotal: executions,
		replaysTotal:    replays,
		rateLimited:     limited,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) observe(op, domain, result string, elapsed time.Duration) {
	m.operationsTotal.WithLabelValues(op, domain, result).Inc()
	m.duration.WithLabelValues(op, domain).Observe(elapsed.Seconds())
}

func (m *metricsRegistry) incExecution(domain string) {
	m.executionsTotal.WithLabelValues(domain).Inc()
}

func (m *metricsRegistry) incReplay(op string) {
	m.replaysTotal.WithLabelValues(op).Inc()
}
