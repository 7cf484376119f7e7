package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's prometheus collectors on a private registry,
// so tests can build handlers without fighting over the global one.
type Metrics struct {
	registry *prometheus.Registry

	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	pqFailures *prometheus.CounterVec

	ingestJobs  prometheus.Counter
	ingestBytes prometheus.Counter
	pins        prometheus.Counter
	unpins      prometheus.Counter
}

// NewMetrics registers all gateway collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "HTTP requests by route, method, and status.",
		}, []string{"route", "method", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		pqFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_pq_failures_total",
			Help: "PQ envelope failures by error kind.",
		}, []string{"kind"}),
		ingestJobs: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ingest_jobs_total",
			Help: "Accepted CAR upload jobs.",
		}),
		ingestBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ingest_bytes_total",
			Help: "Accepted CAR upload bytes.",
		}),
		pins: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_pins_total",
			Help: "Successful pin operations.",
		}),
		unpins: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_unpins_total",
			Help: "Successful unpin operations.",
		}),
	}
}
