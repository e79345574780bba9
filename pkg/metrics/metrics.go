// Package metrics holds the collector's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "probehub"

// Metrics is a set of instruments bound to their own registry, so several
// servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	IngestRequestsTotal *prometheus.CounterVec
	IngestDuration      prometheus.Histogram
	QueryRequestsTotal  *prometheus.CounterVec
}

// New creates and registers all instruments plus the Go runtime and process
// collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		IngestRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_requests_total",
			Help:      "Total number of ingestion requests by outcome",
		}, []string{"outcome"}),
		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Histogram of ingestion request durations",
			Buckets:   prometheus.DefBuckets,
		}),
		QueryRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_requests_total",
			Help:      "Total number of dashboard queries by endpoint and status code",
		}, []string{"endpoint", "status"}),
	}
}

// ObserveIngest records one ingestion outcome and its latency. A nil
// receiver records nothing.
func (m *Metrics) ObserveIngest(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.IngestRequestsTotal.WithLabelValues(outcome).Inc()
	m.IngestDuration.Observe(time.Since(started).Seconds())
}

// ObserveQuery counts one dashboard query.
func (m *Metrics) ObserveQuery(endpoint, status string) {
	if m == nil {
		return
	}
	m.QueryRequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
