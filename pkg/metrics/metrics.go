// Package metrics defines the Prometheus collectors for fetching, caching and
// materialization. Collectors are registered on an explicit registry; a nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "opendata"

// Cache lookup results.
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheCorrupt = "corrupt"
)

// Rebuild results.
const (
	RebuildOK      = "ok"
	RebuildFailed  = "failed"
	RebuildSkipped = "skipped"
)

// Metrics holds every collector the pipeline updates.
type Metrics struct {
	FetchPages       *prometheus.CounterVec
	FetchErrors      *prometheus.CounterVec
	FetchInflight    prometheus.Gauge
	FetchDuration    *prometheus.HistogramVec
	CacheRequests    *prometheus.CounterVec
	Rebuilds         *prometheus.CounterVec
	MaterializedRows *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FetchPages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_pages_total",
			Help:      "Pages fetched from upstream APIs.",
		}, []string{"endpoint"}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed upstream requests by error kind.",
		}, []string{"endpoint", "kind"}),
		FetchInflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetch_inflight",
			Help:      "Upstream requests currently in flight.",
		}),
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_request_seconds",
			Help:      "Upstream request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"endpoint"}),
		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Snapshot cache lookups by result.",
		}, []string{"result"}),
		Rebuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "materialize_rebuilds_total",
			Help:      "Table rebuilds by result.",
		}, []string{"table", "result"}),
		MaterializedRows: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "materialize_rows",
			Help:      "Rows written by the last successful rebuild.",
		}, []string{"table"}),
	}
}

// PageFetched counts one fetched page and its latency.
func (m *Metrics) PageFetched(endpoint string, seconds float64) {
	if m == nil {
		return
	}
	m.FetchPages.WithLabelValues(endpoint).Inc()
	m.FetchDuration.WithLabelValues(endpoint).Observe(seconds)
}

// FetchError counts a failed request.
func (m *Metrics) FetchError(endpoint, kind string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(endpoint, kind).Inc()
}

// Inflight adjusts the in-flight gauge by delta.
func (m *Metrics) Inflight(delta float64) {
	if m == nil {
		return
	}
	m.FetchInflight.Add(delta)
}

// CacheResult counts a cache lookup.
func (m *Metrics) CacheResult(result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// Rebuild records a rebuild outcome. rows is applied only on success.
func (m *Metrics) Rebuild(table, result string, rows int) {
	if m == nil {
		return
	}
	m.Rebuilds.WithLabelValues(table, result).Inc()
	if result == RebuildOK {
		m.MaterializedRows.WithLabelValues(table).Set(float64(rows))
	}
}

// Handler serves the collectors registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
