// Package metrics provides Prometheus metrics export for the retrieval core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry exports retrieval metrics in Prometheus format.
// All record methods are safe to call on a nil receiver so that metric
// recording can be disabled by wiring a nil registry.
type Registry struct {
	registry *prometheus.Registry

	embeddingLatency  prometheus.Histogram
	embeddingRequests *prometheus.CounterVec
	embeddingCache    *prometheus.CounterVec

	searchLatency prometheus.Histogram
	contextBuilds *prometheus.CounterVec

	indexVectors prometheus.Gauge
}

// Config configures the metrics registry.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}
}

// NewRegistry creates a new metrics registry.
func NewRegistry(cfg Config) *Registry {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	r := &Registry{registry: registry}

	r.embeddingLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tripsense",
		Subsystem: "retrieval",
		Name:      "embedding_latency_seconds",
		Help:      "Embedding request latency in seconds",
		Buckets:   cfg.LatencyBuckets,
	})

	r.embeddingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripsense",
			Subsystem: "retrieval",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"status"},
	)

	r.embeddingCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripsense",
			Subsystem: "retrieval",
			Name:      "embedding_cache_total",
			Help:      "Query embedding cache lookups",
		},
		[]string{"result"},
	)

	r.searchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tripsense",
		Subsystem: "retrieval",
		Name:      "search_latency_seconds",
		Help:      "Vector search latency in seconds",
		Buckets:   cfg.LatencyBuckets,
	})

	r.contextBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripsense",
			Subsystem: "retrieval",
			Name:      "context_builds_total",
			Help:      "Total number of context assembly requests",
		},
		[]string{"status"},
	)

	r.indexVectors = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripsense",
		Subsystem: "retrieval",
		Name:      "index_vectors",
		Help:      "Number of vectors in the serving index",
	})

	registry.MustRegister(
		r.embeddingLatency,
		r.embeddingRequests,
		r.embeddingCache,
		r.searchLatency,
		r.contextBuilds,
		r.indexVectors,
	)

	return r
}

// ObserveEmbedding records one embedding call.
func (r *Registry) ObserveEmbedding(d time.Duration, ok bool) {
	if r == nil {
		return
	}
	r.embeddingLatency.Observe(d.Seconds())
	status := "ok"
	if !ok {
		status = "error"
	}
	r.embeddingRequests.WithLabelValues(status).Inc()
}

// IncEmbeddingCache records a query-embedding cache lookup.
func (r *Registry) IncEmbeddingCache(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.embeddingCache.WithLabelValues(result).Inc()
}

// ObserveSearch records one vector search.
func (r *Registry) ObserveSearch(d time.Duration) {
	if r == nil {
		return
	}
	r.searchLatency.Observe(d.Seconds())
}

// IncContextBuild records one context assembly request.
func (r *Registry) IncContextBuild(status string) {
	if r == nil {
		return
	}
	r.contextBuilds.WithLabelValues(status).Inc()
}

// SetIndexVectors records the serving index size.
func (r *Registry) SetIndexVectors(n int) {
	if r == nil {
		return
	}
	r.indexVectors.Set(float64(n))
}

// Handler returns the HTTP handler exposing the registry.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
