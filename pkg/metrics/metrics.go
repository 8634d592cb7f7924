// Package metrics exposes Prometheus collectors for the HTTP surface, the
// resolved-schema cache and the embedding client.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uralreduktor/seny/pkg/cache"
	"github.com/uralreduktor/seny/pkg/llm"
)

const namespace = "seny"

// Metrics owns a private registry and the service's collectors.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
	embeddings   *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_cache_lookups_total",
			Help:      "Resolved-schema cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding requests by outcome (ok or the failure kind).",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.cacheLookups,
		m.embeddings,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterRoutes mounts GET /metrics.
func (m *Metrics) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /metrics", m.Handler())
}

// Middleware records request counts and latency. It must wrap the ServeMux
// directly: the route label is read from r.Pattern, which the mux sets on the
// request it is handed.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
			m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ============================================================================
// Schema cache
// ============================================================================

type instrumentedCache struct {
	cache.SchemaCache
	lookups *prometheus.CounterVec
}

// InstrumentCache counts the hits, misses and backend errors of c.
func (m *Metrics) InstrumentCache(c cache.SchemaCache) cache.SchemaCache {
	return &instrumentedCache{SchemaCache: c, lookups: m.cacheLookups}
}

func (c *instrumentedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := c.SchemaCache.Get(ctx, key)
	switch {
	case err != nil:
		c.lookups.WithLabelValues("error").Inc()
	case ok:
		c.lookups.WithLabelValues("hit").Inc()
	default:
		c.lookups.WithLabelValues("miss").Inc()
	}
	return value, ok, err
}

// ============================================================================
// Embeddings
// ============================================================================

type instrumentedEmbedder struct {
	llm.Embedder
	outcomes *prometheus.CounterVec
}

// InstrumentEmbedder counts the outcomes of e. The disabled embedder is
// returned unchanged so callers can still recognize it.
func (m *Metrics) InstrumentEmbedder(e llm.Embedder) llm.Embedder {
	if _, ok := e.(llm.DisabledEmbedder); ok {
		return e
	}
	return &instrumentedEmbedder{Embedder: e, outcomes: m.embeddings}
}

func (e *instrumentedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.Embedder.Embed(ctx, text)
	if err == nil {
		e.outcomes.WithLabelValues("ok").Inc()
		return vector, nil
	}

	outcome := string(llm.ErrorKindUnknown)
	var embErr *llm.EmbeddingError
	if errors.As(err, &embErr) {
		outcome = string(embErr.Kind)
	}
	e.outcomes.WithLabelValues(outcome).Inc()
	return nil, err
}
