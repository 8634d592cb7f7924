package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uralreduktor/seny/pkg/cache"
	"github.com/uralreduktor/seny/pkg/llm"
)

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/cards/{cid}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := m.Middleware()(mux)

	for _, path := range []string{"/api/cards/1", "/api/cards/2", "/nowhere"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "GET /api/cards/{cid}", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	m.RegisterRoutes(mux)
	m.cacheLookups.WithLabelValues("hit").Inc()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `seny_schema_cache_lookups_total{result="hit"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}

type brokenCache struct{ cache.SchemaCache }

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func TestInstrumentCache(t *testing.T) {
	m := New()
	ctx := context.Background()
	c := m.InstrumentCache(cache.NewMemoryCache())

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetWithTTL(ctx, "k", []byte("v"), time.Minute))
	value, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	_, _, err = m.InstrumentCache(brokenCache{}).Get(ctx, "k")
	assert.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("error")))
}

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return s.vector, s.err
}

func TestInstrumentEmbedder(t *testing.T) {
	m := New()
	ctx := context.Background()

	_, err := m.InstrumentEmbedder(stubEmbedder{vector: []float32{1}}).Embed(ctx, "pump")
	require.NoError(t, err)

	_, err = m.InstrumentEmbedder(stubEmbedder{err: &llm.EmbeddingError{Kind: llm.ErrorKindRateLimit}}).Embed(ctx, "pump")
	require.Error(t, err)

	_, err = m.InstrumentEmbedder(stubEmbedder{err: errors.New("weird")}).Embed(ctx, "pump")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.embeddings.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.embeddings.WithLabelValues("rate_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.embeddings.WithLabelValues("unknown")))
}

func TestInstrumentEmbedder_KeepsDisabled(t *testing.T) {
	m := New()
	_, ok := m.InstrumentEmbedder(llm.DisabledEmbedder{}).(llm.DisabledEmbedder)
	assert.True(t, ok)
}
