package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/llm"
	"github.com/uralreduktor/seny/pkg/models"
)

func newEmbeddingMux(svc *mockBackfill) *http.ServeMux {
	mux := http.NewServeMux()
	NewEmbeddingHandler(svc, zap.NewNop()).RegisterRoutes(mux, passthrough)
	return mux
}

func TestEmbeddingHandler_Backfill(t *testing.T) {
	svc := &mockBackfill{result: &models.EmbeddingBackfillResult{Scanned: 4, Embedded: 3, Failed: 1}}

	req := httptest.NewRequest(http.MethodPost, "/api/cards/embeddings/backfill?limit=50", nil)
	rec := httptest.NewRecorder()
	newEmbeddingMux(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, svc.limit)

	var resp struct {
		Success bool                           `json:"success"`
		Data    models.EmbeddingBackfillResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.Data.Embedded)
}

func TestEmbeddingHandler_Backfill_DefaultLimit(t *testing.T) {
	svc := &mockBackfill{result: &models.EmbeddingBackfillResult{}}

	req := httptest.NewRequest(http.MethodPost, "/api/cards/embeddings/backfill", nil)
	rec := httptest.NewRecorder()
	newEmbeddingMux(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, svc.limit)
}

func TestEmbeddingHandler_Backfill_Errors(t *testing.T) {
	t.Run("bad limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/cards/embeddings/backfill?limit=all", nil)
		rec := httptest.NewRecorder()
		newEmbeddingMux(&mockBackfill{}).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("embedding disabled", func(t *testing.T) {
		svc := &mockBackfill{err: &llm.EmbeddingError{Kind: llm.ErrorKindDisabled, Message: "off"}}
		req := httptest.NewRequest(http.MethodPost, "/api/cards/embeddings/backfill", nil)
		rec := httptest.NewRecorder()
		newEmbeddingMux(svc).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "embedding_failed")
	})
}
