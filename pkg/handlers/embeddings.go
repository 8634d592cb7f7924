package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/services"
)

// EmbeddingHandler exposes maintenance operations on card embeddings.
type EmbeddingHandler struct {
	backfill services.EmbeddingBackfill
	logger   *zap.Logger
}

// NewEmbeddingHandler creates a new embedding handler.
func NewEmbeddingHandler(backfill services.EmbeddingBackfill, logger *zap.Logger) *EmbeddingHandler {
	return &EmbeddingHandler{
		backfill: backfill,
		logger:   logger,
	}
}

// RegisterRoutes registers the embedding handler's routes on the given mux.
func (h *EmbeddingHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	mux.HandleFunc("POST /api/cards/embeddings/backfill", scope(h.Backfill))
}

// Backfill handles POST /api/cards/embeddings/backfill?limit=N
func (h *EmbeddingHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt64(w, r, "limit", h.logger)
	if !ok {
		return
	}
	n := 0
	if limit != nil {
		n = int(*limit)
	}

	result, err := h.backfill.Run(r.Context(), n)
	if err != nil {
		writeServiceError(w, err, "embedding_backfill_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, result, h.logger)
}
