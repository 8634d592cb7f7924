package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/llm"
	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/repositories"
)

const (
	defaultBackfillLimit = 100
	maxBackfillLimit     = 1000
)

// EmbeddingBackfill embeds cards that were stored without an embedding, for
// example while the embedding endpoint was down or not yet configured.
type EmbeddingBackfill interface {
	Run(ctx context.Context, limit int) (*models.EmbeddingBackfillResult, error)
}

type embeddingBackfill struct {
	cardRepo repositories.CardRepository
	embedder llm.Embedder
	pool     *llm.WorkerPool
	logger   *zap.Logger
}

// NewEmbeddingBackfill creates a new EmbeddingBackfill.
func NewEmbeddingBackfill(
	cardRepo repositories.CardRepository,
	embedder llm.Embedder,
	pool *llm.WorkerPool,
	logger *zap.Logger,
) EmbeddingBackfill {
	return &embeddingBackfill{
		cardRepo: cardRepo,
		embedder: embedder,
		pool:     pool,
		logger:   logger.Named("embedding-backfill"),
	}
}

var _ EmbeddingBackfill = (*embeddingBackfill)(nil)

// Run embeds up to limit cards. Per-card failures are counted, not returned;
// the run fails only when the cards cannot be listed or embedding is disabled.
func (b *embeddingBackfill) Run(ctx context.Context, limit int) (*models.EmbeddingBackfillResult, error) {
	switch {
	case limit <= 0:
		limit = defaultBackfillLimit
	case limit > maxBackfillLimit:
		limit = maxBackfillLimit
	}

	if _, ok := b.embedder.(llm.DisabledEmbedder); ok {
		return nil, &llm.EmbeddingError{Kind: llm.ErrorKindDisabled, Message: "semantic search is not configured"}
	}

	cards, err := b.cardRepo.ListMissingEmbedding(ctx, limit)
	if err != nil {
		return nil, err
	}

	// Only the embedding calls run on the pool; the scoped connection is used
	// from this goroutine alone.
	items := make([]llm.WorkItem[[]float32], len(cards))
	for i, card := range cards {
		items[i] = llm.WorkItem[[]float32]{
			ID: card.ID,
			Execute: func(ctx context.Context) ([]float32, error) {
				return b.embedder.Embed(ctx, cardEmbeddingText(card))
			},
		}
	}

	progress := func(done, total int) {
		if done%50 == 0 || done == total {
			b.logger.Debug("Embedding backfill progress", zap.Int("done", done), zap.Int("total", total))
		}
	}

	result := &models.EmbeddingBackfillResult{Scanned: len(cards)}
	for _, r := range llm.Process(ctx, b.pool, items, progress) {
		err := r.Err
		if err == nil {
			err = b.cardRepo.SetEmbedding(ctx, r.ID, r.Result)
		}
		if err == nil {
			result.Embedded++
			continue
		}

		result.Failed++
		var embErr *llm.EmbeddingError
		if errors.As(err, &embErr) && embErr.Kind == llm.ErrorKindUnavailable {
			continue
		}
		b.logger.Warn("Failed to backfill card embedding",
			zap.Int64("card_id", r.ID),
			zap.Error(err))
	}

	b.logger.Info("Embedding backfill finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("embedded", result.Embedded),
		zap.Int("failed", result.Failed))
	return result, nil
}
