package services

import (
	"cmp"
	"math"
	"slices"

	"github.com/uralreduktor/seny/pkg/models"
)

// rankCards scores candidates against the query embedding and orders them by
// confidence, then by the filter's sort column, then by id. Semantic mode
// uses cosine similarity alone. Combined mode averages cosine similarity with
// the trigram similarity already set on each candidate; a missing score
// counts as zero.
func rankCards(candidates []*models.NomenclatureCard, query []float32, filter models.CardFilter) []*models.NomenclatureCard {
	ranked := make([]*models.NomenclatureCard, 0, len(candidates))
	for _, card := range candidates {
		var semantic float64
		if len(card.Embedding) > 0 {
			semantic = cosineSimilarity(query, card.Embedding)
		} else if filter.SearchMode == models.SearchSemantic {
			continue
		}

		confidence := semantic
		if filter.SearchMode == models.SearchCombined {
			var text float64
			if card.SearchConfidence != nil {
				text = *card.SearchConfidence
			}
			confidence = (text + semantic) / 2
		}

		card.SearchConfidence = &confidence
		card.Embedding = nil
		ranked = append(ranked, card)
	}

	slices.SortStableFunc(ranked, func(a, b *models.NomenclatureCard) int {
		if c := cmp.Compare(*b.SearchConfidence, *a.SearchConfidence); c != 0 {
			return c
		}
		var c int
		if filter.Sort == models.CardSortCode {
			c = cmp.Compare(a.Code, b.Code)
		} else {
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		}
		if filter.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return ranked
}

// cosineSimilarity returns 0 when either vector has zero length or norm, or
// when the dimensions differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
