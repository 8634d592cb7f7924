package services

import (
	"context"
	"errors"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/repositories"
)

// CollectClassificationCodes walks from node up to the root and records each
// ancestor's code in the slot for its node type. When two nodes on the chain
// share a type, the one closer to the root wins. Cycles and dangling parent
// references end the walk.
func CollectClassificationCodes(ctx context.Context, nodeRepo repositories.NodeRepository, node *models.ClassifierNode) (models.ClassificationCodes, error) {
	var codes models.ClassificationCodes
	visited := make(map[int64]bool)

	for current := node; current != nil && !visited[current.ID]; {
		visited[current.ID] = true

		code := current.Code
		switch current.NodeType {
		case models.NodeTypeSegment:
			codes.SegmentCode = &code
		case models.NodeTypeFamily:
			codes.FamilyCode = &code
		case models.NodeTypeClass:
			codes.ClassCode = &code
		case models.NodeTypeCategory:
			codes.CategoryCode = &code
		}

		if current.ParentID == nil {
			break
		}
		parent, err := nodeRepo.GetByID(ctx, *current.ParentID)
		if errors.Is(err, apperrors.ErrNotFound) {
			break
		}
		if err != nil {
			return models.ClassificationCodes{}, err
		}
		current = parent
	}

	return codes, nil
}
