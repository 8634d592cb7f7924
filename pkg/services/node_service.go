package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/database"
	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/repositories"
)

// NodeService manages the classifier tree. It is the only writer of node rows
// and node version snapshots.
type NodeService interface {
	CreateNode(ctx context.Context, input *models.NodeCreate) (*models.ClassifierNode, error)
	UpdateNode(ctx context.Context, id int64, patch *models.NodeUpdate) (*models.ClassifierNode, error)
	ArchiveNode(ctx context.Context, id int64) (*models.ClassifierNode, error)
	GetNode(ctx context.Context, id int64) (*models.ClassifierNode, error)
	ListNodes(ctx context.Context, filter models.NodeFilter) ([]*models.ClassifierNode, error)
	ListNodeVersions(ctx context.Context, id int64) ([]*models.NodeVersionSnapshot, error)

	// AdoptSchemaVersion moves the node's version counter to a newly published
	// schema version. Counters never decrease: a lower schema version bumps
	// the counter by one instead. Callers invalidate the registry themselves,
	// after their own transaction commits.
	AdoptSchemaVersion(ctx context.Context, nodeID int64, schemaVersion int) (*models.ClassifierNode, error)
}

type nodeService struct {
	nodeRepo repositories.NodeRepository
	tx       database.TxManager
	registry SchemaRegistry
	logger   *zap.Logger
	now      func() time.Time
}

// NewNodeService creates a new NodeService.
func NewNodeService(
	nodeRepo repositories.NodeRepository,
	tx database.TxManager,
	registry SchemaRegistry,
	logger *zap.Logger,
) NodeService {
	return &nodeService{
		nodeRepo: nodeRepo,
		tx:       tx,
		registry: registry,
		logger:   logger.Named("node-service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ NodeService = (*nodeService)(nil)

func (s *nodeService) CreateNode(ctx context.Context, input *models.NodeCreate) (*models.ClassifierNode, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrInvalidInput)
	}
	if !input.NodeType.IsValid() {
		return nil, fmt.Errorf("%w: unknown node type %q", apperrors.ErrInvalidInput, input.NodeType)
	}

	node := &models.ClassifierNode{
		ParentID:      input.ParentID,
		Code:          code,
		Name:          input.Name,
		NodeType:      input.NodeType,
		Version:       1,
		Status:        models.NodeStatusDraft,
		EffectiveFrom: s.now(),
		Metadata:      map[string]any{},
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if input.ParentID != nil {
			parent, err := s.nodeRepo.GetByID(ctx, *input.ParentID)
			if err != nil {
				return err
			}
			node.Depth = parent.Depth + 1
		}

		if err := s.nodeRepo.Create(ctx, node); err != nil {
			return err
		}
		return s.nodeRepo.CreateSnapshot(ctx, node.Snapshot())
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Created classifier node",
		zap.Int64("node_id", node.ID),
		zap.String("code", node.Code),
		zap.String("node_type", string(node.NodeType)))
	return node, nil
}

func (s *nodeService) UpdateNode(ctx context.Context, id int64, patch *models.NodeUpdate) (*models.ClassifierNode, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, fmt.Errorf("%w: name must not be empty", apperrors.ErrInvalidInput)
	}
	if patch.Status != nil && !patch.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown node status %q", apperrors.ErrInvalidInput, *patch.Status)
	}

	node, err := s.mutate(ctx, id, func(node *models.ClassifierNode, now time.Time) bool {
		if patch.Name != nil {
			node.Name = *patch.Name
		}
		if patch.Status != nil {
			node.Status = *patch.Status
			node.IsArchived = node.Status == models.NodeStatusArchived
		}
		if patch.Metadata != nil {
			node.Metadata = patch.Metadata
		}
		node.EffectiveFrom = now
		node.EffectiveTo = patch.EffectiveTo
		return true
	})
	if err != nil {
		return nil, err
	}

	s.registry.Invalidate(ctx, id)
	return node, nil
}

func (s *nodeService) ArchiveNode(ctx context.Context, id int64) (*models.ClassifierNode, error) {
	node, err := s.mutate(ctx, id, func(node *models.ClassifierNode, now time.Time) bool {
		node.Status = models.NodeStatusArchived
		node.IsArchived = true
		node.EffectiveFrom = now
		node.EffectiveTo = &now
		return true
	})
	if err != nil {
		return nil, err
	}

	s.registry.Invalidate(ctx, id)
	s.logger.Info("Archived classifier node", zap.Int64("node_id", id))
	return node, nil
}

func (s *nodeService) AdoptSchemaVersion(ctx context.Context, nodeID int64, schemaVersion int) (*models.ClassifierNode, error) {
	return s.mutate(ctx, nodeID, func(node *models.ClassifierNode, now time.Time) bool {
		if schemaVersion == node.Version {
			return false
		}
		node.EffectiveFrom = now
		node.EffectiveTo = nil
		return true
	}, withTargetVersion(schemaVersion))
}

type mutateOptions struct {
	targetVersion int
}

type mutateOption func(*mutateOptions)

// withTargetVersion makes the mutation land on version v when v is above the
// current version.
func withTargetVersion(v int) mutateOption {
	return func(o *mutateOptions) { o.targetVersion = v }
}

// mutate runs the close/apply/bump/reopen sequence in one transaction. apply
// returns false to leave the node untouched.
func (s *nodeService) mutate(
	ctx context.Context,
	id int64,
	apply func(node *models.ClassifierNode, now time.Time) bool,
	opts ...mutateOption,
) (*models.ClassifierNode, error) {
	var o mutateOptions
	for _, opt := range opts {
		opt(&o)
	}

	var result *models.ClassifierNode
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		node, err := s.nodeRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}

		now := s.now()
		previous := node.Version
		if !apply(node, now) {
			result = node
			return nil
		}

		if err := s.nodeRepo.CloseSnapshot(ctx, node.ID, previous, now); err != nil {
			return err
		}

		node.Version = previous + 1
		if o.targetVersion > previous {
			node.Version = o.targetVersion
		}

		if err := s.nodeRepo.Update(ctx, node); err != nil {
			return err
		}
		if err := s.nodeRepo.CreateSnapshot(ctx, node.Snapshot()); err != nil {
			return err
		}

		result = node
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *nodeService) GetNode(ctx context.Context, id int64) (*models.ClassifierNode, error) {
	return s.nodeRepo.GetByID(ctx, id)
}

func (s *nodeService) ListNodes(ctx context.Context, filter models.NodeFilter) ([]*models.ClassifierNode, error) {
	nodes, err := s.nodeRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []*models.ClassifierNode{}
	}
	return nodes, nil
}

func (s *nodeService) ListNodeVersions(ctx context.Context, id int64) ([]*models.NodeVersionSnapshot, error) {
	if _, err := s.nodeRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	snapshots, err := s.nodeRepo.ListSnapshots(ctx, id)
	if err != nil {
		return nil, err
	}
	if snapshots == nil {
		snapshots = []*models.NodeVersionSnapshot{}
	}
	return snapshots, nil
}
