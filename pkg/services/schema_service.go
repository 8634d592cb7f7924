package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/database"
	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/repositories"
	"github.com/uralreduktor/seny/pkg/schemadoc"
)

// SchemaService manages versioned class schemas: drafting, publishing and
// the publish-time diff trail.
type SchemaService interface {
	// CreateVersion allocates the node's next schema version as a draft.
	// Include presets are linked first, then exclude presets, each in the
	// given order.
	CreateVersion(ctx context.Context, nodeID int64, draft *models.SchemaDraft, authorID *uuid.UUID) (*models.SchemaVersion, error)

	// PublishVersion publishes a schema version, adopts its number as the
	// node's version, records the diff against the previous published version
	// and invalidates the registry for the node's subtree. Publishing an
	// already published version only re-runs the invalidation.
	PublishVersion(ctx context.Context, nodeID int64, version int, actorID *uuid.UUID) (*models.SchemaVersion, error)

	GetVersion(ctx context.Context, nodeID int64, version int) (*models.SchemaVersion, error)
	ListVersions(ctx context.Context, nodeID int64) ([]*models.SchemaVersion, error)
	GetDiff(ctx context.Context, nodeID int64, version int) (*models.SchemaDiffRecord, error)
	ResolveSchema(ctx context.Context, nodeID int64) (*models.SchemaEntry, error)
}

type schemaService struct {
	nodeRepo   repositories.NodeRepository
	schemaRepo repositories.SchemaVersionRepository
	presetRepo repositories.PresetRepository
	auditRepo  repositories.AuditRepository
	nodeSvc    NodeService
	registry   SchemaRegistry
	tx         database.TxManager
	logger     *zap.Logger
	now        func() time.Time
}

// NewSchemaService creates a new SchemaService.
func NewSchemaService(
	nodeRepo repositories.NodeRepository,
	schemaRepo repositories.SchemaVersionRepository,
	presetRepo repositories.PresetRepository,
	auditRepo repositories.AuditRepository,
	nodeSvc NodeService,
	registry SchemaRegistry,
	tx database.TxManager,
	logger *zap.Logger,
) SchemaService {
	return &schemaService{
		nodeRepo:   nodeRepo,
		schemaRepo: schemaRepo,
		presetRepo: presetRepo,
		auditRepo:  auditRepo,
		nodeSvc:    nodeSvc,
		registry:   registry,
		tx:         tx,
		logger:     logger.Named("schema-service"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

var _ SchemaService = (*schemaService)(nil)

func (s *schemaService) CreateVersion(ctx context.Context, nodeID int64, draft *models.SchemaDraft, authorID *uuid.UUID) (*models.SchemaVersion, error) {
	doc := draft.Document
	if doc == nil {
		doc = schemadoc.Document{}
	}
	if _, err := schemadoc.Compile(doc); err != nil {
		return nil, err
	}

	links := make([]models.PresetLink, 0, len(draft.PresetIDs)+len(draft.ExcludePresetIDs))
	for _, id := range draft.PresetIDs {
		links = append(links, models.PresetLink{PresetID: id, Mode: models.PresetModeInclude, Position: len(links)})
	}
	for _, id := range draft.ExcludePresetIDs {
		links = append(links, models.PresetLink{PresetID: id, Mode: models.PresetModeExclude, Position: len(links)})
	}

	sv := &models.SchemaVersion{
		NodeID:    nodeID,
		Status:    models.SchemaStatusDraft,
		Document:  doc,
		Comment:   draft.Comment,
		CreatedBy: authorID,
		Presets:   links,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// The node lock serializes version allocation per node.
		if _, err := s.nodeRepo.GetByIDForUpdate(ctx, nodeID); err != nil {
			return err
		}

		if err := s.attachPresets(ctx, sv.Presets); err != nil {
			return err
		}

		maxVersion, err := s.schemaRepo.MaxVersion(ctx, nodeID)
		if err != nil {
			return err
		}
		sv.Version = maxVersion + 1

		return s.schemaRepo.Create(ctx, sv)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Created schema version",
		zap.Int64("node_id", nodeID),
		zap.Int("version", sv.Version),
		zap.Int("presets", len(sv.Presets)))
	return sv, nil
}

// attachPresets loads every linked preset, rejecting unknown and archived ones.
func (s *schemaService) attachPresets(ctx context.Context, links []models.PresetLink) error {
	if len(links) == 0 {
		return nil
	}

	ids := make([]int64, len(links))
	for i, link := range links {
		ids[i] = link.PresetID
	}

	presets, err := s.presetRepo.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}

	for i := range links {
		preset, ok := presets[links[i].PresetID]
		if !ok {
			return fmt.Errorf("preset %d: %w", links[i].PresetID, apperrors.ErrNotFound)
		}
		if preset.Status == models.SchemaStatusArchived {
			return fmt.Errorf("preset %q is archived: %w", preset.Code, apperrors.ErrConflict)
		}
		links[i].Preset = preset
	}
	return nil
}

func (s *schemaService) PublishVersion(ctx context.Context, nodeID int64, version int, actorID *uuid.UUID) (*models.SchemaVersion, error) {
	var published *models.SchemaVersion
	firstPublish := false

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.nodeRepo.GetByIDForUpdate(ctx, nodeID); err != nil {
			return err
		}

		sv, err := s.schemaRepo.GetByNodeVersion(ctx, nodeID, version)
		if err != nil {
			return err
		}

		switch sv.Status {
		case models.SchemaStatusPublished:
			published = sv
			return nil
		case models.SchemaStatusArchived:
			return fmt.Errorf("schema version %d is archived: %w", version, apperrors.ErrConflict)
		}

		now := s.now()
		if err := s.schemaRepo.MarkPublished(ctx, sv.ID, now); err != nil {
			return err
		}
		sv.Status = models.SchemaStatusPublished
		sv.PublishedAt = &now

		var baseline schemadoc.Document
		previous, err := s.schemaRepo.GetPreviousPublished(ctx, nodeID, version)
		switch {
		case err == nil:
			baseline = previous.Document
		case !errors.Is(err, apperrors.ErrNotFound):
			return err
		}

		diff := schemadoc.ComputeDiff(baseline, sv.Document)
		if err := s.schemaRepo.CreateDiff(ctx, &models.SchemaDiffRecord{
			SchemaID: sv.ID,
			NodeID:   nodeID,
			Version:  version,
			Diff:     diff,
			AuthorID: sv.CreatedBy,
		}); err != nil {
			return err
		}

		if _, err := s.nodeSvc.AdoptSchemaVersion(ctx, nodeID, version); err != nil {
			return err
		}

		if err := s.auditRepo.Create(ctx, &models.AuditLogEntry{
			EntityType: models.AuditEntityClassSchema,
			EntityID:   sv.ID,
			Action:     models.AuditActionSchemaPublish,
			ActorID:    actorID,
			Details: map[string]any{
				"node_id": nodeID,
				"version": version,
				"added":   len(diff.Added),
				"removed": len(diff.Removed),
				"changed": len(diff.Changed),
			},
		}); err != nil {
			return err
		}

		published = sv
		firstPublish = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.registry.InvalidateSubtree(ctx, nodeID)

	if firstPublish {
		s.logger.Info("Published schema version",
			zap.Int64("node_id", nodeID),
			zap.Int("version", version))
	}
	return published, nil
}

func (s *schemaService) GetVersion(ctx context.Context, nodeID int64, version int) (*models.SchemaVersion, error) {
	return s.schemaRepo.GetByNodeVersion(ctx, nodeID, version)
}

func (s *schemaService) ListVersions(ctx context.Context, nodeID int64) ([]*models.SchemaVersion, error) {
	if _, err := s.nodeRepo.GetByID(ctx, nodeID); err != nil {
		return nil, err
	}
	versions, err := s.schemaRepo.ListByNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []*models.SchemaVersion{}
	}
	return versions, nil
}

func (s *schemaService) GetDiff(ctx context.Context, nodeID int64, version int) (*models.SchemaDiffRecord, error) {
	return s.schemaRepo.GetDiff(ctx, nodeID, version)
}

func (s *schemaService) ResolveSchema(ctx context.Context, nodeID int64) (*models.SchemaEntry, error) {
	return s.registry.GetEntry(ctx, nodeID)
}
