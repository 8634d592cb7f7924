package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/database"
	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/repositories"
	"github.com/uralreduktor/seny/pkg/schemadoc"
)

// PresetService manages reusable attribute schema fragments.
type PresetService interface {
	CreatePreset(ctx context.Context, input *models.PresetCreate) (*models.AttributePreset, error)
	GetPreset(ctx context.Context, id int64) (*models.AttributePreset, error)
	ListPresets(ctx context.Context, status *models.SchemaStatus) ([]*models.AttributePreset, error)
	// UpdatePreset applies the patch. A document change invalidates every
	// node whose published schema links the preset.
	UpdatePreset(ctx context.Context, id int64, patch *models.PresetUpdate) (*models.AttributePreset, error)
	// ArchivePreset stops the preset from being linked to new drafts.
	// Existing links keep applying.
	ArchivePreset(ctx context.Context, id int64) (*models.AttributePreset, error)
}

type presetService struct {
	presetRepo repositories.PresetRepository
	schemaRepo repositories.SchemaVersionRepository
	registry   SchemaRegistry
	tx         database.TxManager
	logger     *zap.Logger
}

// NewPresetService creates a new PresetService.
func NewPresetService(
	presetRepo repositories.PresetRepository,
	schemaRepo repositories.SchemaVersionRepository,
	registry SchemaRegistry,
	tx database.TxManager,
	logger *zap.Logger,
) PresetService {
	return &presetService{
		presetRepo: presetRepo,
		schemaRepo: schemaRepo,
		registry:   registry,
		tx:         tx,
		logger:     logger.Named("preset-service"),
	}
}

var _ PresetService = (*presetService)(nil)

func (s *presetService) CreatePreset(ctx context.Context, input *models.PresetCreate) (*models.AttributePreset, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", apperrors.ErrInvalidInput)
	}

	doc := input.Document
	if doc == nil {
		doc = schemadoc.Document{}
	}
	if _, err := schemadoc.Compile(doc); err != nil {
		return nil, err
	}

	version := input.Version
	if version <= 0 {
		version = 1
	}

	preset := &models.AttributePreset{
		Code:        code,
		Title:       input.Title,
		Description: input.Description,
		Document:    doc,
		Version:     version,
		Status:      models.SchemaStatusPublished,
	}
	if err := s.presetRepo.Create(ctx, preset); err != nil {
		return nil, err
	}

	s.logger.Info("Created attribute preset",
		zap.Int64("preset_id", preset.ID),
		zap.String("code", preset.Code))
	return preset, nil
}

func (s *presetService) GetPreset(ctx context.Context, id int64) (*models.AttributePreset, error) {
	return s.presetRepo.GetByID(ctx, id)
}

func (s *presetService) ListPresets(ctx context.Context, status *models.SchemaStatus) ([]*models.AttributePreset, error) {
	if status != nil && !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrInvalidInput, *status)
	}
	presets, err := s.presetRepo.List(ctx, status)
	if err != nil {
		return nil, err
	}
	if presets == nil {
		presets = []*models.AttributePreset{}
	}
	return presets, nil
}

func (s *presetService) UpdatePreset(ctx context.Context, id int64, patch *models.PresetUpdate) (*models.AttributePreset, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, fmt.Errorf("%w: title must not be empty", apperrors.ErrInvalidInput)
	}
	if patch.Document != nil {
		if _, err := schemadoc.Compile(patch.Document); err != nil {
			return nil, err
		}
	}

	var preset *models.AttributePreset
	var affected []int64

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		preset, err = s.presetRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}

		documentChanged := false
		if patch.Title != nil {
			preset.Title = *patch.Title
		}
		if patch.Description != nil {
			preset.Description = patch.Description
		}
		if patch.Document != nil {
			documentChanged = !schemadoc.Equal(preset.Document, patch.Document)
			preset.Document = patch.Document
		}
		if patch.Version != nil {
			preset.Version = *patch.Version
		}

		if err := s.presetRepo.Update(ctx, preset); err != nil {
			return err
		}

		if documentChanged {
			affected, err = s.schemaRepo.ListNodeIDsByPreset(ctx, id)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, nodeID := range affected {
		s.registry.InvalidateSubtree(ctx, nodeID)
	}
	if len(affected) > 0 {
		s.logger.Info("Preset document changed, invalidated linked schemas",
			zap.Int64("preset_id", id),
			zap.Int("nodes", len(affected)))
	}
	return preset, nil
}

func (s *presetService) ArchivePreset(ctx context.Context, id int64) (*models.AttributePreset, error) {
	var preset *models.AttributePreset
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		preset, err = s.presetRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		preset.Status = models.SchemaStatusArchived
		return s.presetRepo.Update(ctx, preset)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Archived attribute preset", zap.Int64("preset_id", id))
	return preset, nil
}
