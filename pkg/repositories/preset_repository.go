package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/database"
	"github.com/uralreduktor/seny/pkg/models"
)

// PresetRepository provides data access for attribute presets.
type PresetRepository interface {
	Create(ctx context.Context, preset *models.AttributePreset) error
	GetByID(ctx context.Context, id int64) (*models.AttributePreset, error)
	// GetByIDs returns the presets found, keyed by id. Missing ids are absent.
	GetByIDs(ctx context.Context, ids []int64) (map[int64]*models.AttributePreset, error)
	GetByCode(ctx context.Context, code string) (*models.AttributePreset, error)
	List(ctx context.Context, status *models.SchemaStatus) ([]*models.AttributePreset, error)
	Update(ctx context.Context, preset *models.AttributePreset) error
}

type presetRepository struct{}

// NewPresetRepository creates a new PresetRepository.
func NewPresetRepository() PresetRepository {
	return &presetRepository{}
}

var _ PresetRepository = (*presetRepository)(nil)

const presetColumns = `id, code, title, description, json_schema, version, status, created_at, updated_at`

func (r *presetRepository) Create(ctx context.Context, p *models.AttributePreset) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	doc, err := marshalJSONB(p.Document)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO nomenclature_attribute_presets (code, title, description, json_schema, version, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err = q.QueryRow(ctx, query,
		p.Code, p.Title, p.Description, doc, p.Version, p.Status,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create preset: %w", err)
	}

	return nil
}

func (r *presetRepository) GetByID(ctx context.Context, id int64) (*models.AttributePreset, error) {
	return r.getOne(ctx, `SELECT `+presetColumns+` FROM nomenclature_attribute_presets WHERE id = $1`, id)
}

func (r *presetRepository) GetByCode(ctx context.Context, code string) (*models.AttributePreset, error) {
	return r.getOne(ctx, `SELECT `+presetColumns+` FROM nomenclature_attribute_presets WHERE code = $1`, code)
}

func (r *presetRepository) getOne(ctx context.Context, query string, args ...any) (*models.AttributePreset, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	p, err := scanPreset(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *presetRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*models.AttributePreset, error) {
	result := make(map[int64]*models.AttributePreset, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+presetColumns+` FROM nomenclature_attribute_presets WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query presets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating presets: %w", err)
	}

	return result, nil
}

func (r *presetRepository) List(ctx context.Context, status *models.SchemaStatus) ([]*models.AttributePreset, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + presetColumns + ` FROM nomenclature_attribute_presets`
	var args []any
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, *status)
	}
	query += ` ORDER BY code`

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}
	defer rows.Close()

	var presets []*models.AttributePreset
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		presets = append(presets, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating presets: %w", err)
	}

	return presets, nil
}

func (r *presetRepository) Update(ctx context.Context, p *models.AttributePreset) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	doc, err := marshalJSONB(p.Document)
	if err != nil {
		return err
	}

	query := `
		UPDATE nomenclature_attribute_presets
		SET title = $2, description = $3, json_schema = $4, version = $5, status = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = q.QueryRow(ctx, query,
		p.ID, p.Title, p.Description, doc, p.Version, p.Status,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update preset: %w", err)
	}

	return nil
}

func scanPreset(row pgx.Row) (*models.AttributePreset, error) {
	var p models.AttributePreset
	var doc []byte

	err := row.Scan(
		&p.ID, &p.Code, &p.Title, &p.Description, &doc,
		&p.Version, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan preset: %w", err)
	}

	p.Document = map[string]any{}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &p.Document); err != nil {
			return nil, fmt.Errorf("failed to unmarshal preset schema: %w", err)
		}
	}

	return &p, nil
}
