package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/database"
	"github.com/uralreduktor/seny/pkg/models"
)

// SchemaVersionRepository provides data access for class schema versions,
// their preset links and their publish-time diff records.
// Every schema returned carries its preset links (with presets loaded) in
// attachment order.
type SchemaVersionRepository interface {
	// MaxVersion returns the highest version for the node, or 0 if none exists.
	MaxVersion(ctx context.Context, nodeID int64) (int, error)
	// Create inserts the schema row and its preset links.
	Create(ctx context.Context, schema *models.SchemaVersion) error
	GetByNodeVersion(ctx context.Context, nodeID int64, version int) (*models.SchemaVersion, error)
	// GetLatestPublished returns ErrNotFound if the node has no published version.
	GetLatestPublished(ctx context.Context, nodeID int64) (*models.SchemaVersion, error)
	// GetPreviousPublished returns the highest published version below before.
	GetPreviousPublished(ctx context.Context, nodeID int64, before int) (*models.SchemaVersion, error)
	MarkPublished(ctx context.Context, id int64, publishedAt time.Time) error
	ListByNode(ctx context.Context, nodeID int64) ([]*models.SchemaVersion, error)
	// ListNodeIDsByPreset returns the nodes owning a published schema linked to the preset.
	ListNodeIDsByPreset(ctx context.Context, presetID int64) ([]int64, error)

	CreateDiff(ctx context.Context, record *models.SchemaDiffRecord) error
	GetDiff(ctx context.Context, nodeID int64, version int) (*models.SchemaDiffRecord, error)
}

type schemaVersionRepository struct{}

// NewSchemaVersionRepository creates a new SchemaVersionRepository.
func NewSchemaVersionRepository() SchemaVersionRepository {
	return &schemaVersionRepository{}
}

var _ SchemaVersionRepository = (*schemaVersionRepository)(nil)

const schemaColumns = `id, node_id, version, status, json_schema, comment, published_at,
		       created_by, created_at, updated_at`

// ============================================================================
// Schema Versions
// ============================================================================

func (r *schemaVersionRepository) MaxVersion(ctx context.Context, nodeID int64) (int, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return 0, err
	}

	var maxVersion int
	err = q.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM nomenclature_class_schemas WHERE node_id = $1`,
		nodeID).Scan(&maxVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to get max schema version: %w", err)
	}
	return maxVersion, nil
}

func (r *schemaVersionRepository) Create(ctx context.Context, s *models.SchemaVersion) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	doc, err := marshalJSONB(s.Document)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO nomenclature_class_schemas (node_id, version, status, json_schema, comment, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err = q.QueryRow(ctx, query,
		s.NodeID, s.Version, s.Status, doc, s.Comment, s.CreatedBy,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create schema version: %w", err)
	}

	for _, link := range s.Presets {
		_, err := q.Exec(ctx, `
			INSERT INTO class_schema_presets (class_schema_id, preset_id, mode, position)
			VALUES ($1, $2, $3, $4)`,
			s.ID, link.PresetID, link.Mode, link.Position)
		if err != nil {
			return fmt.Errorf("failed to link preset %d: %w", link.PresetID, err)
		}
	}

	return nil
}

func (r *schemaVersionRepository) GetByNodeVersion(ctx context.Context, nodeID int64, version int) (*models.SchemaVersion, error) {
	return r.getOne(ctx, `
		SELECT `+schemaColumns+`
		FROM nomenclature_class_schemas
		WHERE node_id = $1 AND version = $2`, nodeID, version)
}

func (r *schemaVersionRepository) GetLatestPublished(ctx context.Context, nodeID int64) (*models.SchemaVersion, error) {
	return r.getOne(ctx, `
		SELECT `+schemaColumns+`
		FROM nomenclature_class_schemas
		WHERE node_id = $1 AND status = 'published'
		ORDER BY version DESC
		LIMIT 1`, nodeID)
}

func (r *schemaVersionRepository) GetPreviousPublished(ctx context.Context, nodeID int64, before int) (*models.SchemaVersion, error) {
	return r.getOne(ctx, `
		SELECT `+schemaColumns+`
		FROM nomenclature_class_schemas
		WHERE node_id = $1 AND status = 'published' AND version < $2
		ORDER BY version DESC
		LIMIT 1`, nodeID, before)
}

func (r *schemaVersionRepository) getOne(ctx context.Context, query string, args ...any) (*models.SchemaVersion, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	s, err := scanSchemaVersion(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	if err := r.attachPresets(ctx, q, []*models.SchemaVersion{s}); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *schemaVersionRepository) MarkPublished(ctx context.Context, id int64, publishedAt time.Time) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `
		UPDATE nomenclature_class_schemas
		SET status = 'published', published_at = $2, updated_at = now()
		WHERE id = $1`, id, publishedAt)
	if err != nil {
		return fmt.Errorf("failed to publish schema version: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *schemaVersionRepository) ListByNode(ctx context.Context, nodeID int64) ([]*models.SchemaVersion, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT `+schemaColumns+`
		FROM nomenclature_class_schemas
		WHERE node_id = $1
		ORDER BY version DESC`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema versions: %w", err)
	}
	defer rows.Close()

	var schemas []*models.SchemaVersion
	for rows.Next() {
		s, err := scanSchemaVersion(rows)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schema versions: %w", err)
	}

	if err := r.attachPresets(ctx, q, schemas); err != nil {
		return nil, err
	}
	return schemas, nil
}

func (r *schemaVersionRepository) ListNodeIDsByPreset(ctx context.Context, presetID int64) ([]int64, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT DISTINCT s.node_id
		FROM class_schema_presets l
		JOIN nomenclature_class_schemas s ON s.id = l.class_schema_id
		WHERE l.preset_id = $1 AND s.status = 'published'
		ORDER BY s.node_id`, presetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes by preset: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to collect node ids: %w", err)
	}
	return ids, nil
}

// attachPresets loads the preset links of every schema in one query.
func (r *schemaVersionRepository) attachPresets(ctx context.Context, q database.Querier, schemas []*models.SchemaVersion) error {
	if len(schemas) == 0 {
		return nil
	}

	byID := make(map[int64]*models.SchemaVersion, len(schemas))
	ids := make([]int64, 0, len(schemas))
	for _, s := range schemas {
		s.Presets = []models.PresetLink{}
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}

	rows, err := q.Query(ctx, `
		SELECT l.class_schema_id, l.mode, l.position,
		       p.id, p.code, p.title, p.description, p.json_schema, p.version, p.status,
		       p.created_at, p.updated_at
		FROM class_schema_presets l
		JOIN nomenclature_attribute_presets p ON p.id = l.preset_id
		WHERE l.class_schema_id = ANY($1)
		ORDER BY l.class_schema_id, l.position`, ids)
	if err != nil {
		return fmt.Errorf("failed to load schema presets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var schemaID int64
		var link models.PresetLink
		var p models.AttributePreset
		var doc []byte
		if err := rows.Scan(
			&schemaID, &link.Mode, &link.Position,
			&p.ID, &p.Code, &p.Title, &p.Description, &doc, &p.Version, &p.Status,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to scan schema preset: %w", err)
		}
		p.Document = map[string]any{}
		if len(doc) > 0 {
			if err := json.Unmarshal(doc, &p.Document); err != nil {
				return fmt.Errorf("failed to unmarshal preset schema: %w", err)
			}
		}
		link.PresetID = p.ID
		link.Preset = &p
		byID[schemaID].Presets = append(byID[schemaID].Presets, link)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating schema presets: %w", err)
	}
	return nil
}

// ============================================================================
// Diff Records
// ============================================================================

func (r *schemaVersionRepository) CreateDiff(ctx context.Context, rec *models.SchemaDiffRecord) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	diff, err := json.Marshal(rec.Diff)
	if err != nil {
		return fmt.Errorf("failed to marshal schema diff: %w", err)
	}

	err = q.QueryRow(ctx, `
		INSERT INTO class_attribute_revisions (schema_id, node_id, version, diff, author_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		rec.SchemaID, rec.NodeID, rec.Version, diff, rec.AuthorID,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create schema diff: %w", err)
	}
	return nil
}

func (r *schemaVersionRepository) GetDiff(ctx context.Context, nodeID int64, version int) (*models.SchemaDiffRecord, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	var rec models.SchemaDiffRecord
	var diff []byte
	err = q.QueryRow(ctx, `
		SELECT id, schema_id, node_id, version, diff, author_id, created_at
		FROM class_attribute_revisions
		WHERE node_id = $1 AND version = $2`, nodeID, version,
	).Scan(&rec.ID, &rec.SchemaID, &rec.NodeID, &rec.Version, &diff, &rec.AuthorID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get schema diff: %w", err)
	}

	if err := json.Unmarshal(diff, &rec.Diff); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema diff: %w", err)
	}
	return &rec, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func scanSchemaVersion(row pgx.Row) (*models.SchemaVersion, error) {
	var s models.SchemaVersion
	var doc []byte

	err := row.Scan(
		&s.ID, &s.NodeID, &s.Version, &s.Status, &doc, &s.Comment, &s.PublishedAt,
		&s.CreatedBy, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan schema version: %w", err)
	}

	s.Document = map[string]any{}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &s.Document); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schema document: %w", err)
		}
	}

	return &s, nil
}
