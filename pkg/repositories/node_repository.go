package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/database"
	"github.com/uralreduktor/seny/pkg/models"
)

// NodeRepository provides data access for classifier nodes and their version snapshots.
type NodeRepository interface {
	Create(ctx context.Context, node *models.ClassifierNode) error
	GetByID(ctx context.Context, id int64) (*models.ClassifierNode, error)
	// GetByIDForUpdate locks the node row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id int64) (*models.ClassifierNode, error)
	GetByCode(ctx context.Context, code string) (*models.ClassifierNode, error)
	Update(ctx context.Context, node *models.ClassifierNode) error
	List(ctx context.Context, filter models.NodeFilter) ([]*models.ClassifierNode, error)
	// ListSubtreeIDs returns id and every descendant id, id first.
	ListSubtreeIDs(ctx context.Context, id int64) ([]int64, error)

	CreateSnapshot(ctx context.Context, snapshot *models.NodeVersionSnapshot) error
	CloseSnapshot(ctx context.Context, nodeID int64, version int, closedAt time.Time) error
	ListSnapshots(ctx context.Context, nodeID int64) ([]*models.NodeVersionSnapshot, error)
}

type nodeRepository struct{}

// NewNodeRepository creates a new NodeRepository.
func NewNodeRepository() NodeRepository {
	return &nodeRepository{}
}

var _ NodeRepository = (*nodeRepository)(nil)

const nodeColumns = `id, parent_id, code, name, node_type, depth, version, status,
		       is_archived, effective_from, effective_to, metadata, created_at, updated_at`

// ============================================================================
// Nodes
// ============================================================================

func (r *nodeRepository) Create(ctx context.Context, node *models.ClassifierNode) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	metadata, err := marshalJSONB(node.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO nomenclature_nodes (
			parent_id, code, name, node_type, depth, version, status,
			is_archived, effective_from, effective_to, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	err = q.QueryRow(ctx, query,
		node.ParentID,
		node.Code,
		node.Name,
		node.NodeType,
		node.Depth,
		node.Version,
		node.Status,
		node.IsArchived,
		node.EffectiveFrom,
		node.EffectiveTo,
		metadata,
	).Scan(&node.ID, &node.CreatedAt, &node.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create node: %w", err)
	}

	return nil
}

func (r *nodeRepository) GetByID(ctx context.Context, id int64) (*models.ClassifierNode, error) {
	return r.getOne(ctx, `SELECT `+nodeColumns+` FROM nomenclature_nodes WHERE id = $1`, id)
}

func (r *nodeRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.ClassifierNode, error) {
	return r.getOne(ctx, `SELECT `+nodeColumns+` FROM nomenclature_nodes WHERE id = $1 FOR UPDATE`, id)
}

func (r *nodeRepository) GetByCode(ctx context.Context, code string) (*models.ClassifierNode, error) {
	return r.getOne(ctx, `SELECT `+nodeColumns+` FROM nomenclature_nodes WHERE code = $1`, code)
}

func (r *nodeRepository) getOne(ctx context.Context, query string, args ...any) (*models.ClassifierNode, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	node, err := scanNode(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return node, nil
}

func (r *nodeRepository) Update(ctx context.Context, node *models.ClassifierNode) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	metadata, err := marshalJSONB(node.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE nomenclature_nodes
		SET name = $2, version = $3, status = $4, is_archived = $5,
		    effective_from = $6, effective_to = $7, metadata = $8, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = q.QueryRow(ctx, query,
		node.ID,
		node.Name,
		node.Version,
		node.Status,
		node.IsArchived,
		node.EffectiveFrom,
		node.EffectiveTo,
		metadata,
	).Scan(&node.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update node: %w", err)
	}

	return nil
}

func (r *nodeRepository) List(ctx context.Context, filter models.NodeFilter) ([]*models.ClassifierNode, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.ParentID != nil {
		conditions = append(conditions, fmt.Sprintf("parent_id = $%d", argIdx))
		args = append(args, *filter.ParentID)
		argIdx++
	}
	if filter.Depth != nil {
		conditions = append(conditions, fmt.Sprintf("depth = $%d", argIdx))
		args = append(args, *filter.Depth)
		argIdx++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *filter.Status)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM nomenclature_nodes
		WHERE %s
		ORDER BY code`, nodeColumns, strings.Join(conditions, " AND "))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.ClassifierNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}

func (r *nodeRepository) ListSubtreeIDs(ctx context.Context, id int64) ([]int64, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	// The depth bound stops the recursion on corrupted cyclic data.
	query := `
		WITH RECURSIVE subtree(id, depth) AS (
			SELECT id, 0 FROM nomenclature_nodes WHERE id = $1
			UNION
			SELECT n.id, s.depth + 1
			FROM nomenclature_nodes n
			JOIN subtree s ON n.parent_id = s.id
			WHERE s.depth < 64
		)
		SELECT id FROM subtree GROUP BY id ORDER BY MIN(depth), id`

	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list subtree: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to collect subtree ids: %w", err)
	}
	return ids, nil
}

// ============================================================================
// Snapshots
// ============================================================================

func (r *nodeRepository) CreateSnapshot(ctx context.Context, s *models.NodeVersionSnapshot) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	metadata, err := marshalJSONB(s.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO nomenclature_node_versions (
			node_id, version, parent_id, code, name, node_type, depth, status,
			is_archived, effective_from, effective_to, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`

	err = q.QueryRow(ctx, query,
		s.NodeID,
		s.Version,
		s.ParentID,
		s.Code,
		s.Name,
		s.NodeType,
		s.Depth,
		s.Status,
		s.IsArchived,
		s.EffectiveFrom,
		s.EffectiveTo,
		metadata,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create node snapshot: %w", err)
	}

	return nil
}

// CloseSnapshot ends a snapshot at closedAt. A snapshot already ending before
// closedAt keeps its end so versions never overlap.
func (r *nodeRepository) CloseSnapshot(ctx context.Context, nodeID int64, version int, closedAt time.Time) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE nomenclature_node_versions
		SET effective_to = LEAST(COALESCE(effective_to, $3), $3)
		WHERE node_id = $1 AND version = $2`

	if _, err := q.Exec(ctx, query, nodeID, version, closedAt); err != nil {
		return fmt.Errorf("failed to close node snapshot: %w", err)
	}
	return nil
}

func (r *nodeRepository) ListSnapshots(ctx context.Context, nodeID int64) ([]*models.NodeVersionSnapshot, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, node_id, version, parent_id, code, name, node_type, depth, status,
		       is_archived, effective_from, effective_to, metadata, created_at
		FROM nomenclature_node_versions
		WHERE node_id = $1
		ORDER BY version DESC`

	rows, err := q.Query(ctx, query, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.NodeVersionSnapshot
	for rows.Next() {
		var s models.NodeVersionSnapshot
		var metadata []byte
		if err := rows.Scan(
			&s.ID, &s.NodeID, &s.Version, &s.ParentID, &s.Code, &s.Name, &s.NodeType,
			&s.Depth, &s.Status, &s.IsArchived, &s.EffectiveFrom, &s.EffectiveTo,
			&metadata, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan node snapshot: %w", err)
		}
		if s.Metadata, err = unmarshalJSONBMap(metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot metadata: %w", err)
		}
		snapshots = append(snapshots, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node snapshots: %w", err)
	}

	return snapshots, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func scanNode(row pgx.Row) (*models.ClassifierNode, error) {
	var n models.ClassifierNode
	var metadata []byte

	err := row.Scan(
		&n.ID,
		&n.ParentID,
		&n.Code,
		&n.Name,
		&n.NodeType,
		&n.Depth,
		&n.Version,
		&n.Status,
		&n.IsArchived,
		&n.EffectiveFrom,
		&n.EffectiveTo,
		&metadata,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}

	if n.Metadata, err = unmarshalJSONBMap(metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node metadata: %w", err)
	}
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}

	return &n, nil
}
