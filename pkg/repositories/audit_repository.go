package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uralreduktor/seny/pkg/database"
	"github.com/uralreduktor/seny/pkg/models"
)

// AuditRepository provides data access for the audit trail.
type AuditRepository interface {
	// Create inserts a new audit log entry and sets its ID and CreatedAt.
	Create(ctx context.Context, entry *models.AuditLogEntry) error

	// GetByEntity returns all audit log entries for a specific entity, newest first.
	GetByEntity(ctx context.Context, entityType string, entityID int64) ([]*models.AuditLogEntry, error)
}

type auditRepository struct{}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository() AuditRepository {
	return &auditRepository{}
}

var _ AuditRepository = (*auditRepository)(nil)

func (r *auditRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return err
	}

	details, err := marshalJSONB(entry.Details)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_logs (entity_type, entity_id, action, actor_id, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err = q.QueryRow(ctx, query,
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		entry.ActorID,
		details,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create audit log entry: %w", err)
	}

	return nil
}

func (r *auditRepository) GetByEntity(ctx context.Context, entityType string, entityID int64) ([]*models.AuditLogEntry, error) {
	q, err := database.GetQuerier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, entity_type, entity_id, action, actor_id, details, created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC`

	rows, err := q.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var details []byte
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.ActorID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log entry: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
			}
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}

	return entries, nil
}
