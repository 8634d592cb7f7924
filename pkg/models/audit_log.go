package models

import (
	"time"

	"github.com/google/uuid"
)

// Audited entity types.
const (
	AuditEntityNomenclature   = "nomenclature"
	AuditEntityClassifierNode = "classifier_node"
	AuditEntityClassSchema    = "class_schema"
)

// Audited actions.
const (
	AuditActionStatusChanged = "nomenclature_status_changed"
	AuditActionSchemaPublish = "class_schema_published"
)

// AuditLogEntry is one row of the audit trail.
// Stored in audit_logs.
type AuditLogEntry struct {
	ID         int64          `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   int64          `json:"entity_id"`
	Action     string         `json:"action"`
	ActorID    *uuid.UUID     `json:"actor_id,omitempty"` // nil for system operations
	Details    map[string]any `json:"details"`
	CreatedAt  time.Time      `json:"created_at"`
}
