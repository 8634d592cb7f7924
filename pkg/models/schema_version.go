package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/uralreduktor/seny/pkg/schemadoc"
)

// ============================================================================
// Schema Statuses
// ============================================================================

// SchemaStatus is the publication status shared by schema versions and presets.
type SchemaStatus string

const (
	SchemaStatusDraft     SchemaStatus = "draft"
	SchemaStatusReview    SchemaStatus = "review"
	SchemaStatusPublished SchemaStatus = "published"
	SchemaStatusArchived  SchemaStatus = "archived"
)

// IsValid returns true if s is a known schema status.
func (s SchemaStatus) IsValid() bool {
	switch s {
	case SchemaStatusDraft, SchemaStatusReview, SchemaStatusPublished, SchemaStatusArchived:
		return true
	default:
		return false
	}
}

// PresetMode says how a preset link modifies the schema it is attached to.
type PresetMode string

const (
	PresetModeInclude PresetMode = "include" // deep-merge the preset in
	PresetModeExclude PresetMode = "exclude" // strip the preset's properties out
)

// ============================================================================
// Attribute Presets
// ============================================================================

// AttributePreset is a reusable schema fragment.
// Stored in nomenclature_attribute_presets.
type AttributePreset struct {
	ID          int64              `json:"id"`
	Code        string             `json:"code"`
	Title       string             `json:"title"`
	Description *string            `json:"description,omitempty"`
	Document    schemadoc.Document `json:"json_schema"`
	Version     int                `json:"version"`
	Status      SchemaStatus       `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// PresetCreate holds the fields accepted when creating a preset.
type PresetCreate struct {
	Code        string             `json:"code"`
	Title       string             `json:"title"`
	Description *string            `json:"description,omitempty"`
	Document    schemadoc.Document `json:"json_schema"`
	Version     int                `json:"version"`
}

// PresetUpdate is a partial update; nil fields are left untouched.
type PresetUpdate struct {
	Title       *string            `json:"title,omitempty"`
	Description *string            `json:"description,omitempty"`
	Document    schemadoc.Document `json:"json_schema,omitempty"`
	Version     *int               `json:"version,omitempty"`
}

// PresetLink attaches a preset to a schema version at a position.
// Stored in class_schema_presets.
type PresetLink struct {
	PresetID int64            `json:"preset_id"`
	Mode     PresetMode       `json:"mode"`
	Position int              `json:"position"`
	Preset   *AttributePreset `json:"preset,omitempty"`
}

// ============================================================================
// Schema Versions
// ============================================================================

// SchemaVersion is one versioned schema document owned by a node.
// Stored in nomenclature_class_schemas; (node_id, version) is unique.
type SchemaVersion struct {
	ID          int64              `json:"id"`
	NodeID      int64              `json:"node_id"`
	Version     int                `json:"version"`
	Status      SchemaStatus       `json:"status"`
	Document    schemadoc.Document `json:"json_schema"`
	Comment     *string            `json:"comment,omitempty"`
	PublishedAt *time.Time         `json:"published_at,omitempty"`
	CreatedBy   *uuid.UUID         `json:"created_by,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`

	// Presets in attachment order. Populated by the repository.
	Presets []PresetLink `json:"presets"`
}

// SchemaDraft is the input for a new schema version.
type SchemaDraft struct {
	Document         schemadoc.Document `json:"json_schema"`
	PresetIDs        []int64            `json:"preset_ids,omitempty"`
	ExcludePresetIDs []int64            `json:"exclude_preset_ids,omitempty"`
	Comment          *string            `json:"comment,omitempty"`
}

// SchemaDiffRecord is the diff of a published version against the previous
// published version of the same node. Written once, at first publish.
// Stored in class_attribute_revisions.
type SchemaDiffRecord struct {
	ID        int64          `json:"id"`
	SchemaID  int64          `json:"schema_id"`
	NodeID    int64          `json:"node_id"`
	Version   int            `json:"version"`
	Diff      schemadoc.Diff `json:"diff"`
	AuthorID  *uuid.UUID     `json:"author_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// SchemaEntry is the resolved schema for a node: every published schema
// along its ancestor chain composed root to leaf.
type SchemaEntry struct {
	NodeID  int64              `json:"node_id"`
	Version int                `json:"version"`
	Schema  schemadoc.Document `json:"schema"`
}
