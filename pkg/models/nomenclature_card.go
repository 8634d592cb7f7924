package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Lifecycle
// ============================================================================

// LifecycleStatus is the publication state of a card.
type LifecycleStatus string

const (
	LifecycleDraft    LifecycleStatus = "draft"
	LifecycleReview   LifecycleStatus = "review"
	LifecycleActive   LifecycleStatus = "active"
	LifecycleArchived LifecycleStatus = "archived"
)

// ValidLifecycleStatuses contains every lifecycle status.
var ValidLifecycleStatuses = []LifecycleStatus{
	LifecycleDraft,
	LifecycleReview,
	LifecycleActive,
	LifecycleArchived,
}

// IsValid returns true if s is a known lifecycle status.
func (s LifecycleStatus) IsValid() bool {
	return slices.Contains(ValidLifecycleStatuses, s)
}

// LifecycleChange requests a status transition.
type LifecycleChange struct {
	TargetStatus  LifecycleStatus `json:"target_status"`
	Reason        *string         `json:"reason,omitempty"`
	EffectiveFrom *time.Time      `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
}

// ============================================================================
// Cards
// ============================================================================

// ClassificationCodes are the denormalized ancestor codes stored on a card.
type ClassificationCodes struct {
	SegmentCode  *string `json:"segment_code"`
	FamilyCode   *string `json:"family_code"`
	ClassCode    *string `json:"class_code"`
	CategoryCode *string `json:"category_code"`
}

// NomenclatureCard is a catalog entry linked to one classifier node.
// Stored in nomenclature_cards.
type NomenclatureCard struct {
	ID            int64  `json:"id"`
	Code          string `json:"code"`
	CanonicalName string `json:"canonical_name"`
	NodeID        *int64 `json:"node_id,omitempty"`
	NodeVersion   int    `json:"node_version"`
	ClassificationCodes

	LifecycleStatus LifecycleStatus `json:"lifecycle_status"`
	LifecycleReason *string         `json:"lifecycle_reason,omitempty"`
	EffectiveFrom   *time.Time      `json:"effective_from,omitempty"`
	EffectiveTo     *time.Time      `json:"effective_to,omitempty"`

	Attributes       map[string]any `json:"attributes_payload"`
	MethodologyIDs   []int64        `json:"methodology_ids"`
	Manufacturer     *string        `json:"manufacturer,omitempty"`
	StandardDocument *string        `json:"standard_document,omitempty"`
	Article          *string        `json:"article,omitempty"`
	Tags             map[string]any `json:"tags,omitempty"`

	Version        int        `json:"version"`
	CreatedBy      *uuid.UUID `json:"created_by,omitempty"`
	LastEditorID   *uuid.UUID `json:"last_editor_id,omitempty"`
	LastReviewedAt *time.Time `json:"last_reviewed_at,omitempty"`
	AuditLogID     *int64     `json:"audit_log_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Embedding is the stored semantic vector; never serialized.
	Embedding []float32 `json:"-"`
	// SearchConfidence is set on search results only.
	SearchConfidence *float64 `json:"search_confidence,omitempty"`
}

// Clone returns a copy of the card that shares no mutable state with c.
func (c *NomenclatureCard) Clone() *NomenclatureCard {
	out := *c
	out.MethodologyIDs = slices.Clone(c.MethodologyIDs)
	out.Embedding = slices.Clone(c.Embedding)
	if c.Attributes != nil {
		out.Attributes = make(map[string]any, len(c.Attributes))
		for k, v := range c.Attributes {
			out.Attributes[k] = v
		}
	}
	if c.Tags != nil {
		out.Tags = make(map[string]any, len(c.Tags))
		for k, v := range c.Tags {
			out.Tags[k] = v
		}
	}
	return &out
}

// CardCreate holds the fields accepted when creating a card.
type CardCreate struct {
	Code             *string        `json:"code,omitempty"`
	CanonicalName    string         `json:"canonical_name"`
	NodeID           int64          `json:"node_id"`
	NodeVersion      *int           `json:"node_version,omitempty"`
	Attributes       map[string]any `json:"attributes_payload"`
	MethodologyIDs   []int64        `json:"methodology_ids,omitempty"`
	Manufacturer     *string        `json:"manufacturer,omitempty"`
	StandardDocument *string        `json:"standard_document,omitempty"`
	Article          *string        `json:"article,omitempty"`
	Tags             map[string]any `json:"tags,omitempty"`
}

// CardUpdate is a partial update; nil fields are left untouched.
type CardUpdate struct {
	CanonicalName    *string        `json:"canonical_name,omitempty"`
	Attributes       map[string]any `json:"attributes_payload,omitempty"`
	MethodologyIDs   *[]int64       `json:"methodology_ids,omitempty"`
	Manufacturer     *string        `json:"manufacturer,omitempty"`
	StandardDocument *string        `json:"standard_document,omitempty"`
	Article          *string        `json:"article,omitempty"`
	Tags             map[string]any `json:"tags,omitempty"`
	Comment          *string        `json:"comment,omitempty"`
}

// ============================================================================
// Card Versions
// ============================================================================

// CardVersionStatus is the review state of a card version record.
type CardVersionStatus string

const (
	CardVersionDraft     CardVersionStatus = "draft"
	CardVersionPublished CardVersionStatus = "published"
)

// CardVersionDiff lists the fields changed by one card update.
type CardVersionDiff struct {
	Fields []string `json:"fields"`
}

// CardVersion is an append-only record of one card update.
// Stored in nomenclature_card_versions.
type CardVersion struct {
	ID        int64             `json:"id"`
	CardID    int64             `json:"card_id"`
	Version   int               `json:"version"`
	Diff      CardVersionDiff   `json:"diff"`
	Status    CardVersionStatus `json:"status"`
	AuthorID  *uuid.UUID        `json:"author_id,omitempty"`
	Comment   *string           `json:"comment,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ============================================================================
// Bulk Operations
// ============================================================================

// BulkItemStatus is the per-card outcome of a bulk operation.
type BulkItemStatus string

const (
	BulkItemUpdated  BulkItemStatus = "updated"
	BulkItemNotFound BulkItemStatus = "not_found"
	BulkItemError    BulkItemStatus = "error"
)

// BulkItemResult reports what happened to one card in a bulk operation.
type BulkItemResult struct {
	CardID  int64          `json:"card_id"`
	Status  BulkItemStatus `json:"status"`
	Message string         `json:"message,omitempty"`
}

// MethodologyMode says how BulkUpdateMethodologies combines id lists.
type MethodologyMode string

const (
	MethodologyReplace MethodologyMode = "replace"
	MethodologyAppend  MethodologyMode = "append"
	MethodologyRemove  MethodologyMode = "remove"
)

// IsValid returns true if m is a known mode.
func (m MethodologyMode) IsValid() bool {
	switch m {
	case MethodologyReplace, MethodologyAppend, MethodologyRemove:
		return true
	default:
		return false
	}
}

// ============================================================================
// Listing and Search
// ============================================================================

// SearchMode selects how a search string ranks cards.
type SearchMode string

const (
	SearchText     SearchMode = "text"
	SearchSemantic SearchMode = "semantic"
	SearchCombined SearchMode = "combined"
)

// CardSort is the ordering column for ListCards.
type CardSort string

const (
	CardSortUpdatedAt CardSort = "updated_at"
	CardSortCode      CardSort = "code"
)

// CardFilter narrows ListCards. Zero values do not filter.
type CardFilter struct {
	NodeID          *int64
	LifecycleStatus *LifecycleStatus
	Manufacturer    string
	Code            string
	HasMethodology  *bool
	Search          string
	SearchMode      SearchMode
	Sort            CardSort
	Descending      bool
	Page            int
	PageSize        int
}

// PageMeta describes the returned page.
type PageMeta struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// CardPage is one page of ListCards results.
type CardPage struct {
	Items []*NomenclatureCard `json:"items"`
	Meta  PageMeta            `json:"meta"`
}

// EmbeddingBackfillResult summarizes one embedding backfill run.
type EmbeddingBackfillResult struct {
	Scanned  int `json:"scanned"`
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
}
