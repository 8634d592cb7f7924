package models

import (
	"time"
)

// ============================================================================
// Node Types and Statuses
// ============================================================================

// NodeType is the hierarchy level of a classifier node.
type NodeType string

const (
	NodeTypeSegment  NodeType = "segment"
	NodeTypeFamily   NodeType = "family"
	NodeTypeClass    NodeType = "class"
	NodeTypeCategory NodeType = "category"
)

// ValidNodeTypes contains all node types in hierarchy order.
var ValidNodeTypes = []NodeType{
	NodeTypeSegment,
	NodeTypeFamily,
	NodeTypeClass,
	NodeTypeCategory,
}

// IsValid returns true if t is a known node type.
func (t NodeType) IsValid() bool {
	for _, v := range ValidNodeTypes {
		if v == t {
			return true
		}
	}
	return false
}

// NodeStatus is the publication status of a classifier node.
type NodeStatus string

const (
	NodeStatusDraft    NodeStatus = "draft"
	NodeStatusActive   NodeStatus = "active"
	NodeStatusArchived NodeStatus = "archived"
)

// IsValid returns true if s is a known node status.
func (s NodeStatus) IsValid() bool {
	switch s {
	case NodeStatusDraft, NodeStatusActive, NodeStatusArchived:
		return true
	default:
		return false
	}
}

// ============================================================================
// Classifier Node
// ============================================================================

// ClassifierNode is one level of the segment → family → class → category tree.
// Stored in nomenclature_nodes. Depth is parent.Depth+1, or 0 for roots.
type ClassifierNode struct {
	ID            int64          `json:"id"`
	ParentID      *int64         `json:"parent_id,omitempty"`
	Code          string         `json:"code"`
	Name          string         `json:"name"`
	NodeType      NodeType       `json:"node_type"`
	Depth         int            `json:"depth"`
	Version       int            `json:"version"`
	Status        NodeStatus     `json:"status"`
	IsArchived    bool           `json:"is_archived"`
	EffectiveFrom time.Time      `json:"effective_from"`
	EffectiveTo   *time.Time     `json:"effective_to,omitempty"`
	Metadata      map[string]any `json:"metadata"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Snapshot freezes the node's current state as an immutable version row.
func (n *ClassifierNode) Snapshot() *NodeVersionSnapshot {
	metadata := make(map[string]any, len(n.Metadata))
	for k, v := range n.Metadata {
		metadata[k] = v
	}
	return &NodeVersionSnapshot{
		NodeID:        n.ID,
		Version:       n.Version,
		ParentID:      n.ParentID,
		Code:          n.Code,
		Name:          n.Name,
		NodeType:      n.NodeType,
		Depth:         n.Depth,
		Status:        n.Status,
		IsArchived:    n.IsArchived,
		EffectiveFrom: n.EffectiveFrom,
		EffectiveTo:   n.EffectiveTo,
		Metadata:      metadata,
	}
}

// NodeVersionSnapshot is the append-only history row written on every node mutation.
// Stored in nomenclature_node_versions; only EffectiveTo is ever closed afterwards.
type NodeVersionSnapshot struct {
	ID            int64          `json:"id"`
	NodeID        int64          `json:"node_id"`
	Version       int            `json:"version"`
	ParentID      *int64         `json:"parent_id,omitempty"`
	Code          string         `json:"code"`
	Name          string         `json:"name"`
	NodeType      NodeType       `json:"node_type"`
	Depth         int            `json:"depth"`
	Status        NodeStatus     `json:"status"`
	IsArchived    bool           `json:"is_archived"`
	EffectiveFrom time.Time      `json:"effective_from"`
	EffectiveTo   *time.Time     `json:"effective_to,omitempty"`
	Metadata      map[string]any `json:"metadata"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NodeCreate holds the fields accepted when creating a node.
type NodeCreate struct {
	Code     string   `json:"code"`
	Name     string   `json:"name"`
	NodeType NodeType `json:"node_type"`
	ParentID *int64   `json:"parent_id,omitempty"`
}

// NodeUpdate is a partial update; nil fields are left untouched.
type NodeUpdate struct {
	Name        *string        `json:"name,omitempty"`
	Status      *NodeStatus    `json:"status,omitempty"`
	EffectiveTo *time.Time     `json:"effective_to,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NodeFilter narrows ListNodes. Nil fields do not filter.
type NodeFilter struct {
	ParentID *int64
	Depth    *int
	Status   *NodeStatus
}
