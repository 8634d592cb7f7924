package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/services"
)

// ScopeMiddleware wraps a handler with per-request setup, typically the
// scoped database connection.
type ScopeMiddleware func(http.HandlerFunc) http.HandlerFunc

// ============================================================================
// Request/Response Types
// ============================================================================

// NodeListResponse for GET /api/nodes
type NodeListResponse struct {
	Nodes []*models.ClassifierNode `json:"nodes"`
	Total int                      `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// NodeHandler handles classifier tree HTTP requests.
type NodeHandler struct {
	nodeService services.NodeService
	logger      *zap.Logger
}

// NewNodeHandler creates a new node handler.
func NewNodeHandler(nodeService services.NodeService, logger *zap.Logger) *NodeHandler {
	return &NodeHandler{
		nodeService: nodeService,
		logger:      logger,
	}
}

// RegisterRoutes registers the node handler's routes on the given mux.
func (h *NodeHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	base := "/api/nodes"

	mux.HandleFunc("GET "+base, scope(h.List))
	mux.HandleFunc("POST "+base, scope(h.Create))
	mux.HandleFunc("GET "+base+"/{nid}", scope(h.Get))
	mux.HandleFunc("PATCH "+base+"/{nid}", scope(h.Update))
	mux.HandleFunc("DELETE "+base+"/{nid}", scope(h.Archive))
	mux.HandleFunc("GET "+base+"/{nid}/versions", scope(h.ListVersions))
}

// List handles GET /api/nodes?parent_id=&depth=&status=
func (h *NodeHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	nodes, err := h.nodeService.ListNodes(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err, "list_nodes_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, NodeListResponse{Nodes: nodes, Total: len(nodes)}, h.logger)
}

func (h *NodeHandler) parseFilter(w http.ResponseWriter, r *http.Request) (models.NodeFilter, bool) {
	var filter models.NodeFilter

	parentID, ok := queryInt64(w, r, "parent_id", h.logger)
	if !ok {
		return filter, false
	}
	filter.ParentID = parentID

	if raw := r.URL.Query().Get("depth"); raw != "" {
		depth, err := strconv.Atoi(raw)
		if err != nil || depth < 0 {
			writeServiceError(w, fmt.Errorf("%w: invalid depth %q", apperrors.ErrInvalidInput, raw), "", h.logger)
			return filter, false
		}
		filter.Depth = &depth
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.NodeStatus(raw)
		if !status.IsValid() {
			writeServiceError(w, fmt.Errorf("%w: unknown node status %q", apperrors.ErrInvalidInput, raw), "", h.logger)
			return filter, false
		}
		filter.Status = &status
	}

	return filter, true
}

// Create handles POST /api/nodes
func (h *NodeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.NodeCreate
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	node, err := h.nodeService.CreateNode(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "create_node_failed", h.logger)
		return
	}

	writeOK(w, http.StatusCreated, node, h.logger)
}

// Get handles GET /api/nodes/{nid}
func (h *NodeHandler) Get(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := ParseNodeID(w, r, h.logger)
	if !ok {
		return
	}

	node, err := h.nodeService.GetNode(r.Context(), nodeID)
	if err != nil {
		writeServiceError(w, err, "get_node_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, node, h.logger)
}

// Update handles PATCH /api/nodes/{nid}
func (h *NodeHandler) Update(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := ParseNodeID(w, r, h.logger)
	if !ok {
		return
	}

	var req models.NodeUpdate
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	node, err := h.nodeService.UpdateNode(r.Context(), nodeID, &req)
	if err != nil {
		writeServiceError(w, err, "update_node_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, node, h.logger)
}

// Archive handles DELETE /api/nodes/{nid}. Nodes are never removed.
func (h *NodeHandler) Archive(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := ParseNodeID(w, r, h.logger)
	if !ok {
		return
	}

	node, err := h.nodeService.ArchiveNode(r.Context(), nodeID)
	if err != nil {
		writeServiceError(w, err, "archive_node_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, node, h.logger)
}

// ListVersions handles GET /api/nodes/{nid}/versions
func (h *NodeHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := ParseNodeID(w, r, h.logger)
	if !ok {
		return
	}

	snapshots, err := h.nodeService.ListNodeVersions(r.Context(), nodeID)
	if err != nil {
		writeServiceError(w, err, "list_node_versions_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, snapshots, h.logger)
}
