package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/services"
)

// ValidatePayloadRequest for POST /api/nodes/{nid}/schema/validate
type ValidatePayloadRequest struct {
	Attributes map[string]any `json:"attributes_payload"`
}

// ValidatePayloadResponse reports which resolved schema accepted the payload.
type ValidatePayloadResponse struct {
	Valid         bool  `json:"valid"`
	NodeID        int64 `json:"node_id"`
	SchemaVersion int   `json:"schema_version"`
}

// SchemaHandler handles class schema versions and resolved schemas.
type SchemaHandler struct {
	schemaService services.SchemaService
	registry      services.SchemaRegistry
	logger        *zap.Logger
}

// NewSchemaHandler creates a new schema handler.
func NewSchemaHandler(
	schemaService services.SchemaService,
	registry services.SchemaRegistry,
	logger *zap.Logger,
) *SchemaHandler {
	return &SchemaHandler{
		schemaService: schemaService,
		registry:      registry,
		logger:        logger,
	}
}

// RegisterRoutes registers the schema handler's routes on the given mux.
func (h *SchemaHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	base := "/api/nodes/{nid}"

	mux.HandleFunc("GET "+base+"/schemas", scope(h.List))
	mux.HandleFunc("POST "+base+"/schemas", scope(h.Create))
	mux.HandleFunc("GET "+base+"/schemas/{version}", scope(h.Get))
	mux.HandleFunc("POST "+base+"/schemas/{version}/publish", scope(h.Publish))
	mux.HandleFunc("GET "+base+"/schemas/{version}/diff", scope(h.Diff))
	mux.HandleFunc("GET "+base+"/schema", scope(h.Resolve))
	mux.HandleFunc("POST "+base+"/schema/validate", scope(h.Validate))
}

// List handles GET /api/nodes/{nid}/schemas
func (h *SchemaHandler) List(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := ParseNodeID(w, r, h.logger)
	if !ok {
		return
	}

	versions, err := h.schemaService.ListVersions(r.Context(), nodeID)
	if err != nil {
		writeServiceError(w, err, "list_schemas_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, versions, h.logger)
}

// Create handles POST /api/nodes/{nid}/schemas
func (h *SchemaHandler) Create(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := ParseNodeID(w, r, h.logger)
	if !ok {
		return
	}
	actorID, ok := ParseActorID(w, r, h.logger)
	if !ok {
		return
	}

	var req models.SchemaDraft
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	version, err := h.schemaService.CreateVersion(r.Context(), nodeID, &req, actorID)
	if err != nil {
		writeServiceError(w, err, "create_schema_failed", h.logger)
		return
	}

	writeOK(w, http.StatusCreated, version, h.logger)
}

// Get handles GET /api/nodes/{nid}/schemas/{version}
func (h *SchemaHandler) Get(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := ParseNodeID(w, r, h.logger)
	if !ok {
		return
	}
	version, ok := ParseSchemaVersion(w, r, h.logger)
	if !ok {
		return
	}

	sv, err := h.schemaService.GetVersion(r.Context(), nodeID, version)
	if err != nil {
		writeServiceError(w, err, "get_schema_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, sv, h.logger)
}

// Publish handles POST /api/nodes/{nid}/schemas/{version}/publish
func (h *SchemaHandler) Publish(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := ParseNodeID(w, r, h.logger)
	if !ok {
		return
	}
	version, ok := ParseSchemaVersion(w, r, h.logger)
	if !ok {
		return
	}
	actorID, ok := ParseActorID(w, r, h.logger)
	if !ok {
		return
	}

	sv, err := h.schemaService.PublishVersion(r.Context(), nodeID, version, actorID)
	if err != nil {
		writeServiceError(w, err, "publish_schema_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, sv, h.logger)
}

// Diff handles GET /api/nodes/{nid}/schemas/{version}/diff
func (h *SchemaHandler) Diff(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := ParseNodeID(w, r, h.logger)
	if !ok {
		return
	}
	version, ok := ParseSchemaVersion(w, r, h.logger)
	if !ok {
		return
	}

	diff, err := h.schemaService.GetDiff(r.Context(), nodeID, version)
	if err != nil {
		writeServiceError(w, err, "get_schema_diff_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, diff, h.logger)
}

// Resolve handles GET /api/nodes/{nid}/schema and returns the effective
// schema composed along the node's ancestor chain.
func (h *SchemaHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := ParseNodeID(w, r, h.logger)
	if !ok {
		return
	}

	entry, err := h.schemaService.ResolveSchema(r.Context(), nodeID)
	if err != nil {
		writeServiceError(w, err, "resolve_schema_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, entry, h.logger)
}

// Validate handles POST /api/nodes/{nid}/schema/validate
func (h *SchemaHandler) Validate(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := ParseNodeID(w, r, h.logger)
	if !ok {
		return
	}

	var req ValidatePayloadRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if req.Attributes == nil {
		req.Attributes = map[string]any{}
	}

	entry, err := h.registry.ValidatePayload(r.Context(), nodeID, req.Attributes)
	if err != nil {
		writeServiceError(w, err, "validate_payload_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, ValidatePayloadResponse{
		Valid:         true,
		NodeID:        entry.NodeID,
		SchemaVersion: entry.Version,
	}, h.logger)
}
