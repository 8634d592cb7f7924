package handlers

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/services"
)

// PresetHandler handles attribute preset HTTP requests.
type PresetHandler struct {
	presetService services.PresetService
	logger        *zap.Logger
}

// NewPresetHandler creates a new preset handler.
func NewPresetHandler(presetService services.PresetService, logger *zap.Logger) *PresetHandler {
	return &PresetHandler{
		presetService: presetService,
		logger:        logger,
	}
}

// RegisterRoutes registers the preset handler's routes on the given mux.
func (h *PresetHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	base := "/api/presets"

	mux.HandleFunc("GET "+base, scope(h.List))
	mux.HandleFunc("POST "+base, scope(h.Create))
	mux.HandleFunc("GET "+base+"/{prid}", scope(h.Get))
	mux.HandleFunc("PATCH "+base+"/{prid}", scope(h.Update))
	mux.HandleFunc("DELETE "+base+"/{prid}", scope(h.Archive))
}

// List handles GET /api/presets?status=
func (h *PresetHandler) List(w http.ResponseWriter, r *http.Request) {
	var status *models.SchemaStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := models.SchemaStatus(raw)
		status = &s
	}

	presets, err := h.presetService.ListPresets(r.Context(), status)
	if err != nil {
		writeServiceError(w, err, "list_presets_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, presets, h.logger)
}

// Create handles POST /api/presets
func (h *PresetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.PresetCreate
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	preset, err := h.presetService.CreatePreset(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "create_preset_failed", h.logger)
		return
	}

	writeOK(w, http.StatusCreated, preset, h.logger)
}

// Get handles GET /api/presets/{prid}
func (h *PresetHandler) Get(w http.ResponseWriter, r *http.Request) {
	presetID, ok := ParsePresetID(w, r, h.logger)
	if !ok {
		return
	}

	preset, err := h.presetService.GetPreset(r.Context(), presetID)
	if err != nil {
		writeServiceError(w, err, "get_preset_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, preset, h.logger)
}

// Update handles PATCH /api/presets/{prid}
func (h *PresetHandler) Update(w http.ResponseWriter, r *http.Request) {
	presetID, ok := ParsePresetID(w, r, h.logger)
	if !ok {
		return
	}

	var req models.PresetUpdate
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if req.Title == nil && req.Description == nil && req.Document == nil && req.Version == nil {
		writeServiceError(w, fmt.Errorf("%w: no fields to update", apperrors.ErrInvalidInput), "", h.logger)
		return
	}

	preset, err := h.presetService.UpdatePreset(r.Context(), presetID, &req)
	if err != nil {
		writeServiceError(w, err, "update_preset_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, preset, h.logger)
}

// Archive handles DELETE /api/presets/{prid}
func (h *PresetHandler) Archive(w http.ResponseWriter, r *http.Request) {
	presetID, ok := ParsePresetID(w, r, h.logger)
	if !ok {
		return
	}

	preset, err := h.presetService.ArchivePreset(r.Context(), presetID)
	if err != nil {
		writeServiceError(w, err, "archive_preset_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, preset, h.logger)
}
