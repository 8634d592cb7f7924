package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// BulkLifecycleRequest for POST /api/cards/bulk/lifecycle
type BulkLifecycleRequest struct {
	CardIDs []int64 `json:"card_ids"`
	models.LifecycleChange
}

// BulkMethodologiesRequest for POST /api/cards/bulk/methodologies
type BulkMethodologiesRequest struct {
	CardIDs        []int64                `json:"card_ids"`
	MethodologyIDs []int64                `json:"methodology_ids"`
	Mode           models.MethodologyMode `json:"mode"`
}

// BulkResponse reports per-card outcomes of a bulk operation.
type BulkResponse struct {
	Results []models.BulkItemResult `json:"results"`
	Updated int                     `json:"updated"`
}

func newBulkResponse(results []models.BulkItemResult) BulkResponse {
	updated := 0
	for _, r := range results {
		if r.Status == models.BulkItemUpdated {
			updated++
		}
	}
	return BulkResponse{Results: results, Updated: updated}
}

// ============================================================================
// Handler
// ============================================================================

// CardHandler handles nomenclature card HTTP requests.
type CardHandler struct {
	cardService services.CardService
	logger      *zap.Logger
}

// NewCardHandler creates a new card handler.
func NewCardHandler(cardService services.CardService, logger *zap.Logger) *CardHandler {
	return &CardHandler{
		cardService: cardService,
		logger:      logger,
	}
}

// RegisterRoutes registers the card handler's routes on the given mux.
func (h *CardHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	base := "/api/cards"

	mux.HandleFunc("GET "+base, scope(h.List))
	mux.HandleFunc("POST "+base, scope(h.Create))
	mux.HandleFunc("POST "+base+"/bulk/lifecycle", scope(h.BulkLifecycle))
	mux.HandleFunc("POST "+base+"/bulk/methodologies", scope(h.BulkMethodologies))
	mux.HandleFunc("GET "+base+"/{cid}", scope(h.Get))
	mux.HandleFunc("PATCH "+base+"/{cid}", scope(h.Update))
	mux.HandleFunc("POST "+base+"/{cid}/refresh", scope(h.Refresh))
	mux.HandleFunc("GET "+base+"/{cid}/versions", scope(h.ListVersions))
	mux.HandleFunc("POST "+base+"/{cid}/lifecycle", scope(h.ChangeLifecycle))
}

// List handles GET /api/cards
//
// Query parameters: node_id, lifecycle_status, manufacturer, code,
// has_methodology, search, search_mode (text|semantic|combined),
// sort (updated_at|code), order (asc|desc), page, page_size.
func (h *CardHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	page, err := h.cardService.ListCards(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err, "list_cards_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, page, h.logger)
}

func (h *CardHandler) parseFilter(w http.ResponseWriter, r *http.Request) (models.CardFilter, bool) {
	q := r.URL.Query()
	filter := models.CardFilter{
		Manufacturer: q.Get("manufacturer"),
		Code:         q.Get("code"),
		Search:       q.Get("search"),
		SearchMode:   models.SearchMode(q.Get("search_mode")),
		Sort:         models.CardSort(q.Get("sort")),
	}

	nodeID, ok := queryInt64(w, r, "node_id", h.logger)
	if !ok {
		return filter, false
	}
	filter.NodeID = nodeID

	hasMethodology, ok := queryBool(w, r, "has_methodology", h.logger)
	if !ok {
		return filter, false
	}
	filter.HasMethodology = hasMethodology

	if raw := q.Get("lifecycle_status"); raw != "" {
		status := models.LifecycleStatus(raw)
		filter.LifecycleStatus = &status
	}

	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
	case "desc":
		filter.Descending = true
	default:
		writeServiceError(w, fmt.Errorf("%w: order must be asc or desc", apperrors.ErrInvalidInput), "", h.logger)
		return filter, false
	}

	for name, dst := range map[string]*int{"page": &filter.Page, "page_size": &filter.PageSize} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeServiceError(w, fmt.Errorf("%w: invalid %s %q", apperrors.ErrInvalidInput, name, raw), "", h.logger)
			return filter, false
		}
		*dst = v
	}

	return filter, true
}

// Create handles POST /api/cards
func (h *CardHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, ok := ParseActorID(w, r, h.logger)
	if !ok {
		return
	}

	var req models.CardCreate
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	card, err := h.cardService.CreateCard(r.Context(), &req, actorID)
	if err != nil {
		writeServiceError(w, err, "create_card_failed", h.logger)
		return
	}

	writeOK(w, http.StatusCreated, card, h.logger)
}

// Get handles GET /api/cards/{cid}
func (h *CardHandler) Get(w http.ResponseWriter, r *http.Request) {
	cardID, ok := ParseCardID(w, r, h.logger)
	if !ok {
		return
	}

	card, err := h.cardService.GetCard(r.Context(), cardID)
	if err != nil {
		writeServiceError(w, err, "get_card_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, card, h.logger)
}

// Update handles PATCH /api/cards/{cid}
func (h *CardHandler) Update(w http.ResponseWriter, r *http.Request) {
	cardID, ok := ParseCardID(w, r, h.logger)
	if !ok {
		return
	}
	actorID, ok := ParseActorID(w, r, h.logger)
	if !ok {
		return
	}

	var req models.CardUpdate
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	card, err := h.cardService.UpdateCard(r.Context(), cardID, &req, actorID)
	if err != nil {
		writeServiceError(w, err, "update_card_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, card, h.logger)
}

// Refresh handles POST /api/cards/{cid}/refresh
func (h *CardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cardID, ok := ParseCardID(w, r, h.logger)
	if !ok {
		return
	}
	actorID, ok := ParseActorID(w, r, h.logger)
	if !ok {
		return
	}

	card, err := h.cardService.RefreshNodeVersion(r.Context(), cardID, actorID)
	if err != nil {
		writeServiceError(w, err, "refresh_card_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, card, h.logger)
}

// ListVersions handles GET /api/cards/{cid}/versions
func (h *CardHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	cardID, ok := ParseCardID(w, r, h.logger)
	if !ok {
		return
	}

	versions, err := h.cardService.ListCardVersions(r.Context(), cardID)
	if err != nil {
		writeServiceError(w, err, "list_card_versions_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, versions, h.logger)
}

// ChangeLifecycle handles POST /api/cards/{cid}/lifecycle
func (h *CardHandler) ChangeLifecycle(w http.ResponseWriter, r *http.Request) {
	cardID, ok := ParseCardID(w, r, h.logger)
	if !ok {
		return
	}
	actorID, ok := ParseActorID(w, r, h.logger)
	if !ok {
		return
	}

	var req models.LifecycleChange
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	card, err := h.cardService.ChangeLifecycle(r.Context(), cardID, &req, actorID)
	if err != nil {
		writeServiceError(w, err, "change_lifecycle_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, card, h.logger)
}

// BulkLifecycle handles POST /api/cards/bulk/lifecycle
func (h *CardHandler) BulkLifecycle(w http.ResponseWriter, r *http.Request) {
	actorID, ok := ParseActorID(w, r, h.logger)
	if !ok {
		return
	}

	var req BulkLifecycleRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if len(req.CardIDs) == 0 {
		writeServiceError(w, fmt.Errorf("%w: card_ids must not be empty", apperrors.ErrInvalidInput), "", h.logger)
		return
	}

	results, err := h.cardService.BulkChangeLifecycle(r.Context(), req.CardIDs, &req.LifecycleChange, actorID)
	if err != nil {
		writeServiceError(w, err, "bulk_lifecycle_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, newBulkResponse(results), h.logger)
}

// BulkMethodologies handles POST /api/cards/bulk/methodologies
func (h *CardHandler) BulkMethodologies(w http.ResponseWriter, r *http.Request) {
	var req BulkMethodologiesRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if len(req.CardIDs) == 0 {
		writeServiceError(w, fmt.Errorf("%w: card_ids must not be empty", apperrors.ErrInvalidInput), "", h.logger)
		return
	}

	results, err := h.cardService.BulkUpdateMethodologies(r.Context(), req.CardIDs, req.MethodologyIDs, req.Mode)
	if err != nil {
		writeServiceError(w, err, "bulk_methodologies_failed", h.logger)
		return
	}

	writeOK(w, http.StatusOK, newBulkResponse(results), h.logger)
}
