package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActorHeader carries the optional UUID of the user performing a request.
const ActorHeader = "X-Actor-ID"

// ParseNodeID extracts and validates the node ID from the request path.
// Returns the parsed ID and true on success, or 0 and false on error
// (after writing an error response).
// Expects path parameter: nid
func ParseNodeID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	return parseInt64(w, r, "nid", "invalid_node_id", "Invalid node ID", logger)
}

// ParseCardID extracts and validates the card ID from the request path.
// Expects path parameter: cid
func ParseCardID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	return parseInt64(w, r, "cid", "invalid_card_id", "Invalid card ID", logger)
}

// ParsePresetID extracts and validates the preset ID from the request path.
// Expects path parameter: prid
func ParsePresetID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	return parseInt64(w, r, "prid", "invalid_preset_id", "Invalid preset ID", logger)
}

// ParseSchemaVersion extracts the schema version number from the request path.
// Expects path parameter: version
func ParseSchemaVersion(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int, bool) {
	v, ok := parseInt64(w, r, "version", "invalid_version", "Invalid schema version", logger)
	return int(v), ok
}

// ParseActorID reads the X-Actor-ID header. A missing header yields nil;
// a malformed one writes a 400 and returns false.
func ParseActorID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*uuid.UUID, bool) {
	raw := strings.TrimSpace(r.Header.Get(ActorHeader))
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_actor_id", "Invalid "+ActorHeader+" header"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}
	return &id, true
}

// decodeBody decodes the JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, logger *zap.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return false
	}
	return true
}

// queryInt64 parses an optional integer query parameter.
func queryInt64(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (*int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_query", "Invalid "+name+" parameter"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}
	return &v, true
}

// queryBool parses an optional boolean query parameter.
func queryBool(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (*bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_query", "Invalid "+name+" parameter"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}
	return &v, true
}

// parseInt64 is the internal helper that does the actual parsing work.
func parseInt64(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(pathParam), 10, 64)
	if err != nil || id <= 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return id, true
}
