package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/llm"
	"github.com/uralreduktor/seny/pkg/schemadoc"
)

// ApiResponse is the envelope of every JSON response.
type ApiResponse struct {
	Success bool     `json:"success"`
	Data    any      `json:"data,omitempty"`
	Error   string   `json:"error,omitempty"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// ValidationErrorResponse writes a 422 response listing every violation.
func ValidationErrorResponse(w http.ResponseWriter, errorCode, message string, violations []string) error {
	return WriteJSON(w, http.StatusUnprocessableEntity, ApiResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
		Errors:  violations,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeOK wraps data in a successful envelope.
func writeOK(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeServiceError maps a service error to its HTTP status. Unknown errors
// are logged and reported as 500 with fallbackCode.
func writeServiceError(w http.ResponseWriter, err error, fallbackCode string, logger *zap.Logger) {
	var (
		registryErr  *apperrors.RegistryError
		schemaErr    *apperrors.SchemaValidationError
		lifecycleErr *apperrors.LifecycleValidationError
		embeddingErr *llm.EmbeddingError
		writeErr     error
	)

	switch {
	case errors.As(err, &schemaErr):
		writeErr = ValidationErrorResponse(w, "schema_validation_failed", "Attributes do not match the class schema", schemaErr.Errors)
	case errors.As(err, &lifecycleErr):
		writeErr = ValidationErrorResponse(w, "lifecycle_validation_failed", "Lifecycle transition is not allowed", lifecycleErr.Errors)
	case errors.As(err, &registryErr):
		writeErr = ErrorResponse(w, http.StatusUnprocessableEntity, "schema_not_published", err.Error())
	case errors.As(err, &embeddingErr):
		logger.Warn("Embedding request failed",
			zap.String("kind", string(embeddingErr.Kind)),
			zap.Bool("retryable", embeddingErr.Retryable),
			zap.Error(err))
		writeErr = ErrorResponse(w, http.StatusBadGateway, "embedding_failed", err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		writeErr = ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		writeErr = ErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperrors.ErrInvalidInput):
		writeErr = ErrorResponse(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, schemadoc.ErrInvalidSchema):
		writeErr = ErrorResponse(w, http.StatusBadRequest, "invalid_schema", err.Error())
	default:
		logger.Error("Request failed", zap.String("error_code", fallbackCode), zap.Error(err))
		writeErr = ErrorResponse(w, http.StatusInternalServerError, fallbackCode, "Internal server error")
	}

	if writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
