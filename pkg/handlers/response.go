package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/trialmatch/protocol-engine/pkg/apperrors"
)

// ApiResponse is the envelope for successful responses.
type ApiResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// ValidationErrorResponse lists every problem found in a request.
type ValidationErrorResponse struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	Violations []string `json:"violations"`
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

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeServiceError maps a service error onto a status code. Causes of
// unclassified errors are logged and never sent to the client.
func writeServiceError(w http.ResponseWriter, err error, op string, logger *zap.Logger) {
	var validation *apperrors.ValidationError
	var writeErr error

	switch {
	case errors.As(err, &validation):
		writeErr = WriteJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error:      "validation_error",
			Message:    "Request is invalid",
			Violations: validation.Violations,
		})
	case errors.Is(err, apperrors.ErrNotFound):
		writeErr = ErrorResponse(w, http.StatusNotFound, "not_found", "Protocol not found")
	case errors.Is(err, apperrors.ErrForbidden):
		writeErr = ErrorResponse(w, http.StatusForbidden, "forbidden", "You do not have permission to perform this action")
	case errors.Is(err, apperrors.ErrConflict):
		writeErr = ErrorResponse(w, http.StatusConflict, "conflict", "Protocol was modified by another request")
	default:
		logger.Error("Request failed", zap.String("operation", op), zap.Error(err))
		writeErr = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
	}

	if writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
