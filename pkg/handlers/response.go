package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/wut-feedback/feedback-engine/pkg/apperrors"
	"github.com/wut-feedback/feedback-engine/pkg/services"
)

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
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeServiceError maps domain errors onto HTTP statuses. Unmapped
// errors log at error level and surface as a 500 without detail.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrProfessorNotFound):
		_ = ErrorResponse(w, http.StatusNotFound, "professor_not_found", err.Error())
	case errors.Is(err, services.ErrCourseNotFound):
		_ = ErrorResponse(w, http.StatusNotFound, "course_not_found", err.Error())
	case errors.Is(err, services.ErrAmbiguousProfessor):
		_ = ErrorResponse(w, http.StatusConflict, "ambiguous_professor", err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, apperrors.ErrInvalidInput):
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		logger.Error("request failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
