package http

import (
	"encoding/json"
	"net/http"

	"github.com/BradenHooton/sessioncore/internal/models"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success             bool              `json:"success"`
	Message             string            `json:"message"`
	Errors              map[string]string `json:"errors,omitempty"`
	UsernameSuggestions []string          `json:"usernameSuggestions,omitempty"`
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind models.Kind) int {
	switch kind {
	case models.KindValidation, models.KindConflict:
		return http.StatusBadRequest
	case models.KindAuthentication:
		return http.StatusUnauthorized
	case models.KindAuthorization:
		return http.StatusForbidden
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes v as a JSON body with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a failure body with only a message.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Success: false, Message: message})
}

// WriteAppError resolves err to its kind and writes the matching status and
// body. Internal causes never reach the client.
func WriteAppError(w http.ResponseWriter, err error) {
	appErr := models.AsError(err)
	if appErr == nil {
		appErr = models.InternalError(nil)
	}

	WriteJSON(w, StatusForKind(appErr.Kind), ErrorResponse{
		Success:             false,
		Message:             appErr.Message,
		Errors:              appErr.Fields,
		UsernameSuggestions: appErr.Suggestions,
	})
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, message)
}

func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "Internal server error")
}
