package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/request"
	"github.com/benvon/visionpath/internal/services/ai"
	"github.com/benvon/visionpath/internal/services/projects"
	"github.com/benvon/visionpath/internal/store"
	"github.com/benvon/visionpath/internal/validation"
)

const maxErrorMessageLength = 200

// errNotOwner hides projects owned by someone else behind a 404
var errNotOwner = errors.New("project not found")

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// sanitizeErrorMessage caps error text sent to clients
func sanitizeErrorMessage(message string) string {
	if len(message) > maxErrorMessageLength {
		return message[:maxErrorMessageLength] + "..."
	}
	return message
}

// respondJSONError sends an error JSON response with sanitized error messages
func respondJSONError(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success":   false,
		"error":     errorType,
		"message":   sanitizeErrorMessage(message),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// requireUser returns the authenticated user or writes a 401
func requireUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user := request.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return nil, false
	}
	return user, true
}

// decodeJSON reads a JSON body into dst and validates it. It writes the
// error response itself and reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respondJSONError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large",
				fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxBytesErr.Limit))
			return false
		}
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return false
	}
	if err := validation.Struct(dst); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Validation failed: "+err.Error())
		return false
	}
	return true
}

// respondServiceError maps domain errors onto HTTP statuses
func respondServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, errNotOwner), errors.Is(err, ai.ErrNotOwner),
		errors.Is(err, projects.ErrDraftNotFound):
		respondJSONError(w, http.StatusNotFound, "Not Found", "Project not found")
	case errors.Is(err, projects.ErrNodeNotFound), errors.Is(err, projects.ErrEdgeNotFound):
		respondJSONError(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, store.ErrConflict), errors.Is(err, projects.ErrDuplicateNode), errors.Is(err, projects.ErrDuplicateEdge):
		respondJSONError(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, projects.ErrInvalidParent), errors.Is(err, projects.ErrInvalidEdge),
		errors.Is(err, projects.ErrUnknownAssignee), errors.Is(err, ai.ErrEmptyMessage),
		errors.Is(err, validation.ErrInvalid):
		respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, ai.ErrRateLimited), errors.Is(err, ai.ErrQuotaExceeded):
		respondJSONError(w, http.StatusTooManyRequests, "Too Many Requests", ai.UserMessage(err))
	case errors.Is(err, ai.ErrInvalidResponse), errors.Is(err, ai.ErrNoChoices):
		respondJSONError(w, http.StatusBadGateway, "Bad Gateway", ai.UserMessage(err))
	case errors.Is(err, ai.ErrProviderDisabled):
		respondJSONError(w, http.StatusServiceUnavailable, "Service Unavailable", "AI planning is not configured")
	default:
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", fallback)
	}
}
