package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benvon/visionpath/internal/services/ai"
	"github.com/benvon/visionpath/internal/services/projects"
	"github.com/benvon/visionpath/internal/store"
	"github.com/benvon/visionpath/internal/validation"
)

func TestRespondJSON(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	respondJSON(w, http.StatusCreated, map[string]string{"message": "hello"})

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got '%s'", ct)
	}

	var body struct {
		Success   bool              `json:"success"`
		Data      map[string]string `json:"data"`
		Timestamp string            `json:"timestamp"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !body.Success || body.Data["message"] != "hello" {
		t.Errorf("unexpected body: %+v", body)
	}
	if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
		t.Errorf("Timestamp '%s' is not valid RFC3339: %v", body.Timestamp, err)
	}
}

func TestRespondJSONError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		message     string
		wantMessage string
	}{
		{"short message", "Invalid input", "Invalid input"},
		{"long message is truncated", strings.Repeat("x", 300), strings.Repeat("x", 200) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			respondJSONError(w, http.StatusBadRequest, "Bad Request", tt.message)

			var body map[string]any
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
			if success, ok := body["success"].(bool); !ok || success {
				t.Error("Expected success to be false")
			}
			if body["error"] != "Bad Request" {
				t.Errorf("Expected error 'Bad Request', got '%v'", body["error"])
			}
			if body["message"] != tt.wantMessage {
				t.Errorf("message = %v, want %q", body["message"], tt.wantMessage)
			}
		})
	}
}

func TestRespondServiceError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing project", fmt.Errorf("get: %w", store.ErrNotFound), http.StatusNotFound},
		{"not owner", errNotOwner, http.StatusNotFound},
		{"planner not owner", ai.ErrNotOwner, http.StatusNotFound},
		{"missing draft", projects.ErrDraftNotFound, http.StatusNotFound},
		{"missing node", projects.ErrNodeNotFound, http.StatusNotFound},
		{"duplicate edge", projects.ErrDuplicateEdge, http.StatusConflict},
		{"conflict", store.ErrConflict, http.StatusConflict},
		{"invalid parent", projects.ErrInvalidParent, http.StatusBadRequest},
		{"validation", fmt.Errorf("%w: Title failed required", validation.ErrInvalid), http.StatusBadRequest},
		{"rate limited", ai.ErrRateLimited, http.StatusTooManyRequests},
		{"bad ai reply", ai.ErrInvalidResponse, http.StatusBadGateway},
		{"ai disabled", ai.ErrProviderDisabled, http.StatusServiceUnavailable},
		{"anything else", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			respondServiceError(w, tt.err, "fallback")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusInternalServerError && strings.Contains(w.Body.String(), "disk on fire") {
				t.Error("internal error text leaked to the client")
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		limit  int64
		wantOK bool
		want   int
	}{
		{"valid", `{"body":"hi"}`, 0, true, http.StatusOK},
		{"fails validation", `{"body":""}`, 0, false, http.StatusBadRequest},
		{"malformed", `{`, 0, false, http.StatusBadRequest},
		{"over limit", `{"body":"` + strings.Repeat("a", 64) + `"}`, 16, false, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.limit > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, tt.limit)
			}
			var req CreateCommentRequest
			if got := decodeJSON(w, r, &req); got != tt.wantOK {
				t.Fatalf("decodeJSON() = %v, want %v", got, tt.wantOK)
			}
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
