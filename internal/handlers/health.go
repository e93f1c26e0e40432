package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

const healthCheckTimeout = 5 * time.Second

// HealthCheck checks one dependency
type HealthCheck func(ctx context.Context) error

// HealthChecker handles health check requests
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]HealthCheck
	names  []string
}

// NewHealthChecker creates a health checker with no dependency checks
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]HealthCheck)}
}

// Register adds a named dependency check run in extended mode
func (h *HealthChecker) Register(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.checks[name]; !exists {
		h.names = append(h.names, name)
		sort.Strings(h.names)
	}
	h.checks[name] = check
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck handles the /healthz endpoint. ?mode=extended runs every
// registered dependency check and answers 503 if any fails.
func (h *HealthChecker) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	statusCode := http.StatusOK

	if r.URL.Query().Get("mode") == "extended" {
		response.Checks = h.run(r.Context())
		for _, result := range response.Checks {
			if result != "healthy" {
				response.Status = "unhealthy"
				statusCode = http.StatusServiceUnavailable
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func (h *HealthChecker) run(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	h.mu.RLock()
	defer h.mu.RUnlock()
	results := make(map[string]string, len(h.names))
	for _, name := range h.names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = "unhealthy: " + sanitizeErrorMessage(err.Error())
			continue
		}
		results[name] = "healthy"
	}
	return results
}

// VersionInfo describes the running build
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

// VersionHandler serves /version
func VersionHandler(info VersionInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, info)
	}
}
