package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/database"
	"github.com/benvon/visionpath/internal/services/oidc"
)

// LoginConfigSource builds frontend login configuration for a provider
type LoginConfigSource interface {
	GetLoginConfig(ctx context.Context, providerName, state string) (*oidc.LoginConfig, error)
}

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	logins       LoginConfigSource
	providerName string
	logger       *zap.Logger
}

// NewAuthHandler creates a new auth handler for the named OIDC provider
func NewAuthHandler(logins LoginConfigSource, providerName string, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{logins: logins, providerName: providerName, logger: logger}
}

// RegisterPublicRoutes registers the unauthenticated login route
// The router should already have the /api/v1/auth prefix
func (h *AuthHandler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/oidc/login", h.GetOIDCLogin).Methods("GET")
}

// RegisterRoutes registers routes that need an authenticated user
// The router should already have the /api/v1/auth prefix
func (h *AuthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/me", h.GetMe).Methods("GET")
}

// GetOIDCLogin returns OIDC configuration for the frontend with a fresh state value
func (h *AuthHandler) GetOIDCLogin(w http.ResponseWriter, r *http.Request) {
	loginConfig, err := h.logins.GetLoginConfig(r.Context(), h.providerName, uuid.NewString())
	if err != nil {
		if errors.Is(err, database.ErrOIDCConfigNotFound) {
			respondJSONError(w, http.StatusNotFound, "Not Found", "OIDC provider is not configured")
			return
		}
		h.logger.Error("failed_to_get_oidc_login_config", zap.String("provider", h.providerName), zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to get OIDC configuration")
		return
	}
	respondJSON(w, http.StatusOK, loginConfig)
}

// GetMe returns current user information
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, user)
}
