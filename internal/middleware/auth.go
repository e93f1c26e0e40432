package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	logpkg "github.com/benvon/visionpath/internal/logger"
	"github.com/benvon/visionpath/internal/database"
	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/request"
)

// TokenAuthenticator verifies a bearer token and returns its claims
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.JWTClaims, error)
}

// UserFromContext extracts the user from the request context
func UserFromContext(r *http.Request) *models.User {
	return request.UserFromContext(r)
}

// Auth creates authentication middleware that validates bearer tokens and
// resolves the caller to a stored user
func Auth(authenticator TokenAuthenticator, users database.UserStore, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, http.StatusUnauthorized, "Missing Authorization header", logger)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				respondError(w, http.StatusUnauthorized, "Invalid Authorization header format", logger)
				return
			}

			ctx := r.Context()
			claims, err := authenticator.Authenticate(ctx, parts[1])
			if err != nil {
				logger.Warn("token_verification_failed",
					zap.String("error", logpkg.SanitizeError(err)),
					zap.String("path", logpkg.SanitizePath(r.URL.Path)),
				)
				respondError(w, http.StatusUnauthorized, "Invalid or expired token", logger)
				return
			}

			user, err := users.UpsertFromClaims(ctx, claims)
			if err != nil {
				logger.Error("failed_to_resolve_user",
					zap.String("error", logpkg.SanitizeError(err)),
					zap.String("sub", logpkg.SanitizeUserID(claims.Sub)),
				)
				respondError(w, http.StatusInternalServerError, "Database error", logger)
				return
			}

			next.ServeHTTP(w, r.WithContext(request.WithUser(ctx, user)))
		})
	}
}

// LocalUser attaches a fixed user to every request. It serves single-device
// deployments that run without a user database or identity provider.
func LocalUser(user *models.User) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(request.WithUser(r.Context(), user)))
		})
	}
}

func respondError(w http.ResponseWriter, status int, message string, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success": false,
		"error":   message,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("failed_to_encode_error_response", zap.Error(err))
	}
}
