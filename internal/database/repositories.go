package database

import (
	"context"

	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/store"
)

// UserStore resolves authenticated users
type UserStore interface {
	UpsertFromClaims(ctx context.Context, claims *models.JWTClaims) (*models.User, error)
}

// OIDCConfigSource loads identity provider settings
type OIDCConfigSource interface {
	GetByProvider(ctx context.Context, provider string) (*models.OIDCConfig, error)
}

// CorsConfigSource loads the hot-reloadable CORS policy
type CorsConfigSource interface {
	Get(ctx context.Context) (*models.CorsConfig, error)
}

// RatelimitConfigSource loads the hot-reloadable request rate
type RatelimitConfigSource interface {
	Get(ctx context.Context) (*models.RatelimitConfig, error)
}

// Ensure concrete types implement the interfaces
var (
	_ UserStore             = (*UserRepository)(nil)
	_ OIDCConfigSource      = (*OIDCConfigRepository)(nil)
	_ CorsConfigSource      = (*CorsConfigRepository)(nil)
	_ RatelimitConfigSource = (*RatelimitConfigRepository)(nil)
	_ store.ProjectStore    = (*ProjectRepository)(nil)
)
