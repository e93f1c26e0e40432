package models

import (
	"time"

	"github.com/google/uuid"
)

// OIDCConfig is the identity provider configuration stored in the database
type OIDCConfig struct {
	ID           uuid.UUID `json:"id"`
	Provider     string    `json:"provider"`
	Issuer       string    `json:"issuer"`
	Domain       *string   `json:"domain,omitempty"` // OAuth2 hosted domain, e.g. Cognito
	ClientID     string    `json:"client_id"`
	ClientSecret *string   `json:"client_secret,omitempty"`
	RedirectURI  string    `json:"redirect_uri"`
	JWKSUrl      *string   `json:"jwks_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CorsConfig is the hot-reloadable CORS policy
type CorsConfig struct {
	ConfigKey        string    `json:"config_key"`
	AllowedOrigins   string    `json:"allowed_origins"` // comma-separated
	AllowCredentials bool      `json:"allow_credentials"`
	MaxAge           int       `json:"max_age"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RatelimitConfig is the hot-reloadable request rate, formatted for ulule/limiter ("5-S", "100-M")
type RatelimitConfig struct {
	ConfigKey string    `json:"config_key"`
	Rate      string    `json:"rate"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
