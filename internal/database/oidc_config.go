package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/visionpath/internal/models"
)

// ErrOIDCConfigNotFound is returned when no configuration exists for a provider
var ErrOIDCConfigNotFound = errors.New("OIDC config not found")

const oidcColumns = `id, provider, issuer, domain, client_id, client_secret, redirect_uri, jwks_url, created_at, updated_at`

// OIDCConfigRepository stores identity provider settings, one row per provider
type OIDCConfigRepository struct {
	db *DB
}

// NewOIDCConfigRepository creates a new OIDC config repository
func NewOIDCConfigRepository(db *DB) *OIDCConfigRepository {
	return &OIDCConfigRepository{db: db}
}

func scanOIDCConfig(s rowScanner) (*models.OIDCConfig, error) {
	c := &models.OIDCConfig{}
	err := s.Scan(
		&c.ID,
		&c.Provider,
		&c.Issuer,
		&c.Domain,
		&c.ClientID,
		&c.ClientSecret,
		&c.RedirectURI,
		&c.JWKSUrl,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOIDCConfigNotFound
	}
	return c, err
}

// Save creates or replaces the configuration for config.Provider. The id of an
// existing row is kept.
func (r *OIDCConfigRepository) Save(ctx context.Context, config *models.OIDCConfig) error {
	now := time.Now()
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO oidc_config (`+oidcColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (provider) DO UPDATE SET
			issuer = EXCLUDED.issuer,
			domain = EXCLUDED.domain,
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			redirect_uri = EXCLUDED.redirect_uri,
			jwks_url = EXCLUDED.jwks_url,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`,
		config.ID,
		config.Provider,
		config.Issuer,
		config.Domain,
		config.ClientID,
		config.ClientSecret,
		config.RedirectURI,
		config.JWKSUrl,
		now,
	).Scan(&config.ID, &config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save OIDC config: %w", err)
	}
	return nil
}

// GetByProvider retrieves the configuration for a provider name
func (r *OIDCConfigRepository) GetByProvider(ctx context.Context, provider string) (*models.OIDCConfig, error) {
	c, err := scanOIDCConfig(r.db.QueryRowContext(ctx,
		`SELECT `+oidcColumns+` FROM oidc_config WHERE provider = $1`, provider))
	if err != nil {
		return nil, fmt.Errorf("failed to get OIDC config %s: %w", provider, err)
	}
	return c, nil
}

// GetAll lists every configured provider
func (r *OIDCConfigRepository) GetAll(ctx context.Context) ([]*models.OIDCConfig, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+oidcColumns+` FROM oidc_config ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("failed to list OIDC configs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var configs []*models.OIDCConfig
	for rows.Next() {
		c, err := scanOIDCConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan OIDC config: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating OIDC configs: %w", err)
	}
	return configs, nil
}

// Delete removes the configuration for a provider
func (r *OIDCConfigRepository) Delete(ctx context.Context, provider string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM oidc_config WHERE provider = $1`, provider)
	if err != nil {
		return fmt.Errorf("failed to delete OIDC config: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrOIDCConfigNotFound
	}
	return nil
}
