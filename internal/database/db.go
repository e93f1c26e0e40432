// Package database holds the PostgreSQL repositories: projects, users and the
// hot-reloadable server settings.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	pingTimeout            = 5 * time.Second
)

// pq error codes
const (
	uniqueViolation = "23505"
)

// DB wraps the connection pool shared by all repositories
type DB struct {
	*sql.DB
}

// New opens a PostgreSQL pool and verifies the connection
func New(databaseURL string) (*DB, error) {
	if databaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	connector, err := pq.NewConnector(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	sqlDB := sql.OpenDB(connector)
	sqlDB.SetMaxOpenConns(defaultMaxOpenConns)
	sqlDB.SetMaxIdleConns(defaultMaxIdleConns)
	sqlDB.SetConnMaxLifetime(defaultConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &DB{DB: sqlDB}, nil
}

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL,
		provider_id TEXT UNIQUE,
		name TEXT,
		email_verified BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		phase TEXT NOT NULL DEFAULT 'active',
		nodes JSONB NOT NULL DEFAULT '[]'::jsonb,
		edges JSONB NOT NULL DEFAULT '[]'::jsonb,
		team JSONB NOT NULL DEFAULT '[]'::jsonb,
		is_public BOOLEAN NOT NULL DEFAULT FALSE,
		share_id TEXT UNIQUE,
		tracker JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_owner_updated ON projects (owner_id, updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS oidc_config (
		id UUID PRIMARY KEY,
		provider TEXT NOT NULL UNIQUE,
		issuer TEXT NOT NULL,
		domain TEXT,
		client_id TEXT NOT NULL,
		client_secret TEXT,
		redirect_uri TEXT NOT NULL,
		jwks_url TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cors_config (
		config_key TEXT PRIMARY KEY,
		allowed_origins TEXT NOT NULL,
		allow_credentials BOOLEAN NOT NULL DEFAULT FALSE,
		max_age INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ratelimit_config (
		config_key TEXT PRIMARY KEY,
		rate TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates any missing tables and indexes
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}

// Healthy pings the database
func (db *DB) Healthy(ctx context.Context) error {
	return db.PingContext(ctx)
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint error
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
