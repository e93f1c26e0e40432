package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/benvon/visionpath/internal/models"
)

// ErrUserNotFound is returned when a user lookup matches nothing
var ErrUserNotFound = errors.New("user not found")

// UserRepository handles user database operations
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, provider_id, name, email_verified, created_at, updated_at`

func scanUser(s rowScanner) (*models.User, error) {
	user := &models.User{}
	err := s.Scan(
		&user.ID,
		&user.Email,
		&user.ProviderID,
		&user.Name,
		&user.EmailVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpsertFromClaims returns the user for a verified token subject, creating it on
// first sign-in and refreshing email and name on later ones
func (r *UserRepository) UpsertFromClaims(ctx context.Context, claims *models.JWTClaims) (*models.User, error) {
	if claims == nil || claims.Sub == "" {
		return nil, errors.New("token subject is required")
	}
	var name *string
	if claims.Name != "" {
		name = &claims.Name
	}
	now := time.Now()
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, TRUE, $5, $5)
		ON CONFLICT (provider_id) DO UPDATE SET
			email = EXCLUDED.email,
			name = COALESCE(EXCLUDED.name, users.name),
			updated_at = CASE
				WHEN users.email IS DISTINCT FROM EXCLUDED.email
					OR (EXCLUDED.name IS NOT NULL AND users.name IS DISTINCT FROM EXCLUDED.name)
				THEN EXCLUDED.updated_at
				ELSE users.updated_at
			END
		RETURNING `+userColumns,
		uuid.New(), claims.Email, claims.Sub, name, now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 ORDER BY created_at LIMIT 1`, email))
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}
