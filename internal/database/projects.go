package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/store"
)

const projectColumns = `id, owner_id, title, description, phase, nodes, edges, team, is_public, share_id, tracker, created_at, updated_at`

// ProjectRepository stores projects in PostgreSQL with the graph in JSONB columns
type ProjectRepository struct {
	db  *DB
	now func() time.Time
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{db: db, now: time.Now}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// projectRow holds the encoded column values of a project
type projectRow struct {
	nodes, edges, team []byte
	tracker            []byte
	shareID            sql.NullString
}

func encodeProject(p *models.Project) (*projectRow, error) {
	var (
		row projectRow
		err error
	)
	nodes, edges, team := p.Nodes, p.Edges, p.Team
	if nodes == nil {
		nodes = []models.PlanNode{}
	}
	if edges == nil {
		edges = []models.ProjectEdge{}
	}
	if team == nil {
		team = []models.TeamMember{}
	}
	if row.nodes, err = json.Marshal(nodes); err != nil {
		return nil, fmt.Errorf("failed to marshal nodes: %w", err)
	}
	if row.edges, err = json.Marshal(edges); err != nil {
		return nil, fmt.Errorf("failed to marshal edges: %w", err)
	}
	if row.team, err = json.Marshal(team); err != nil {
		return nil, fmt.Errorf("failed to marshal team: %w", err)
	}
	if p.Tracker != nil {
		if row.tracker, err = json.Marshal(p.Tracker); err != nil {
			return nil, fmt.Errorf("failed to marshal tracker: %w", err)
		}
	}
	if p.ShareID != nil {
		row.shareID = sql.NullString{String: *p.ShareID, Valid: true}
	}
	return &row, nil
}

func scanProject(s rowScanner) (*models.Project, error) {
	p := &models.Project{}
	var row projectRow
	err := s.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Title,
		&p.Description,
		&p.Phase,
		&row.nodes,
		&row.edges,
		&row.team,
		&p.IsPublic,
		&row.shareID,
		&row.tracker,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeJSONB(row.nodes, &p.Nodes); err != nil {
		return nil, fmt.Errorf("failed to decode nodes of project %s: %w", p.ID, err)
	}
	if err := decodeJSONB(row.edges, &p.Edges); err != nil {
		return nil, fmt.Errorf("failed to decode edges of project %s: %w", p.ID, err)
	}
	if err := decodeJSONB(row.team, &p.Team); err != nil {
		return nil, fmt.Errorf("failed to decode team of project %s: %w", p.ID, err)
	}
	if len(row.tracker) > 0 {
		p.Tracker = &models.TrackerLink{}
		if err := json.Unmarshal(row.tracker, p.Tracker); err != nil {
			return nil, fmt.Errorf("failed to decode tracker of project %s: %w", p.ID, err)
		}
	}
	if row.shareID.Valid {
		p.ShareID = &row.shareID.String
	}
	p.EnsureDefaults()
	return p, nil
}

func decodeJSONB(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

// GetProjects lists the owner's projects, most recently updated first
func (r *ProjectRepository) GetProjects(ctx context.Context, ownerID string) ([]*models.Project, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE owner_id = $1 ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	projects := make([]*models.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, nil
}

// GetProject retrieves a project by id
func (r *ProjectRepository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// CreateProject inserts a new project
func (r *ProjectRepository) CreateProject(ctx context.Context, p *models.Project) error {
	row, err := encodeProject(p)
	if err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		p.ID,
		p.OwnerID,
		p.Title,
		p.Description,
		p.Phase,
		row.nodes,
		row.edges,
		row.team,
		p.IsPublic,
		row.shareID,
		nullableJSON(row.tracker),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to create project %s: %w", p.ID, store.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// UpdateProject applies a partial update inside a transaction, locking the row
// so concurrent writers cannot interleave
func (r *ProjectRepository) UpdateProject(ctx context.Context, id string, update store.ProjectUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	p, err := scanProject(tx.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load project for update: %w", err)
	}

	update.Apply(p, r.now())
	row, err := encodeProject(p)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE projects
		SET title = $2, description = $3, phase = $4, nodes = $5, edges = $6, team = $7,
			is_public = $8, share_id = $9, tracker = $10, updated_at = $11
		WHERE id = $1
	`,
		p.ID,
		p.Title,
		p.Description,
		p.Phase,
		row.nodes,
		row.edges,
		row.team,
		p.IsPublic,
		row.shareID,
		nullableJSON(row.tracker),
		p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to update project %s: share id taken: %w", id, store.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit project update: %w", err)
	}
	return nil
}

// DeleteProject deletes a project by id
func (r *ProjectRepository) DeleteProject(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetProjectByShareID retrieves a public project by its share id
func (r *ProjectRepository) GetProjectByShareID(ctx context.Context, shareID string) (*models.Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE share_id = $1 AND is_public`, shareID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shared project: %w", err)
	}
	return p, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
