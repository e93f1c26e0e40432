// Package store defines the project persistence boundary and the non-SQL
// backends behind it: a Badger local store, a sticky fallback wrapper and a
// Redis cache for public share lookups.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/benvon/visionpath/internal/models"
)

var (
	// ErrNotFound is returned when a project does not exist
	ErrNotFound = errors.New("project not found")
	// ErrConflict is returned when creating a project whose id or share id is taken
	ErrConflict = errors.New("project already exists")
)

// ProjectStore persists whole projects
type ProjectStore interface {
	GetProjects(ctx context.Context, ownerID string) ([]*models.Project, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	CreateProject(ctx context.Context, project *models.Project) error
	UpdateProject(ctx context.Context, id string, update ProjectUpdate) error
	DeleteProject(ctx context.Context, id string) error
	GetProjectByShareID(ctx context.Context, shareID string) (*models.Project, error)
}

// ProjectUpdate is a partial update. Nil fields are left unchanged.
type ProjectUpdate struct {
	Title       *string               `json:"title,omitempty"`
	Description *string               `json:"description,omitempty"`
	Phase       *models.ProjectPhase  `json:"phase,omitempty"`
	Nodes       *[]models.PlanNode    `json:"nodes,omitempty"`
	Edges       *[]models.ProjectEdge `json:"edges,omitempty"`
	Team        *[]models.TeamMember  `json:"team,omitempty"`
	IsPublic    *bool                 `json:"isPublic,omitempty"`
	ShareID     *string               `json:"shareId,omitempty"`
	ClearShare  bool                  `json:"-"`
	Tracker     *models.TrackerLink   `json:"tracker,omitempty"`
}

// FullUpdate returns an update that replaces every user-editable field with
// p's values. The tracker link is written only by the sync worker, so a
// debounced save of an older snapshot never clobbers fresh external ids.
func FullUpdate(p *models.Project) ProjectUpdate {
	title, desc, phase, public := p.Title, p.Description, p.Phase, p.IsPublic
	nodes, edges, team := p.Nodes, p.Edges, p.Team
	u := ProjectUpdate{
		Title:       &title,
		Description: &desc,
		Phase:       &phase,
		Nodes:       &nodes,
		Edges:       &edges,
		Team:        &team,
		IsPublic:    &public,
	}
	if p.ShareID != nil {
		s := *p.ShareID
		u.ShareID = &s
	} else {
		u.ClearShare = true
	}
	return u
}

// IsEmpty reports whether the update changes nothing
func (u ProjectUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.Phase == nil && u.Nodes == nil &&
		u.Edges == nil && u.Team == nil && u.IsPublic == nil && u.ShareID == nil &&
		!u.ClearShare && u.Tracker == nil
}

// Apply writes the set fields onto p and stamps UpdatedAt
func (u ProjectUpdate) Apply(p *models.Project, now time.Time) {
	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Phase != nil {
		p.Phase = *u.Phase
	}
	if u.Nodes != nil {
		p.Nodes = *u.Nodes
	}
	if u.Edges != nil {
		p.Edges = *u.Edges
	}
	if u.Team != nil {
		p.Team = *u.Team
	}
	if u.IsPublic != nil {
		p.IsPublic = *u.IsPublic
	}
	if u.ClearShare {
		p.ShareID = nil
	}
	if u.ShareID != nil {
		s := *u.ShareID
		p.ShareID = &s
	}
	if u.Tracker != nil {
		t := *u.Tracker
		p.Tracker = &t
	}
	p.UpdatedAt = now
}
