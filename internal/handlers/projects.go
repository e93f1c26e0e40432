package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/services/projects"
	"github.com/benvon/visionpath/internal/validation"
)

// ProjectService is the project surface the API needs
type ProjectService interface {
	List(ctx context.Context, ownerID string) ([]*models.Project, error)
	Get(ctx context.Context, id string) (*models.Project, error)
	Create(ctx context.Context, p *models.Project) error
	Mutate(ctx context.Context, id string, fn func(*models.Project) error) (*models.Project, error)
	MutateNow(ctx context.Context, id string, fn func(*models.Project) error) (*models.Project, error)
	Delete(ctx context.Context, id string) error
	GetShared(ctx context.Context, shareID string) (*models.Project, error)
}

// DraftLookup finds unsaved planning drafts
type DraftLookup interface {
	Draft(id string) (*models.Project, bool)
}

var _ ProjectService = (*projects.Service)(nil)

// ProjectHandler serves project, node and edge CRUD plus the graph queries
type ProjectHandler struct {
	projects ProjectService
	drafts   DraftLookup
	logger   *zap.Logger
	now      func() time.Time
}

// NewProjectHandler creates a project handler. drafts may be nil.
func NewProjectHandler(svc ProjectService, drafts DraftLookup, logger *zap.Logger) *ProjectHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectHandler{projects: svc, drafts: drafts, logger: logger, now: time.Now}
}

// RegisterRoutes registers project routes on the given router
// The router should already have the /projects prefix
func (h *ProjectHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.ListProjects).Methods("GET")
	r.HandleFunc("", h.CreateProject).Methods("POST")
	r.HandleFunc("/{id}", h.GetProject).Methods("GET")
	r.HandleFunc("/{id}", h.UpdateProject).Methods("PATCH")
	r.HandleFunc("/{id}", h.DeleteProject).Methods("DELETE")
	r.HandleFunc("/{id}/share", h.ShareProject).Methods("POST")
	r.HandleFunc("/{id}/share", h.UnshareProject).Methods("DELETE")

	r.HandleFunc("/{id}/nodes", h.CreateNode).Methods("POST")
	r.HandleFunc("/{id}/nodes/{nodeId}", h.UpdateNode).Methods("PATCH")
	r.HandleFunc("/{id}/nodes/{nodeId}", h.DeleteNode).Methods("DELETE")
	r.HandleFunc("/{id}/nodes/{nodeId}/comments", h.CreateComment).Methods("POST")
	r.HandleFunc("/{id}/edges", h.CreateEdge).Methods("POST")
	r.HandleFunc("/{id}/edges/{edgeId}", h.DeleteEdge).Methods("DELETE")

	r.HandleFunc("/{id}/graph", h.GetGraph).Methods("GET")
	r.HandleFunc("/{id}/progress", h.GetProgress).Methods("GET")
	r.HandleFunc("/{id}/validate", h.ValidateProject).Methods("GET")
	r.HandleFunc("/{id}/nodes/{nodeId}/blast-radius", h.GetBlastRadius).Methods("GET")
	r.HandleFunc("/{id}/nodes/{nodeId}/context", h.GetNodeContext).Methods("GET")
}

// CreateProjectRequest represents a create project request
type CreateProjectRequest struct {
	Title       string `json:"title" validate:"required,max=500"`
	Description string `json:"description" validate:"max=20000"`
}

// UpdateProjectRequest is a partial project update
type UpdateProjectRequest struct {
	Title       *string              `json:"title,omitempty" validate:"omitempty,min=1,max=500"`
	Description *string              `json:"description,omitempty" validate:"omitempty,max=20000"`
	Team        *[]models.TeamMember `json:"team,omitempty"`
}

// ShareResponse reports a project's sharing state
type ShareResponse struct {
	IsPublic bool    `json:"isPublic"`
	ShareID  *string `json:"shareId,omitempty"`
}

// loadOwned returns a project or draft owned by the requesting user
func (h *ProjectHandler) loadOwned(ctx context.Context, id string, user *models.User) (*models.Project, error) {
	return loadOwned(ctx, h.projects, h.drafts, id, user)
}

// loadOwned looks in drafts first, then in svc. drafts may be nil.
func loadOwned(ctx context.Context, svc ProjectService, drafts DraftLookup, id string, user *models.User) (*models.Project, error) {
	if drafts != nil {
		if d, ok := drafts.Draft(id); ok {
			if d.OwnerID != user.OwnerID() {
				return nil, errNotOwner
			}
			return d, nil
		}
	}
	p, err := svc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != user.OwnerID() {
		return nil, errNotOwner
	}
	return p, nil
}

// owned wraps a mutation so it only applies to the user's own project
func owned(user *models.User, fn func(*models.Project) error) func(*models.Project) error {
	return func(p *models.Project) error {
		if p.OwnerID != user.OwnerID() {
			return errNotOwner
		}
		return fn(p)
	}
}

// ListProjects lists the authenticated user's projects
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	list, err := h.projects.List(r.Context(), user.OwnerID())
	if err != nil {
		h.logger.Error("failed_to_list_projects", zap.String("user_id", user.OwnerID()), zap.Error(err))
		respondServiceError(w, err, "Failed to retrieve projects")
		return
	}
	if list == nil {
		list = []*models.Project{}
	}
	respondJSON(w, http.StatusOK, list)
}

// CreateProject creates an empty active project
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req CreateProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	title := validation.SanitizeText(req.Title)
	if title == "" {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Title is required and cannot be empty after sanitization")
		return
	}

	now := h.now()
	p := &models.Project{
		ID:          uuid.NewString(),
		OwnerID:     user.OwnerID(),
		Title:       title,
		Description: validation.SanitizeText(req.Description),
		Phase:       models.ProjectPhaseActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p.EnsureDefaults()
	if err := h.projects.Create(r.Context(), p); err != nil {
		h.logger.Error("failed_to_create_project", zap.Error(err))
		respondServiceError(w, err, "Failed to create project")
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// GetProject returns a project or planning draft
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, err := h.loadOwned(r.Context(), mux.Vars(r)["id"], user)
	if err != nil {
		respondServiceError(w, err, "Failed to retrieve project")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// UpdateProject edits project metadata and the team
func (h *ProjectHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req UpdateProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var team []models.TeamMember
	if req.Team != nil {
		var err error
		if team, err = cleanTeam(*req.Team); err != nil {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
	}

	p, err := h.projects.Mutate(r.Context(), mux.Vars(r)["id"], owned(user, func(p *models.Project) error {
		if req.Title != nil {
			title := validation.SanitizeText(*req.Title)
			if title == "" {
				return fmt.Errorf("%w: title cannot be empty", validation.ErrInvalid)
			}
			p.Title = title
		}
		if req.Description != nil {
			p.Description = validation.SanitizeText(*req.Description)
		}
		if req.Team != nil {
			projects.SetTeam(p, team)
		}
		return nil
	}))
	if err != nil {
		respondServiceError(w, err, "Failed to update project")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// cleanTeam trims members, requires a name and assigns missing ids
func cleanTeam(in []models.TeamMember) ([]models.TeamMember, error) {
	out := make([]models.TeamMember, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, m := range in {
		m.Name = validation.SanitizeText(m.Name)
		m.Email = strings.TrimSpace(m.Email)
		m.Role = validation.SanitizeText(m.Role)
		if m.Name == "" {
			return nil, errors.New("team members need a name")
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if seen[m.ID] {
			return nil, errors.New("duplicate team member id: " + m.ID)
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out, nil
}

// DeleteProject deletes a project
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := h.loadOwned(r.Context(), id, user); err != nil {
		respondServiceError(w, err, "Failed to delete project")
		return
	}
	if err := h.projects.Delete(r.Context(), id); err != nil {
		h.logger.Error("failed_to_delete_project", zap.String("project_id", id), zap.Error(err))
		respondServiceError(w, err, "Failed to delete project")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ShareProject makes a project publicly readable by its share id. The share
// id is kept when sharing is toggled again.
func (h *ProjectHandler) ShareProject(w http.ResponseWriter, r *http.Request) {
	h.setShared(w, r, true)
}

// UnshareProject revokes public access and discards the share id
func (h *ProjectHandler) UnshareProject(w http.ResponseWriter, r *http.Request) {
	h.setShared(w, r, false)
}

func (h *ProjectHandler) setShared(w http.ResponseWriter, r *http.Request, public bool) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, err := h.projects.MutateNow(r.Context(), mux.Vars(r)["id"], owned(user, func(p *models.Project) error {
		p.IsPublic = public
		switch {
		case !public:
			p.ShareID = nil
		case p.ShareID == nil:
			p.ShareID = models.StringPtr(uuid.NewString())
		}
		return nil
	}))
	if err != nil {
		respondServiceError(w, err, "Failed to update sharing")
		return
	}
	h.logger.Info("project_sharing_changed", zap.String("project_id", p.ID), zap.Bool("is_public", p.IsPublic))
	respondJSON(w, http.StatusOK, ShareResponse{IsPublic: p.IsPublic, ShareID: p.ShareID})
}
