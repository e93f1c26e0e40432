package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/services/projects"
)

// CreateCommentRequest represents a comment on a node
type CreateCommentRequest struct {
	Body string `json:"body" validate:"required,max=10000"`
}

// DeleteNodeResponse lists every node removed with the subtree
type DeleteNodeResponse struct {
	Removed []string `json:"removed"`
}

// CreateNode adds a node to a project
func (h *ProjectHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in projects.NodeInput
	if !decodeJSON(w, r, &in) {
		return
	}

	var created models.PlanNode
	_, err := h.projects.Mutate(r.Context(), mux.Vars(r)["id"], owned(user, func(p *models.Project) error {
		n, err := projects.AddNode(p, in)
		if err != nil {
			return err
		}
		created = n.Clone()
		return nil
	}))
	if err != nil {
		respondServiceError(w, err, "Failed to create node")
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// UpdateNode patches a node's fields (status, assignee, title and the rest)
func (h *ProjectHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var patch projects.NodePatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	vars := mux.Vars(r)
	var updated models.PlanNode
	_, err := h.projects.Mutate(r.Context(), vars["id"], owned(user, func(p *models.Project) error {
		n, err := projects.UpdateNode(p, vars["nodeId"], patch)
		if err != nil {
			return err
		}
		updated = n.Clone()
		return nil
	}))
	if err != nil {
		respondServiceError(w, err, "Failed to update node")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DeleteNode removes a node and its subtree
func (h *ProjectHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	var removed []string
	_, err := h.projects.Mutate(r.Context(), vars["id"], owned(user, func(p *models.Project) error {
		var err error
		removed, err = projects.DeleteNode(p, vars["nodeId"])
		return err
	}))
	if err != nil {
		respondServiceError(w, err, "Failed to delete node")
		return
	}
	h.logger.Info("node_deleted",
		zap.String("project_id", vars["id"]),
		zap.String("node_id", vars["nodeId"]),
		zap.Int("removed", len(removed)),
	)
	respondJSON(w, http.StatusOK, DeleteNodeResponse{Removed: removed})
}

// CreateComment appends a comment authored by the requesting user
func (h *ProjectHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req CreateCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	var created models.Comment
	_, err := h.projects.Mutate(r.Context(), vars["id"], owned(user, func(p *models.Project) error {
		c, err := projects.AddComment(p, vars["nodeId"], user.OwnerID(), req.Body, h.now())
		if err != nil {
			return err
		}
		created = *c
		return nil
	}))
	if err != nil {
		respondServiceError(w, err, "Failed to add comment")
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// CreateEdge links two nodes of a project
func (h *ProjectHandler) CreateEdge(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in projects.EdgeInput
	if !decodeJSON(w, r, &in) {
		return
	}

	var created models.ProjectEdge
	_, err := h.projects.Mutate(r.Context(), mux.Vars(r)["id"], owned(user, func(p *models.Project) error {
		e, err := projects.AddEdge(p, in)
		if err != nil {
			return err
		}
		created = *e
		return nil
	}))
	if err != nil {
		respondServiceError(w, err, "Failed to create edge")
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// DeleteEdge removes an edge
func (h *ProjectHandler) DeleteEdge(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	_, err := h.projects.Mutate(r.Context(), vars["id"], owned(user, func(p *models.Project) error {
		return projects.DeleteEdge(p, vars["edgeId"])
	}))
	if err != nil {
		respondServiceError(w, err, "Failed to delete edge")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
