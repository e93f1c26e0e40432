package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/models"
)

// ShareHandler serves read-only views of public projects. Routes are unauthenticated.
type ShareHandler struct {
	projects ProjectService
	logger   *zap.Logger
}

// NewShareHandler creates a public share handler
func NewShareHandler(svc ProjectService, logger *zap.Logger) *ShareHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShareHandler{projects: svc, logger: logger}
}

// RegisterRoutes registers share routes
// The router should already have the /share prefix
func (h *ShareHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/{shareId}", h.GetShared).Methods("GET")
	r.HandleFunc("/{shareId}/nodes/{nodeId}/blast-radius", h.GetSharedBlastRadius).Methods("GET")
}

// load returns the public project for shareId, or nil after writing a 404
func (h *ShareHandler) load(w http.ResponseWriter, r *http.Request) *models.Project {
	p, err := h.projects.GetShared(r.Context(), mux.Vars(r)["shareId"])
	if err != nil || !p.IsPublic {
		respondJSONError(w, http.StatusNotFound, "Not Found", "Shared project not found")
		return nil
	}
	return publicView(p)
}

// publicView strips owner, contact and tracker details from a shared project
func publicView(p *models.Project) *models.Project {
	out := p.Clone()
	out.OwnerID = ""
	out.Tracker = nil
	for i := range out.Team {
		out.Team[i].Email = ""
	}
	for i := range out.Nodes {
		for j := range out.Nodes[i].Comments {
			out.Nodes[i].Comments[j].AuthorID = ""
		}
	}
	return out
}

// GetShared returns a public project
func (h *ShareHandler) GetShared(w http.ResponseWriter, r *http.Request) {
	if p := h.load(w, r); p != nil {
		respondJSON(w, http.StatusOK, p)
	}
}

// GetSharedBlastRadius runs the blast radius query on a public project
func (h *ShareHandler) GetSharedBlastRadius(w http.ResponseWriter, r *http.Request) {
	p := h.load(w, r)
	if p == nil {
		return
	}
	summary, err := blastRadius(r, p, mux.Vars(r)["nodeId"], h.logger)
	if err != nil {
		respondServiceError(w, err, "Failed to compute blast radius")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
