package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/graph"
	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/services/projects"
	"github.com/benvon/visionpath/internal/telemetry"
)

// GraphResponse is the node set with explicit and derived hierarchy edges
type GraphResponse struct {
	Nodes []models.PlanNode    `json:"nodes"`
	Edges []models.ProjectEdge `json:"edges"`
}

// NodeContextResponse is the text summary of a node's surroundings
type NodeContextResponse struct {
	NodeID  string `json:"nodeId"`
	Context string `json:"context"`
}

// ProgressResponse holds per-goal completion
type ProgressResponse struct {
	Goals []graph.GoalProgressEntry `json:"goals"`
}

// ValidateResponse lists structural problems in a project graph
type ValidateResponse struct {
	Valid   bool          `json:"valid"`
	Issues  []graph.Issue `json:"issues"`
	Orphans []string      `json:"orphans"`
}

// GetGraph returns nodes plus hierarchy edges derived from parent links,
// followed by the project's explicit edges, without repeats
func (h *ProjectHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, err := h.loadOwned(r.Context(), mux.Vars(r)["id"], user)
	if err != nil {
		respondServiceError(w, err, "Failed to retrieve project")
		return
	}
	respondJSON(w, http.StatusOK, GraphResponse{Nodes: p.Nodes, Edges: graph.RenderEdges(p)})
}

// GetProgress reports completion per goal
func (h *ProjectHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, err := h.loadOwned(r.Context(), mux.Vars(r)["id"], user)
	if err != nil {
		respondServiceError(w, err, "Failed to retrieve project")
		return
	}
	respondJSON(w, http.StatusOK, ProgressResponse{Goals: graph.ProjectProgress(p)})
}

// ValidateProject reports orphans, parent cycles and dangling edges
func (h *ProjectHandler) ValidateProject(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, err := h.loadOwned(r.Context(), mux.Vars(r)["id"], user)
	if err != nil {
		respondServiceError(w, err, "Failed to retrieve project")
		return
	}
	issues := graph.ValidateHierarchy(p)
	if issues == nil {
		issues = []graph.Issue{}
	}
	respondJSON(w, http.StatusOK, ValidateResponse{
		Valid:   len(issues) == 0,
		Issues:  issues,
		Orphans: graph.OrphanIDs(p),
	})
}

// GetBlastRadius returns every node affected by a change to the given node
func (h *ProjectHandler) GetBlastRadius(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	p, err := h.loadOwned(r.Context(), vars["id"], user)
	if err != nil {
		respondServiceError(w, err, "Failed to retrieve project")
		return
	}
	summary, err := blastRadius(r, p, vars["nodeId"], h.logger)
	if err != nil {
		respondServiceError(w, err, "Failed to compute blast radius")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// blastRadius summarizes the blast radius of nodeID, recording a span and
// the query metrics
func blastRadius(r *http.Request, p *models.Project, nodeID string, logger *zap.Logger) (graph.BlastRadiusSummary, error) {
	if p.NodeByID(nodeID) == nil {
		return graph.BlastRadiusSummary{}, fmt.Errorf("%w: %s", projects.ErrNodeNotFound, nodeID)
	}
	_, span := telemetry.StartSpan(r.Context(), "graph.blast_radius",
		telemetry.ProjectAttr(p.ID),
		telemetry.NodeAttr(nodeID),
	)
	defer span.End()

	start := time.Now()
	summary := graph.Summarize(nodeID, p)
	elapsed := time.Since(start)
	telemetry.ObserveBlastRadius(elapsed, summary.Total)
	logger.Debug("blast_radius_computed",
		zap.String("project_id", p.ID),
		zap.String("node_id", nodeID),
		zap.Int("affected", summary.Total),
		zap.Duration("elapsed", elapsed),
	)
	return summary, nil
}

// GetNodeContext returns the planning context summary for a node
func (h *ProjectHandler) GetNodeContext(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	p, err := h.loadOwned(r.Context(), vars["id"], user)
	if err != nil {
		respondServiceError(w, err, "Failed to retrieve project")
		return
	}
	if p.NodeByID(vars["nodeId"]) == nil {
		respondServiceError(w, fmt.Errorf("%w: %s", projects.ErrNodeNotFound, vars["nodeId"]), "")
		return
	}
	respondJSON(w, http.StatusOK, NodeContextResponse{
		NodeID:  vars["nodeId"],
		Context: graph.BuildNodeContext(vars["nodeId"], p),
	})
}
