package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/planmerge"
	"github.com/benvon/visionpath/internal/services/ai"
)

// DefaultChatTimeout bounds one planning turn including the provider call
const DefaultChatTimeout = 90 * time.Second

// Planner runs AI planning conversations
type Planner interface {
	StartDraft(ownerID, title, description string) *models.Project
	Draft(id string) (*models.Project, bool)
	SaveDraft(ctx context.Context, id, ownerID string) (*models.Project, error)
	Turn(ctx context.Context, projectID, ownerID, message string) (*ai.TurnResult, error)
	History(projectID string) ([]ai.ChatMessage, planmerge.Phase)
	GenerateAttachment(ctx context.Context, projectID, nodeID, ownerID string, kind models.AttachmentKind) (*models.Attachment, error)
}

var _ Planner = (*ai.PlanningService)(nil)

// PlanningHandler serves the chat planning flow
type PlanningHandler struct {
	planner  Planner
	projects ProjectService
	timeout  time.Duration
	logger   *zap.Logger
}

// NewPlanningHandler creates a planning handler. timeout <= 0 uses DefaultChatTimeout.
func NewPlanningHandler(planner Planner, svc ProjectService, timeout time.Duration, logger *zap.Logger) *PlanningHandler {
	if timeout <= 0 {
		timeout = DefaultChatTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanningHandler{planner: planner, projects: svc, timeout: timeout, logger: logger}
}

// RegisterRoutes registers planning routes
// The router should already have the /projects prefix
func (h *PlanningHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/draft", h.StartDraft).Methods("POST")
	r.HandleFunc("/{id}/chat", h.SendMessage).Methods("POST")
	r.HandleFunc("/{id}/chat", h.GetHistory).Methods("GET")
	r.HandleFunc("/{id}/save", h.SaveDraft).Methods("POST")
	r.HandleFunc("/{id}/nodes/{nodeId}/documents", h.GenerateDocument).Methods("POST")
}

// StartDraftRequest opens a planning draft
type StartDraftRequest struct {
	Title       string `json:"title" validate:"max=500"`
	Description string `json:"description" validate:"max=20000"`
}

// ChatMessageRequest represents a chat message request
type ChatMessageRequest struct {
	Message string `json:"message" validate:"required,max=20000"`
}

// GenerateDocumentRequest selects the document to write for a node
type GenerateDocumentRequest struct {
	Kind models.AttachmentKind `json:"kind" validate:"required,oneof=prd prompt"`
}

// HistoryResponse is the conversation so far
type HistoryResponse struct {
	Phase    planmerge.Phase  `json:"phase"`
	Messages []ai.ChatMessage `json:"messages"`
}

// StartDraft creates an unsaved project to plan in
func (h *PlanningHandler) StartDraft(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req StartDraftRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	respondJSON(w, http.StatusCreated, h.planner.StartDraft(user.OwnerID(), req.Title, req.Description))
}

// SendMessage runs one planning turn and returns the merged project
func (h *PlanningHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req ChatMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := mux.Vars(r)["id"]
	result, err := h.planner.Turn(ctx, id, user.OwnerID(), req.Message)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			respondJSONError(w, http.StatusGatewayTimeout, "Gateway Timeout", "The AI took too long to respond. Nothing was changed.")
			return
		}
		h.logger.Warn("chat_turn_failed", zap.String("project_id", id), zap.Error(err))
		respondServiceError(w, err, ai.UserMessage(err))
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetHistory returns the planning conversation of a project
func (h *PlanningHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := loadOwned(r.Context(), h.projects, h.planner, id, user); err != nil {
		respondServiceError(w, err, "Failed to retrieve project")
		return
	}
	messages, phase := h.planner.History(id)
	respondJSON(w, http.StatusOK, HistoryResponse{Phase: phase, Messages: messages})
}

// SaveDraft persists a planning draft as an active project
func (h *PlanningHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, err := h.planner.SaveDraft(r.Context(), mux.Vars(r)["id"], user.OwnerID())
	if err != nil {
		respondServiceError(w, err, "Failed to save project")
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// GenerateDocument writes a PRD or implementation prompt for a node and
// attaches it
func (h *PlanningHandler) GenerateDocument(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req GenerateDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	vars := mux.Vars(r)
	att, err := h.planner.GenerateAttachment(ctx, vars["id"], vars["nodeId"], user.OwnerID(), req.Kind)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			respondJSONError(w, http.StatusGatewayTimeout, "Gateway Timeout", "The AI took too long to respond. Nothing was changed.")
			return
		}
		respondServiceError(w, err, ai.UserMessage(err))
		return
	}
	respondJSON(w, http.StatusCreated, att)
}
