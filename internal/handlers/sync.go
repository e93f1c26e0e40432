package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/queue"
)

// JobEnqueuer publishes background jobs
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) error
}

// SyncHandler queues issue tracker syncs
type SyncHandler struct {
	projects ProjectService
	jobs     JobEnqueuer
	logger   *zap.Logger
}

// NewSyncHandler creates a sync handler. A nil jobs disables sync.
func NewSyncHandler(svc ProjectService, jobs JobEnqueuer, logger *zap.Logger) *SyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHandler{projects: svc, jobs: jobs, logger: logger}
}

// RegisterRoutes registers sync routes
// The router should already have the /projects prefix
func (h *SyncHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/{id}/sync", h.RequestSync).Methods("POST")
}

// SyncResponse identifies the queued job
type SyncResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// RequestSync enqueues a tracker sync for a saved project
func (h *SyncHandler) RequestSync(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	if h.jobs == nil {
		respondJSONError(w, http.StatusServiceUnavailable, "Service Unavailable", "Issue tracker sync is not configured")
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := loadOwned(r.Context(), h.projects, nil, id, user); err != nil {
		respondServiceError(w, err, "Failed to retrieve project")
		return
	}

	job := queue.NewTrackerSyncJob(id, user.OwnerID())
	if err := h.jobs.Enqueue(r.Context(), job); err != nil {
		h.logger.Error("failed_to_enqueue_tracker_sync", zap.String("project_id", id), zap.Error(err))
		respondJSONError(w, http.StatusServiceUnavailable, "Service Unavailable", "Failed to queue sync")
		return
	}
	h.logger.Info("tracker_sync_enqueued", zap.String("project_id", id), zap.String("job_id", job.ID.String()))
	respondJSON(w, http.StatusAccepted, SyncResponse{JobID: job.ID.String(), Status: "queued"})
}
