package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/exchange"
	"github.com/benvon/visionpath/internal/middleware"
)

var filenameUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// ExchangeHandler serves project export and import
type ExchangeHandler struct {
	projects  ProjectService
	drafts    DraftLookup
	logger    *zap.Logger
	maxImport int64
	now       func() time.Time
}

// NewExchangeHandler creates an export/import handler. maxImport <= 0 uses middleware.DefaultMaxImportSize.
func NewExchangeHandler(svc ProjectService, drafts DraftLookup, maxImport int64, logger *zap.Logger) *ExchangeHandler {
	if maxImport <= 0 {
		maxImport = middleware.DefaultMaxImportSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExchangeHandler{projects: svc, drafts: drafts, logger: logger, maxImport: maxImport, now: time.Now}
}

// RegisterRoutes registers routes on the /api/v1 router. They must be
// registered ahead of the /projects subrouter.
func (h *ExchangeHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/projects/import", h.ImportProject).Methods("POST")
	r.HandleFunc("/projects/{id}/export", h.ExportProject).Methods("GET")
}

// ExportProject downloads a project as a versioned JSON document
func (h *ExchangeHandler) ExportProject(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, err := loadOwned(r.Context(), h.projects, h.drafts, mux.Vars(r)["id"], user)
	if err != nil {
		respondServiceError(w, err, "Failed to retrieve project")
		return
	}
	data, err := exchange.Export(p, h.now())
	if err != nil {
		h.logger.Error("failed_to_export_project", zap.String("project_id", p.ID), zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to export project")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.json"`, exportFilename(p.Title)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("failed_to_write_export", zap.Error(err))
	}
}

// exportFilename slugs a project title for the download name
func exportFilename(title string) string {
	slug := strings.Trim(filenameUnsafe.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if slug == "" {
		slug = "project"
	}
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}
	return slug + "-visionpath"
}

// ImportProject creates a new project for the user from an export document
// or a bare project JSON
func (h *ExchangeHandler) ImportProject(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	if r.ContentLength > h.maxImport {
		respondJSONError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large",
			fmt.Sprintf("Import exceeds maximum size of %d bytes", h.maxImport))
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxImport))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respondJSONError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large",
				fmt.Sprintf("Import exceeds maximum size of %d bytes", maxBytesErr.Limit))
			return
		}
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Failed to read request body")
		return
	}

	p, err := exchange.Import(data, user.OwnerID(), h.now())
	if err != nil {
		if errors.Is(err, exchange.ErrInvalidFormat) {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to import project")
		return
	}
	if err := h.projects.Create(r.Context(), p); err != nil {
		h.logger.Error("failed_to_store_import", zap.Error(err))
		respondServiceError(w, err, "Failed to import project")
		return
	}
	h.logger.Info("project_imported",
		zap.String("project_id", p.ID),
		zap.String("owner_id", p.OwnerID),
		zap.Int("nodes", len(p.Nodes)),
		zap.Int("edges", len(p.Edges)),
	)
	respondJSON(w, http.StatusCreated, p)
}
