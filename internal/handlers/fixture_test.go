package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/benvon/visionpath/internal/autosave"
	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/planmerge"
	"github.com/benvon/visionpath/internal/queue"
	"github.com/benvon/visionpath/internal/request"
	"github.com/benvon/visionpath/internal/services/ai"
	"github.com/benvon/visionpath/internal/services/projects"
	"github.com/benvon/visionpath/internal/store"
)

const testUserHeader = "X-Test-User"

var (
	alice = &models.User{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000a"), Email: "alice@example.com"}
	bob   = &models.User{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000b"), Email: "bob@example.com"}
)

// stubProvider replays queued plan responses
type stubProvider struct {
	mu        sync.Mutex
	responses []*ai.PlanResponse
	err       error
	document  string
}

func (s *stubProvider) GeneratePlan(context.Context, []ai.ChatMessage, string) (*ai.PlanResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &ai.PlanResponse{Message: "ok", Nodes: []planmerge.Fragment{}}, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func (s *stubProvider) GenerateDocument(context.Context, models.AttachmentKind, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.document, nil
}

type fixture struct {
	router   *mux.Router
	projects *projects.Service
	planner  *ai.PlanningService
	provider *stubProvider
	jobs     *queue.MemoryQueue
}

// withTestUser authenticates requests carrying X-Test-User: alice|bob
func withTestUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get(testUserHeader) {
		case "alice":
			r = r.WithContext(request.WithUser(r.Context(), alice))
		case "bob":
			r = r.WithContext(request.WithUser(r.Context(), bob))
		}
		next.ServeHTTP(w, r)
	})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenLocal(store.InMemoryLocalConfig())
	if err != nil {
		t.Fatalf("OpenLocal() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	saver := autosave.NewSaver(st, nil, autosave.WithDelay(time.Hour))
	svc := projects.NewService(st, saver, nil)
	provider := &stubProvider{document: "# PRD"}
	planner := ai.NewPlanningService(provider, svc, nil)
	jobs := queue.NewMemoryQueue()

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(withTestUser)
	NewShareHandler(svc, nil).RegisterRoutes(api.PathPrefix("/share").Subrouter())
	NewExchangeHandler(svc, planner, 4096, nil).RegisterRoutes(api)
	pr := api.PathPrefix("/projects").Subrouter()
	NewPlanningHandler(planner, svc, time.Second, nil).RegisterRoutes(pr)
	NewSyncHandler(svc, jobs, nil).RegisterRoutes(pr)
	NewProjectHandler(svc, planner, nil).RegisterRoutes(pr)

	return &fixture{router: r, projects: svc, planner: planner, provider: provider, jobs: jobs}
}

// do sends a request as user ("" for anonymous) and returns the recorder
func (f *fixture) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the data field of a success envelope into dst
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode envelope: %v (body %s)", err, rec.Body.String())
	}
	if !env.Success {
		t.Fatalf("expected success envelope, got %s", rec.Body.String())
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

// seedProject creates a project for alice with goal g1, feature f1 (child of
// g1) and task t1 (child of f1)
func (f *fixture) seedProject(t *testing.T) *models.Project {
	t.Helper()
	p := &models.Project{
		ID:      uuid.NewString(),
		OwnerID: alice.OwnerID(),
		Title:   "Bakery",
		Phase:   models.ProjectPhaseActive,
		Nodes: []models.PlanNode{
			{ID: "g1", Type: models.NodeTypeGoal, Title: "Open a bakery", Status: models.NodeStatusNotStarted},
			{ID: "f1", Type: models.NodeTypeFeature, Title: "Online orders", ParentID: models.StringPtr("g1"), Status: models.NodeStatusInProgress},
			{ID: "t1", Type: models.NodeTypeTask, Title: "Checkout page", ParentID: models.StringPtr("f1"), Status: models.NodeStatusCompleted},
		},
		Team: []models.TeamMember{{ID: "m1", Name: "Sam", Email: "sam@example.com"}},
	}
	p.EnsureDefaults()
	if err := f.projects.Create(context.Background(), p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return p
}
