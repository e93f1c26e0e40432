package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benvon/visionpath/internal/models"
)

func syncProject() *models.Project {
	due := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	est := 4.0
	return &models.Project{
		ID:   "p1",
		Team: []models.TeamMember{{ID: "m1", Name: "Ana", Email: "ana@example.com"}, {ID: "m2", Name: "Bo"}},
		Nodes: []models.PlanNode{
			{ID: "g1", Type: models.NodeTypeGoal, Title: "Launch"},
			{ID: "f1", Type: models.NodeTypeFeature, Title: "Signup", ParentID: models.StringPtr("g1")},
			{
				ID: "t1", Type: models.NodeTypeTask, Title: "Email form", Description: "Build the form",
				ParentID: models.StringPtr("f1"), Status: models.NodeStatusInProgress,
				AssigneeID: models.StringPtr("m1"), Priority: models.PriorityHigh, DueDate: &due, Estimate: &est,
				Tags:      []string{"frontend", " "},
				Questions: []models.QAItem{{Question: "Which fields?", Answer: "Email only"}, {Question: "Captcha?"}},
			},
			{ID: "t2", Type: models.NodeTypeTask, Title: "Bo's task", AssigneeID: models.StringPtr("m2")},
		},
	}
}

func TestIssueFromNode(t *testing.T) {
	t.Parallel()
	p := syncProject()
	issue := IssueFromNode(p, p.NodeByID("t1"))

	if issue.Title != "Email form" || issue.State != "in_progress" {
		t.Errorf("unexpected title/state %q %q", issue.Title, issue.State)
	}
	wantDesc := "Path: Launch > Signup\n\nBuild the form\n\nQ: Which fields?\nA: Email only"
	if issue.Description != wantDesc {
		t.Errorf("Description = %q, want %q", issue.Description, wantDesc)
	}
	wantLabels := []string{"frontend", "priority:high", "type:task", "visionpath"}
	if len(issue.Labels) != len(wantLabels) {
		t.Fatalf("Labels = %v, want %v", issue.Labels, wantLabels)
	}
	for i := range wantLabels {
		if issue.Labels[i] != wantLabels[i] {
			t.Errorf("Labels = %v, want %v", issue.Labels, wantLabels)
			break
		}
	}
	if issue.Assignee != "ana@example.com" || issue.DueDate != "2026-05-01" || issue.Estimate == nil || *issue.Estimate != 4 {
		t.Errorf("unexpected assignee/due/estimate %+v", issue)
	}

	if got := IssueFromNode(p, p.NodeByID("t2")).Assignee; got != "Bo" {
		t.Errorf("assignee without email should fall back to name, got %q", got)
	}
}

func TestSyncableAndState(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		typ  models.NodeType
		want bool
	}{
		{models.NodeTypeGoal, false},
		{models.NodeTypeSubgoal, false},
		{models.NodeTypeFeature, true},
		{models.NodeTypeTask, true},
		{models.NodeTypeNotes, false},
	} {
		if got := Syncable(&models.PlanNode{Type: tt.typ}); got != tt.want {
			t.Errorf("Syncable(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}
	for status, want := range map[models.NodeStatus]string{
		models.NodeStatusNotStarted: "open",
		models.NodeStatusInProgress: "in_progress",
		models.NodeStatusCompleted:  "closed",
		models.NodeStatusBlocked:    "blocked",
		"":                          "open",
	} {
		if got := State(status); got != want {
			t.Errorf("State(%q) = %q, want %q", status, got, want)
		}
	}
}

type fakeTracker struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []Issue
	status   int
}

func (f *fakeTracker) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var issue Issue
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &issue); err != nil {
			t.Errorf("tracker received invalid body %q", data)
		}
		f.requests = append(f.requests, r)
		f.bodies = append(f.bodies, issue)
		switch {
		case f.status != 0:
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte("boom"))
		case r.Method == http.MethodPost && r.URL.Path == "/api/issues":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"ISS-7"}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/api/issues/ISS-7":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestClient(t *testing.T, f *fakeTracker) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(Config{BaseURL: srv.URL + "/api/", Token: "secret-token", RequestsPerSecond: 100})
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}
	return c
}

func TestHTTPClient_CreateAndUpdate(t *testing.T) {
	t.Parallel()
	f := &fakeTracker{}
	c := newTestClient(t, f)
	ctx := context.Background()

	id, err := c.CreateIssue(ctx, Issue{Title: "Email form", State: "open"})
	if err != nil || id != "ISS-7" {
		t.Fatalf("CreateIssue() = %q, %v", id, err)
	}
	if err := c.UpdateIssue(ctx, "ISS-7", Issue{Title: "Email form v2", State: "closed"}); err != nil {
		t.Fatalf("UpdateIssue() error = %v", err)
	}
	if err := c.UpdateIssue(ctx, "gone", Issue{Title: "x"}); !errors.Is(err, ErrIssueNotFound) {
		t.Errorf("UpdateIssue(missing) error = %v, want ErrIssueNotFound", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(f.requests))
	}
	for _, r := range f.requests {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("Authorization = %q", got)
		}
	}
	if f.bodies[1].Title != "Email form v2" || f.bodies[1].State != "closed" {
		t.Errorf("unexpected update body %+v", f.bodies[1])
	}
}

func TestHTTPClient_StatusError(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, &fakeTracker{status: http.StatusBadGateway})

	_, err := c.CreateIssue(context.Background(), Issue{Title: "x"})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway || se.Body != "boom" {
		t.Errorf("CreateIssue() error = %v, want StatusError 502", err)
	}
}

func TestHTTPClient_RateLimitHonoursContext(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer((&fakeTracker{}).handler(t))
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(Config{BaseURL: srv.URL + "/api", RequestsPerSecond: 1})
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}

	if _, err := c.CreateIssue(context.Background(), Issue{Title: "first"}); err != nil {
		t.Fatalf("first request error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.CreateIssue(ctx, Issue{Title: "second"}); err == nil {
		t.Error("expected limiter wait to fail when the deadline is shorter than the refill")
	}
}

func TestNewHTTPClient_InvalidURL(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not a url", "/relative"} {
		if _, err := NewHTTPClient(Config{BaseURL: raw}); err == nil {
			t.Errorf("NewHTTPClient(%q) expected error", raw)
		}
	}
}
