package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/benvon/visionpath/internal/models"
)

// fakeCompletions serves /chat/completions with a fixed status and body
func fakeCompletions(t *testing.T, status int, body string, seen *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			seen.Store(string(raw))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func completionBody(t *testing.T, content string) string {
	t.Helper()
	body := map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal completion: %v", err)
	}
	return string(raw)
}

func TestOpenAIProvider_GeneratePlan(t *testing.T) {
	t.Parallel()
	reply := `{"message":"Here is a start","nodes":[{"id":"goal-1","type":"goal","title":"Launch","description":"","parentId":null}],"suggestedTitle":"Launch Plan","done":false}`
	var seen atomic.Value
	srv := fakeCompletions(t, http.StatusOK, completionBody(t, reply), &seen)

	p := NewOpenAIProviderWithLogger("sk-test", srv.URL, "", nil, true)
	resp, err := p.GeneratePlan(context.Background(), []ChatMessage{{Role: RoleUser, Content: "build a rocket"}}, "system prompt")
	if err != nil {
		t.Fatalf("GeneratePlan() error = %v", err)
	}
	if resp.Message != "Here is a start" || len(resp.Nodes) != 1 || resp.Nodes[0].ID != "goal-1" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.SuggestedTitle == nil || *resp.SuggestedTitle != "Launch Plan" {
		t.Errorf("expected suggested title, got %v", resp.SuggestedTitle)
	}

	req, _ := seen.Load().(string)
	if !strings.Contains(req, `"json_object"`) {
		t.Errorf("expected JSON response format in request, got %s", req)
	}
	if !strings.Contains(req, "system prompt") || !strings.Contains(req, "build a rocket") {
		t.Errorf("expected system instruction and history in request, got %s", req)
	}
}

func TestOpenAIProvider_GeneratePlanInvalidJSON(t *testing.T) {
	t.Parallel()
	srv := fakeCompletions(t, http.StatusOK, completionBody(t, "Sure! Here are some goals."), nil)

	p := NewOpenAIProviderWithLogger("sk-test", srv.URL, "", nil, false)
	_, err := p.GeneratePlan(context.Background(), nil, "system")
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestOpenAIProvider_RateLimited(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	}))
	t.Cleanup(srv.Close)

	p := NewOpenAIProviderWithLogger("sk-test", srv.URL, "", nil, false)
	_, err := p.GeneratePlan(context.Background(), nil, "system")
	if !IsRateLimitError(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected no retries, got %d calls", calls.Load())
	}
}

func TestOpenAIProvider_GenerateDocument(t *testing.T) {
	t.Parallel()
	srv := fakeCompletions(t, http.StatusOK, completionBody(t, "  # PRD\n\nDetails  "), nil)
	p := NewOpenAIProviderWithLogger("sk-test", srv.URL, "", nil, false)

	doc, err := p.GenerateDocument(context.Background(), models.AttachmentPRD, "Current node: [feature] Login")
	if err != nil {
		t.Fatalf("GenerateDocument() error = %v", err)
	}
	if doc != "# PRD\n\nDetails" {
		t.Errorf("expected trimmed document, got %q", doc)
	}

	if _, err := p.GenerateDocument(context.Background(), models.AttachmentImage, "ctx"); err == nil {
		t.Error("expected error for unsupported document kind")
	}
}

func TestParsePlanResponse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(*testing.T, *PlanResponse)
	}{
		{
			name:    "valid with empty nodes",
			content: `{"message":"ok","nodes":[],"done":true}`,
			check: func(t *testing.T, r *PlanResponse) {
				if !r.Done || len(r.Nodes) != 0 {
					t.Errorf("unexpected response %+v", r)
				}
			},
		},
		{
			name:    "blank suggested title dropped",
			content: `{"message":"ok","nodes":[],"suggestedTitle":"  "}`,
			check: func(t *testing.T, r *PlanResponse) {
				if r.SuggestedTitle != nil {
					t.Errorf("expected nil suggested title, got %q", *r.SuggestedTitle)
				}
			},
		},
		{
			name:    "mistyped fragment does not drop the batch",
			content: `{"message":"ok","nodes":[{"id":"goal-1","type":"goal","title":"Open a bakery"},{"id":"task-x","type":"task","title":42,"parentId":"goal-1"},"oops"]}`,
			check: func(t *testing.T, r *PlanResponse) {
				if len(r.Nodes) != 1 || r.Nodes[0].ID != "goal-1" {
					t.Errorf("expected only goal-1 decoded, got %+v", r.Nodes)
				}
			},
		},
		{name: "missing message", content: `{"nodes":[]}`, wantErr: true},
		{name: "missing nodes", content: `{"message":"hi"}`, wantErr: true},
		{name: "null nodes", content: `{"message":"hi","nodes":null}`, wantErr: true},
		{name: "nodes wrong type", content: `{"message":"hi","nodes":"goal"}`, wantErr: true},
		{name: "message wrong type", content: `{"message":3,"nodes":[]}`, wantErr: true},
		{name: "not json", content: `hello`, wantErr: true},
		{name: "array", content: `[]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, err := ParsePlanResponse(tt.content)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidResponse) {
					t.Fatalf("expected ErrInvalidResponse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePlanResponse() error = %v", err)
			}
			tt.check(t, resp)
		})
	}
}

func TestRegisterOpenAI(t *testing.T) {
	t.Parallel()
	registry := NewProviderRegistry()
	RegisterOpenAI(registry)

	if _, err := registry.GetProvider("openai", map[string]string{}); err == nil {
		t.Error("expected error without api key")
	}
	if _, err := registry.GetProvider("openai", map[string]string{"api_key": "sk-test"}); err != nil {
		t.Errorf("GetProvider() error = %v", err)
	}
	var notFound *ErrProviderNotFound
	if _, err := registry.GetProvider("other", nil); !errors.As(err, &notFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
}
