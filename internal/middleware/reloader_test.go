package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/models"
)

type corsSource struct {
	mu  sync.Mutex
	cfg *models.CorsConfig
	err error
}

func (s *corsSource) Get(context.Context) (*models.CorsConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.err
}

func (s *corsSource) set(cfg *models.CorsConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

type rateSource struct {
	cfg *models.RatelimitConfig
	err error
}

func (s *rateSource) Get(context.Context) (*models.RatelimitConfig, error) {
	return s.cfg, s.err
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func preflight(h http.Handler, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/projects", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCORSReloader(t *testing.T) {
	t.Parallel()

	src := &corsSource{err: errors.New("no database")}
	r := NewCORSReloader(src, "https://app.example.com, https://beta.example.com", zap.NewNop(), 0)
	h := r.Middleware()(okHandler)

	if got := r.Origins(); len(got) != 2 {
		t.Fatalf("fallback origins = %v", got)
	}
	if got := preflight(h, "https://app.example.com").Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("fallback origin not allowed, header = %q", got)
	}

	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	src.set(&models.CorsConfig{AllowedOrigins: "https://new.example.com", MaxAge: 60})
	r.load(context.Background())

	if got := preflight(h, "https://app.example.com").Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("old origin still allowed after reload, header = %q", got)
	}
	if got := preflight(h, "https://new.example.com").Header().Get("Access-Control-Allow-Origin"); got != "https://new.example.com" {
		t.Errorf("reloaded origin not allowed, header = %q", got)
	}
}

func TestCORSReloader_DefaultOrigin(t *testing.T) {
	t.Parallel()
	r := NewCORSReloader(&corsSource{}, "", zap.NewNop(), 0)
	r.Middleware()(okHandler)
	if got := r.Origins(); len(got) != 1 || got[0] != defaultCORSOrigin {
		t.Errorf("Origins() = %v, want [%s]", got, defaultCORSOrigin)
	}
}

func TestRateLimitReloader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		source   *rateSource
		wantRate string
		allowed  int
	}{
		{"configured", &rateSource{cfg: &models.RatelimitConfig{Rate: "2-M"}}, "2-M", 2},
		{"unset uses default", &rateSource{}, "3-M", 3},
		{"invalid uses default", &rateSource{cfg: &models.RatelimitConfig{Rate: "lots"}}, "3-M", 3},
		{"source error uses default", &rateSource{err: errors.New("db down")}, "3-M", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewRateLimitReloader(memory.NewStore(), tt.source, "3-M", zap.NewNop(), 0)
			h := r.Middleware()(okHandler)
			if r.Rate() != tt.wantRate {
				t.Fatalf("Rate() = %q, want %q", r.Rate(), tt.wantRate)
			}

			for i := 0; i < tt.allowed; i++ {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
				if w.Code != http.StatusOK {
					t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
				}
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
			if w.Code != http.StatusTooManyRequests {
				t.Errorf("request over limit: status = %d, want 429", w.Code)
			}
		})
	}
}

func TestRateLimit_InvalidRate(t *testing.T) {
	t.Parallel()
	if _, err := RateLimit(memory.NewStore(), "bogus"); err == nil {
		t.Error("expected error for unparseable rate")
	}
}

func TestReloaders_NilSource(t *testing.T) {
	t.Parallel()

	c := NewCORSReloader(nil, "https://app.example.com", zap.NewNop(), 0)
	c.Middleware()(okHandler)
	if got := c.Origins(); len(got) != 1 || got[0] != "https://app.example.com" {
		t.Errorf("Origins() = %v", got)
	}

	r := NewRateLimitReloader(memory.NewStore(), nil, "7-M", zap.NewNop(), 0)
	r.Middleware()(okHandler)
	if r.Rate() != "7-M" {
		t.Errorf("Rate() = %q, want 7-M", r.Rate())
	}
}

func TestReloaders_WrapEachHandler(t *testing.T) {
	t.Parallel()

	status := func(code int) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(code) })
	}
	corsMW := NewCORSReloader(nil, "", zap.NewNop(), 0).Middleware()
	rateMW := NewRateLimitReloader(memory.NewStore(), nil, "100-M", zap.NewNop(), 0).Middleware()

	for _, mw := range []func(http.Handler) http.Handler{corsMW, rateMW} {
		a := mw(status(http.StatusOK))
		b := mw(status(http.StatusAccepted))

		w := httptest.NewRecorder()
		a.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Errorf("first handler status = %d, want 200", w.Code)
		}
		w = httptest.NewRecorder()
		b.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusAccepted {
			t.Errorf("second handler status = %d, want 202", w.Code)
		}
	}
}
