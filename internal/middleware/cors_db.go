package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/database"
	"github.com/benvon/visionpath/internal/models"
)

const (
	defaultCORSOrigin = "http://localhost:3000"
	defaultCORSMaxAge = 86400
)

// CORSReloader wraps rs/cors and periodically reloads the policy from the database
type CORSReloader struct {
	source   database.CorsConfigSource
	fallback string // FRONTEND_URL
	log      *zap.Logger
	interval time.Duration
	mu       sync.RWMutex
	current  *cors.Cors
	origins  []string
}

// NewCORSReloader creates a CORS middleware that loads its policy from source and hot-reloads it.
// A nil source applies the fallback origins only.
func NewCORSReloader(source database.CorsConfigSource, frontendURLFallback string, log *zap.Logger, reloadInterval time.Duration) *CORSReloader {
	return &CORSReloader{
		source:   source,
		fallback: strings.TrimSpace(frontendURLFallback),
		log:      log,
		interval: reloadInterval,
	}
}

// Middleware loads the policy and returns a middleware applying whichever
// policy is current when each request arrives. gorilla/mux rebuilds the chain
// per request, so the returned func holds no per-handler state.
func (r *CORSReloader) Middleware() func(http.Handler) http.Handler {
	r.load(context.Background())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			r.mu.RLock()
			c := r.current
			r.mu.RUnlock()
			c.Handler(next).ServeHTTP(w, req)
		})
	}
}

// Start runs the reload loop until ctx is cancelled. Call after Middleware() is applied.
func (r *CORSReloader) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.load(ctx)
		}
	}
}

// Origins returns the currently applied allowed origins
func (r *CORSReloader) Origins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.origins...)
}

func (r *CORSReloader) load(ctx context.Context) {
	origins := database.AllowedOriginsSlice(r.fallback)
	allowCreds := true
	maxAge := defaultCORSMaxAge

	var cfg *models.CorsConfig
	var err error
	if r.source != nil {
		cfg, err = r.source.Get(ctx)
	}
	switch {
	case err != nil:
		r.log.Warn("failed_to_load_cors_config_using_fallback", zap.Error(err))
	case cfg != nil:
		origins = database.AllowedOriginsSlice(cfg.AllowedOrigins)
		allowCreds = cfg.AllowCredentials
		maxAge = cfg.MaxAge
	}
	if len(origins) == 0 {
		origins = []string{defaultCORSOrigin}
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowCredentials: allowCreds,
		MaxAge:           maxAge,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
	})

	r.mu.Lock()
	r.current = c
	r.origins = origins
	r.mu.Unlock()
}
