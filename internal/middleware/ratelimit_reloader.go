package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	stdlibmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/database"
	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/request"
)

// DefaultRatelimitRate applies when nothing is configured
const DefaultRatelimitRate = "5-S"

// NewRedisLimiterStore creates the shared limiter store backed by Redis
func NewRedisLimiterStore(client *redis.Client, prefix string) (limiter.Store, error) {
	if prefix == "" {
		prefix = "visionpath_limiter"
	}
	store, err := redisstore.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
	}
	return store, nil
}

// RateLimit returns a fixed-rate limiter keyed on client IP
func RateLimit(store limiter.Store, formatted string) (func(http.Handler) http.Handler, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rate %q: %w", formatted, err)
	}
	return newLimiterMiddleware(store, rate).Handler, nil
}

func newLimiterMiddleware(store limiter.Store, rate limiter.Rate) *stdlibmw.Middleware {
	return stdlibmw.NewMiddleware(limiter.New(store, rate), stdlibmw.WithKeyGetter(request.ClientIP))
}

// RateLimitReloader wraps ulule/limiter and periodically reloads the rate from the database
type RateLimitReloader struct {
	store       limiter.Store
	source      database.RatelimitConfigSource
	defaultRate string
	log         *zap.Logger
	interval    time.Duration
	mu          sync.RWMutex
	current     *stdlibmw.Middleware
	rate        string
}

// NewRateLimitReloader creates a rate limit middleware that loads its rate from source and hot-reloads it.
// A nil source keeps defaultRate.
func NewRateLimitReloader(store limiter.Store, source database.RatelimitConfigSource, defaultRate string, log *zap.Logger, reloadInterval time.Duration) *RateLimitReloader {
	if defaultRate == "" {
		defaultRate = DefaultRatelimitRate
	}
	return &RateLimitReloader{
		store:       store,
		source:      source,
		defaultRate: defaultRate,
		log:         log,
		interval:    reloadInterval,
	}
}

// Middleware loads the rate and returns a middleware limiting each request
// with whichever rate is current. The limiter state lives in the store, so all
// routes wrapped by one reloader share a budget per client.
func (r *RateLimitReloader) Middleware() func(http.Handler) http.Handler {
	r.load(context.Background())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			r.mu.RLock()
			m := r.current
			r.mu.RUnlock()
			if m == nil {
				next.ServeHTTP(w, req)
				return
			}
			m.Handler(next).ServeHTTP(w, req)
		})
	}
}

// Start runs the reload loop until ctx is cancelled. Call after Middleware() is applied.
func (r *RateLimitReloader) Start(ctx context.Context) {
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

// Rate returns the formatted rate currently applied
func (r *RateLimitReloader) Rate() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rate
}

func (r *RateLimitReloader) load(ctx context.Context) {
	rateStr := r.defaultRate
	var cfg *models.RatelimitConfig
	var err error
	if r.source != nil {
		cfg, err = r.source.Get(ctx)
	}
	switch {
	case err != nil:
		r.log.Warn("failed_to_load_ratelimit_config_from_db_using_default",
			zap.Error(err),
			zap.String("default_rate", r.defaultRate),
		)
	case cfg != nil && cfg.Rate != "":
		rateStr = cfg.Rate
	}

	rate, err := limiter.NewRateFromFormatted(rateStr)
	if err != nil {
		r.log.Error("failed_to_parse_rate_limit_using_default",
			zap.Error(err),
			zap.String("rate_str", rateStr),
			zap.String("default_rate", r.defaultRate),
		)
		rateStr = r.defaultRate
		if rate, err = limiter.NewRateFromFormatted(rateStr); err != nil {
			r.log.Error("failed_to_parse_default_rate_limit", zap.Error(err))
			return
		}
	}

	m := newLimiterMiddleware(r.store, rate)

	r.mu.Lock()
	r.current = m
	r.rate = rateStr
	r.mu.Unlock()
}
