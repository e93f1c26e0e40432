package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/api"
	"github.com/benvon/visionpath/internal/autosave"
	"github.com/benvon/visionpath/internal/config"
	"github.com/benvon/visionpath/internal/database"
	"github.com/benvon/visionpath/internal/handlers"
	"github.com/benvon/visionpath/internal/logger"
	"github.com/benvon/visionpath/internal/middleware"
	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/queue"
	"github.com/benvon/visionpath/internal/services/ai"
	"github.com/benvon/visionpath/internal/services/oidc"
	"github.com/benvon/visionpath/internal/services/projects"
	"github.com/benvon/visionpath/internal/store"
	"github.com/benvon/visionpath/internal/telemetry"
	"github.com/benvon/visionpath/internal/tracker"
	"github.com/benvon/visionpath/internal/workers"
)

const serviceName = "visionpath-api"

// Set at build time with -ldflags "-X main.version=..."
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const (
	shutdownTimeout  = 30 * time.Second
	rabbitMQAttempts = 10
	pruneInterval    = 5 * time.Minute
	dlqInterval      = time.Hour
	dlqRetention     = 24 * time.Hour
)

// localUserID owns every project when the server runs without a user database
var localUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging, including AI request content")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.New(logger.Options{Debug: debugMode, Format: cfg.LogFormat, Service: serviceName})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync(zapLogger)

	zapLogger.Info("starting_server",
		zap.String("version", version),
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("frontend_url", cfg.FrontendURL),
		zap.String("ai_provider", cfg.AIProvider),
		zap.String("ai_model", cfg.AIModel),
		zap.Bool("postgres", cfg.UsesPostgres()),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTELEnabled {
		shutdownTracer := initTracing(ctx, cfg, zapLogger)
		defer shutdownTracer()
	}

	health := handlers.NewHealthChecker()

	// Postgres holds users, identity provider settings and the primary project store
	var db *database.DB
	if cfg.UsesPostgres() {
		db, err = database.New(cfg.DatabaseURL)
		if err != nil {
			zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
		}
		defer func() {
			if err := db.Close(); err != nil {
				zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
			}
		}()
		if err := db.Migrate(ctx); err != nil {
			zapLogger.Fatal("failed_to_migrate_database", zap.Error(err))
		}
		health.Register("database", db.Healthy)
		zapLogger.Info("connected_to_database")
	}

	local, err := store.OpenLocal(store.LocalConfig{Path: cfg.LocalStorePath, SyncWrites: true, Logger: zapLogger})
	if err != nil {
		zapLogger.Fatal("failed_to_open_local_store", zap.String("path", cfg.LocalStorePath), zap.Error(err))
	}
	defer func() {
		if err := local.Close(); err != nil {
			zapLogger.Warn("failed_to_close_local_store", zap.Error(err))
		}
	}()

	var projectStore store.ProjectStore = local
	if db != nil {
		fallback := store.NewFallbackStore(database.NewProjectRepository(db), local, zapLogger)
		health.Register("project_store", func(context.Context) error {
			if fallback.Degraded() {
				return errors.New("serving projects from the local store")
			}
			return nil
		})
		projectStore = fallback
	}

	rdb, limiterStore := connectRedis(ctx, cfg, zapLogger)
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
			}
		}()
		health.Register("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		projectStore = store.NewShareCache(projectStore, rdb, cfg.ShareCacheTTL, zapLogger)
	}

	saver := autosave.NewSaver(projectStore, zapLogger, autosave.WithDelay(cfg.AutosaveDelay))
	projectService := projects.NewService(projectStore, saver, zapLogger)

	planner := ai.NewPlanningService(createAIProvider(cfg, zapLogger, debugMode), projectService, zapLogger)

	jobQueue := connectQueue(ctx, cfg, projectService, zapLogger)
	if jobQueue != nil {
		defer func() {
			if err := jobQueue.Close(); err != nil {
				zapLogger.Warn("failed_to_close_job_queue", zap.Error(err))
			}
		}()
		health.Register("queue", jobQueue.HealthCheck)
	}

	// Settings sources stay nil without Postgres so the reloaders apply their defaults
	var (
		corsSource database.CorsConfigSource
		rateSource database.RatelimitConfigSource
		authMW     func(http.Handler) http.Handler
		logins     handlers.LoginConfigSource
	)
	if db != nil {
		corsSource = database.NewCorsConfigRepository(db)
		rateSource = database.NewRatelimitConfigRepository(db)
		oidcProvider := oidc.NewProvider(database.NewOIDCConfigRepository(db))
		authenticator := oidc.NewAuthenticator(oidcProvider, oidc.NewJWKSManager(), cfg.OIDCProvider)
		authMW = middleware.Auth(authenticator, database.NewUserRepository(db), zapLogger)
		logins = oidcProvider
	} else {
		zapLogger.Warn("no_database_configured_running_single_user")
		authMW = middleware.LocalUser(&models.User{ID: localUserID, Email: "local@localhost", EmailVerified: true})
		logins = noLogins{}
	}

	r := mux.NewRouter()

	// In gorilla/mux the middleware registered first is the outermost wrapper
	zapLogger.Info("setting_up_middleware")
	if cfg.OTELEnabled {
		r.Use(otelmux.Middleware(serviceName))
	}
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	corsReloader := middleware.NewCORSReloader(corsSource, cfg.FrontendURL, zapLogger, cfg.ConfigReload)
	r.Use(corsReloader.Middleware())
	r.Use(middleware.ContentType)
	r.Use(middleware.ErrorHandler(zapLogger))
	r.Use(middleware.Audit(zapLogger))
	r.Use(middleware.Logging(zapLogger))

	rateLimitReloader := middleware.NewRateLimitReloader(limiterStore, rateSource, middleware.DefaultRatelimitRate, zapLogger, cfg.ConfigReload)
	rateLimitMW := rateLimitReloader.Middleware()
	publicRateMW, err := middleware.RateLimit(limiterStore, cfg.PublicRateLimit)
	if err != nil {
		zapLogger.Fatal("invalid_public_rate_limit", zap.String("rate", cfg.PublicRateLimit), zap.Error(err))
	}
	bodyLimit := middleware.MaxRequestSize(middleware.DefaultMaxRequestSize)
	timeoutMW := middleware.Timeout(middleware.DefaultRequestTimeout)
	// Planning turns wait on the AI provider
	chatTimeoutMW := middleware.Timeout(cfg.ChatTimeout + 5*time.Second)

	r.HandleFunc("/healthz", health.HealthCheck).Methods("GET")
	r.HandleFunc("/version", handlers.VersionHandler(handlers.VersionInfo{Version: version, Commit: commit, BuildDate: buildDate})).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	openAPIHandler, err := handlers.NewOpenAPIHandler(api.OpenAPI)
	if err != nil {
		zapLogger.Fatal("failed_to_load_openapi_document", zap.Error(err))
	}
	openAPIHandler.RegisterRoutes(r)

	apiRouter := r.PathPrefix("/api/v1").Subrouter()

	authHandler := handlers.NewAuthHandler(logins, cfg.OIDCProvider, zapLogger)
	authRouter := apiRouter.PathPrefix("/auth").Subrouter()
	loginRouter := authRouter.NewRoute().Subrouter()
	loginRouter.Use(publicRateMW, timeoutMW)
	authHandler.RegisterPublicRoutes(loginRouter)
	meRouter := authRouter.NewRoute().Subrouter()
	meRouter.Use(authMW, rateLimitMW, timeoutMW)
	authHandler.RegisterRoutes(meRouter)

	// Public read-only views of shared projects
	shareRouter := apiRouter.PathPrefix("/share").Subrouter()
	shareRouter.Use(publicRateMW, timeoutMW)
	handlers.NewShareHandler(projectService, zapLogger).RegisterRoutes(shareRouter)

	// Import carries whole graphs, so it gets its own size limit ahead of the
	// generic projects subrouter
	exchangeRouter := apiRouter.NewRoute().Subrouter()
	exchangeRouter.Use(authMW, rateLimitMW, timeoutMW)
	handlers.NewExchangeHandler(projectService, planner, cfg.MaxImportBytes(), zapLogger).RegisterRoutes(exchangeRouter)

	planningRouter := apiRouter.PathPrefix("/projects").Subrouter()
	planningRouter.Use(authMW, rateLimitMW, bodyLimit, chatTimeoutMW)
	handlers.NewPlanningHandler(planner, projectService, cfg.ChatTimeout, zapLogger).RegisterRoutes(planningRouter)

	projectsRouter := apiRouter.PathPrefix("/projects").Subrouter()
	projectsRouter.Use(authMW, rateLimitMW, bodyLimit, timeoutMW)
	handlers.NewSyncHandler(projectService, jobEnqueuer(jobQueue), zapLogger).RegisterRoutes(projectsRouter)
	handlers.NewProjectHandler(projectService, planner, zapLogger).RegisterRoutes(projectsRouter)

	// Preflight requests are answered by the CORS middleware before reaching this
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.ChatTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go corsReloader.Start(ctx)
	go rateLimitReloader.Start(ctx)
	go pruneSessions(ctx, planner, cfg.SessionIdleTimeout, zapLogger)

	if purger, ok := jobQueue.(queue.DLQPurger); ok {
		gc := queue.NewGarbageCollector(purger, dlqInterval, dlqRetention, zapLogger)
		go func() {
			if err := gc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zapLogger.Error("dlq_garbage_collector_stopped_with_error", zap.Error(err))
			}
		}()
	}

	go func() {
		zapLogger.Info("server_listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("server_failed_to_start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("server_shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server_forced_to_shutdown", zap.Error(err))
	}

	// Pending edits are written before the stores close
	if err := saver.FlushNow(shutdownCtx); err != nil {
		zapLogger.Error("failed_to_flush_pending_saves", zap.Error(err))
	}

	zapLogger.Info("server_exited")
}

// initTracing installs the OTLP tracer and returns its shutdown func
func initTracing(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) func() {
	noop := func() {}
	if cfg.OTELEndpoint == "" {
		zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		return noop
	}
	tp, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName: serviceName,
		Version:     version,
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    true,
	})
	if err != nil {
		zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
		return noop
	}
	zapLogger.Info("otel_tracer_initialized", zap.String("endpoint", cfg.OTELEndpoint))
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
		}
	}
}

// connectRedis returns the Redis client and a limiter store on it. When Redis
// is unreachable the limiter falls back to process memory and the client is nil.
func connectRedis(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) (*redis.Client, limiter.Store) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		zapLogger.Warn("invalid_redis_url_using_memory_limiter", zap.Error(err))
		return nil, memory.NewStore()
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		zapLogger.Warn("redis_unavailable_using_memory_limiter", zap.Error(err))
		_ = rdb.Close()
		return nil, memory.NewStore()
	}

	limiterStore, err := middleware.NewRedisLimiterStore(rdb, "")
	if err != nil {
		zapLogger.Warn("failed_to_create_redis_limiter_store", zap.Error(err))
		return rdb, memory.NewStore()
	}
	zapLogger.Info("connected_to_redis")
	return rdb, limiterStore
}

// connectQueue returns the job queue sync requests are published to. With
// RabbitMQ a separate worker consumes the jobs. Without it, but with a tracker
// configured, an in-process syncer drains an in-memory queue. Returns nil when
// sync is unavailable.
func connectQueue(ctx context.Context, cfg *config.Config, svc *projects.Service, zapLogger *zap.Logger) queue.JobQueue {
	if cfg.RabbitMQURL != "" {
		q, err := queue.ConnectRabbitMQ(ctx, cfg.RabbitMQURL, rabbitMQAttempts, zapLogger)
		if err != nil {
			zapLogger.Fatal("failed_to_connect_to_rabbitmq", zap.Error(err))
		}
		zapLogger.Info("connected_to_rabbitmq")
		return q
	}
	if cfg.TrackerProvider == "" {
		zapLogger.Info("tracker_sync_disabled")
		return nil
	}

	client, err := tracker.NewHTTPClient(tracker.Config{
		BaseURL:           cfg.TrackerBaseURL,
		Token:             cfg.TrackerToken,
		RequestsPerSecond: cfg.TrackerRPS,
	})
	if err != nil {
		zapLogger.Fatal("failed_to_create_tracker_client", zap.Error(err))
	}
	q := queue.NewMemoryQueue()
	syncer := workers.NewTrackerSyncer(svc, client, q, cfg.TrackerProvider, zapLogger)
	go func() {
		if err := syncer.Run(ctx, 1); err != nil && !errors.Is(err, context.Canceled) {
			zapLogger.Error("tracker_syncer_stopped_with_error", zap.Error(err))
		}
	}()
	zapLogger.Info("started_in_process_tracker_sync", zap.String("provider", cfg.TrackerProvider))
	return q
}

// jobEnqueuer keeps a nil queue a nil interface so the sync handler can report it
func jobEnqueuer(q queue.JobQueue) handlers.JobEnqueuer {
	if q == nil {
		return nil
	}
	return q
}

// createAIProvider resolves the configured provider. Without an API key the
// planner answers with ErrProviderDisabled and the rest of the API still works.
func createAIProvider(cfg *config.Config, zapLogger *zap.Logger, debugMode bool) ai.AIProvider {
	if cfg.OpenAIKey == "" {
		zapLogger.Warn("ai_api_key_not_configured_ai_features_disabled")
		return ai.DisabledProvider{}
	}
	if cfg.AIProvider == "" || cfg.AIProvider == "openai" {
		return ai.NewOpenAIProviderWithLogger(cfg.OpenAIKey, cfg.AIBaseURL, cfg.AIModel, zapLogger, debugMode)
	}

	registry := ai.NewProviderRegistry()
	ai.RegisterOpenAI(registry)
	provider, err := registry.GetProvider(cfg.AIProvider, map[string]string{
		"api_key":  cfg.OpenAIKey,
		"model":    cfg.AIModel,
		"base_url": cfg.AIBaseURL,
	})
	if err != nil {
		zapLogger.Warn("failed_to_create_ai_provider_ai_features_disabled", zap.Error(err))
		return ai.DisabledProvider{}
	}
	return provider
}

// pruneSessions drops idle planning sessions and unsaved drafts
func pruneSessions(ctx context.Context, planner *ai.PlanningService, maxIdle time.Duration, zapLogger *zap.Logger) {
	if maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := planner.PruneIdle(maxIdle); n > 0 {
				zapLogger.Info("pruned_idle_planning_sessions", zap.Int("count", n))
			}
		}
	}
}

// noLogins answers login configuration requests when no identity provider exists
type noLogins struct{}

func (noLogins) GetLoginConfig(context.Context, string, string) (*oidc.LoginConfig, error) {
	return nil, fmt.Errorf("single-user mode: %w", database.ErrOIDCConfigNotFound)
}
