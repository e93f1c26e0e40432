package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration. Values come from built-in
// defaults, then the optional YAML file named by CONFIG_FILE, then
// environment variables, each layer overriding the previous one.
type Config struct {
	DatabaseURL      string `yaml:"database_url"`
	ServerPort       string `yaml:"server_port"`
	BaseURL          string `yaml:"base_url"`
	FrontendURL      string `yaml:"frontend_url"`
	EnableHSTS       bool   `yaml:"enable_hsts"`
	OIDCProvider     string `yaml:"oidc_provider"`
	ServerDebugMode  bool   `yaml:"server_debug_mode"`
	WorkerDebugMode  bool   `yaml:"worker_debug_mode"`
	LogFormat        string `yaml:"log_format"` // json, console or auto
	OTELEnabled      bool   `yaml:"otel_enabled"`
	OTELEndpoint     string `yaml:"otel_endpoint"`
	RedisURL         string `yaml:"redis_url"`
	RabbitMQURL      string `yaml:"rabbitmq_url"`
	RabbitMQPrefetch int    `yaml:"rabbitmq_prefetch"`

	OpenAIKey  string `yaml:"openai_api_key"`
	AIProvider string `yaml:"ai_provider"`
	AIModel    string `yaml:"ai_model"`
	AIBaseURL  string `yaml:"ai_base_url"`

	// LocalStorePath is the Badger directory used when Postgres is unavailable
	LocalStorePath     string        `yaml:"local_store_path"`
	AutosaveDelay      time.Duration `yaml:"autosave_delay"`
	ShareCacheTTL      time.Duration `yaml:"share_cache_ttl"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	ChatTimeout        time.Duration `yaml:"chat_timeout"`
	ConfigReload       time.Duration `yaml:"config_reload_interval"`
	PublicRateLimit    string        `yaml:"public_rate_limit"`
	MaxImportSize      int           `yaml:"max_import_size"` // bytes

	TrackerProvider string `yaml:"tracker_provider"`
	TrackerBaseURL  string `yaml:"tracker_base_url"`
	TrackerToken    string `yaml:"tracker_token"`
	TrackerRPS      int    `yaml:"tracker_requests_per_second"`
}

// DefaultMaxImportSize bounds project import documents
const DefaultMaxImportSize = 10 << 20

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		ServerPort:         "8080",
		BaseURL:            "http://localhost:8080",
		FrontendURL:        "http://localhost:3000",
		OIDCProvider:       "cognito",
		LogFormat:          "json",
		RedisURL:           "redis://localhost:6379/0",
		RabbitMQPrefetch:   1,
		AIProvider:         "openai",
		LocalStorePath:     "./data/visionpath",
		AutosaveDelay:      1500 * time.Millisecond,
		ShareCacheTTL:      5 * time.Minute,
		SessionIdleTimeout: 2 * time.Hour,
		ChatTimeout:        90 * time.Second,
		ConfigReload:       30 * time.Second,
		PublicRateLimit:    "60-M",
		MaxImportSize:      DefaultMaxImportSize,
		TrackerRPS:         5,
	}
}

// Load loads configuration from CONFIG_FILE and environment variables
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom loads configuration using lookup in place of the process environment
func LoadFrom(lookup func(string) string) (*Config, error) {
	cfg := Defaults()
	e := env(lookup)

	if path := e.get("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.DatabaseURL = e.get("DATABASE_URL", cfg.DatabaseURL)
	cfg.ServerPort = e.get("SERVER_PORT", cfg.ServerPort)
	cfg.BaseURL = e.get("BASE_URL", cfg.BaseURL)
	cfg.FrontendURL = e.get("FRONTEND_URL", cfg.FrontendURL)
	cfg.EnableHSTS = e.bool("ENABLE_HSTS", cfg.EnableHSTS)
	cfg.OIDCProvider = e.get("OIDC_PROVIDER", cfg.OIDCProvider)
	cfg.ServerDebugMode = e.bool("SERVER_DEBUG_MODE", cfg.ServerDebugMode)
	cfg.WorkerDebugMode = e.bool("WORKER_DEBUG_MODE", cfg.WorkerDebugMode)
	cfg.LogFormat = e.get("LOG_FORMAT", cfg.LogFormat)
	cfg.OTELEnabled = e.bool("OTEL_ENABLED", cfg.OTELEnabled)
	cfg.OTELEndpoint = e.get("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTELEndpoint)
	cfg.RedisURL = e.get("REDIS_URL", cfg.RedisURL)
	cfg.RabbitMQURL = e.get("RABBITMQ_URL", cfg.RabbitMQURL)
	cfg.RabbitMQPrefetch = e.int("RABBITMQ_PREFETCH", cfg.RabbitMQPrefetch)

	cfg.OpenAIKey = e.get("OPENAI_API_KEY", cfg.OpenAIKey)
	cfg.AIProvider = e.get("AI_PROVIDER", cfg.AIProvider)
	cfg.AIModel = e.get("AI_MODEL", cfg.AIModel)
	cfg.AIBaseURL = e.get("AI_BASE_URL", cfg.AIBaseURL)

	cfg.LocalStorePath = e.get("LOCAL_STORE_PATH", cfg.LocalStorePath)
	cfg.AutosaveDelay = e.duration("AUTOSAVE_DELAY", cfg.AutosaveDelay)
	cfg.ShareCacheTTL = e.duration("SHARE_CACHE_TTL", cfg.ShareCacheTTL)
	cfg.SessionIdleTimeout = e.duration("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	cfg.ChatTimeout = e.duration("CHAT_TIMEOUT", cfg.ChatTimeout)
	cfg.ConfigReload = e.duration("CONFIG_RELOAD_INTERVAL", cfg.ConfigReload)
	cfg.PublicRateLimit = e.get("PUBLIC_RATE_LIMIT", cfg.PublicRateLimit)
	cfg.MaxImportSize = e.int("MAX_IMPORT_SIZE", cfg.MaxImportSize)

	cfg.TrackerProvider = e.get("TRACKER_PROVIDER", cfg.TrackerProvider)
	cfg.TrackerBaseURL = e.get("TRACKER_BASE_URL", cfg.TrackerBaseURL)
	cfg.TrackerToken = e.get("TRACKER_TOKEN", cfg.TrackerToken)
	cfg.TrackerRPS = e.int("TRACKER_REQUESTS_PER_SECOND", cfg.TrackerRPS)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks values that have no usable fallback
func (c *Config) Validate() error {
	if c.ServerPort == "" {
		return errors.New("SERVER_PORT cannot be empty")
	}
	if c.AutosaveDelay <= 0 {
		return errors.New("AUTOSAVE_DELAY must be positive")
	}
	if c.TrackerProvider != "" && c.TrackerBaseURL == "" {
		return errors.New("TRACKER_BASE_URL is required when TRACKER_PROVIDER is set")
	}
	return nil
}

// UsesPostgres reports whether a primary database is configured. Without one
// every project lives in the local store.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}

// MaxImportBytes returns the import size limit, falling back to the default
// for non-positive values
func (c *Config) MaxImportBytes() int64 {
	if c.MaxImportSize <= 0 {
		return DefaultMaxImportSize
	}
	return int64(c.MaxImportSize)
}

// TrackerEnabled reports whether tracker sync jobs can be processed
func (c *Config) TrackerEnabled() bool {
	return c.TrackerProvider != "" && c.RabbitMQURL != ""
}

// env reads settings through a lookup function so tests need not touch the process environment
type env func(string) string

func (e env) get(key, defaultValue string) string {
	if value := e(key); value != "" {
		return value
	}
	return defaultValue
}

func (e env) bool(key string, defaultValue bool) bool {
	if value := e(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func (e env) int(key string, defaultValue int) int {
	if value := e(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (e env) duration(key string, defaultValue time.Duration) time.Duration {
	if value := e(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
