package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"loyaltyledger/adapters/redis"
	"loyaltyledger/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" env:"LOYALTY_ENV"`
	Profile     string      `json:"profile" env:"LOYALTY_PROFILE"`

	// Server configuration
	Server ServerConfig `json:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Catalog configuration
	Catalog CatalogConfig `json:"catalog"`

	// Event dispatch configuration
	Events EventsConfig `json:"events"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Webhook fan-out configuration
	Webhooks WebhookConfig `json:"webhooks"`

	// Analytics export configuration
	Analytics AnalyticsConfig `json:"analytics"`

	// Security configuration
	Security SecurityConfig `json:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"LOYALTY_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"LOYALTY_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"LOYALTY_SERVER_CORS_ORIGIN"`
	LeaderboardLimit  int           `json:"leaderboard_limit" env:"LOYALTY_SERVER_LEADERBOARD_LIMIT"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"LOYALTY_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"LOYALTY_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"LOYALTY_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"LOYALTY_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"LOYALTY_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds ledger adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" env:"LOYALTY_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty"`
	SQL     sqlx.Config  `json:"sql,omitempty"`
}

// CatalogConfig selects the reward catalog and the reference timezone for
// calendar-day boundaries (daily caps, streaks).
type CatalogConfig struct {
	// Path points at a JSON catalog file; empty means the built-in default.
	Path     string `json:"path,omitempty" env:"LOYALTY_CATALOG_PATH"`
	Timezone string `json:"timezone" env:"LOYALTY_TIMEZONE"`
}

// EventsConfig holds event bus configuration
type EventsConfig struct {
	// Dispatch is "sync" or "async".
	Dispatch string `json:"dispatch" env:"LOYALTY_EVENTS_DISPATCH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"LOYALTY_LOG_LEVEL"`
	Format     string            `json:"format" env:"LOYALTY_LOG_FORMAT"`
	Output     string            `json:"output" env:"LOYALTY_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// WebhookConfig holds webhook fan-out configuration
type WebhookConfig struct {
	Endpoints []string `json:"endpoints,omitempty" env:"LOYALTY_WEBHOOK_ENDPOINTS"`
	Secret    string   `json:"secret,omitempty" env:"LOYALTY_WEBHOOK_SECRET"`
}

// AnalyticsConfig holds KPI export configuration
type AnalyticsConfig struct {
	ExportEndpoint string `json:"export_endpoint,omitempty" env:"LOYALTY_ANALYTICS_EXPORT_ENDPOINT"`
	ExportAPIKey   string `json:"export_api_key,omitempty" env:"LOYALTY_ANALYTICS_EXPORT_API_KEY"`
	BatchSize      int    `json:"batch_size" env:"LOYALTY_ANALYTICS_BATCH_SIZE"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"LOYALTY_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"LOYALTY_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" env:"LOYALTY_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" env:"LOYALTY_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" env:"LOYALTY_SECURITY_RATE_LIMIT_CLEANUP"`
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load from environment variables
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file; environment variables
// override file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			LeaderboardLimit:  100,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
		},
		Catalog: CatalogConfig{
			Timezone: "UTC",
		},
		Events: EventsConfig{
			Dispatch: "async",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Analytics: AnalyticsConfig{
			BatchSize: 10,
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("storage config: %v", err))
	}

	if err := c.Catalog.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("catalog config: %v", err))
	}

	if err := c.Events.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("events config: %v", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
	}

	if err := c.Analytics.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("analytics config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if cfg.Webhooks.Secret != "" {
		cfg.Webhooks.Secret = "[REDACTED]"
	}
	if cfg.Analytics.ExportAPIKey != "" {
		cfg.Analytics.ExportAPIKey = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
