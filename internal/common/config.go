// Package common provides shared utilities for pfreturns
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for pfreturns
type Config struct {
	Environment string           `toml:"environment"`
	Server      ServerConfig     `toml:"server"`
	Calculator  CalculatorConfig `toml:"calculator"`
	Auth        AuthConfig       `toml:"auth"`
	RateLimit   RateLimitConfig  `toml:"rate_limit"`
	CORS        CORSConfig       `toml:"cors"`
	Storage     StorageConfig    `toml:"storage"`
	Feed        FeedConfig       `toml:"feed"`
	Ingest      IngestConfig     `toml:"ingest"`
	Backup      BackupConfig     `toml:"backup"`
	Logging     LoggingConfig    `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port" validate:"min=1,max=65535"`
	ReadTimeout  string `toml:"read_timeout"`
	WriteTimeout string `toml:"write_timeout"`
}

// GetReadTimeout parses and returns the read timeout
func (c *ServerConfig) GetReadTimeout() time.Duration {
	return parseDuration(c.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout parses and returns the write timeout.
// It must exceed the calculator timeout so proxied calls can complete.
func (c *ServerConfig) GetWriteTimeout() time.Duration {
	return parseDuration(c.WriteTimeout, 60*time.Second)
}

// CalculatorConfig points at the remote portfolio calculator
type CalculatorConfig struct {
	Endpoint string `toml:"endpoint" validate:"required,url"`
	Timeout  string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *CalculatorConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// AuthConfig holds the shared secret checked against X-API-Key.
// An empty key disables authentication.
type AuthConfig struct {
	APIKey string `toml:"api_key"`
}

// RateLimitConfig configures the per-client sliding window
type RateLimitConfig struct {
	Requests      int         `toml:"requests" validate:"min=1"`
	WindowSeconds int         `toml:"window_seconds" validate:"min=1"`
	Backend       string      `toml:"backend" validate:"oneof=memory redis"`
	Redis         RedisConfig `toml:"redis"`
}

// GetWindow returns the window length
func (c *RateLimitConfig) GetWindow() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// RedisConfig holds connection settings for the shared rate limit store
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

// CORSConfig lists origins allowed to call the server; "*" allows any
type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// StorageConfig selects and configures the returns table backend
type StorageConfig struct {
	Backend   string          `toml:"backend" validate:"oneof=postgrest sqlite memory"`
	BatchSize int             `toml:"batch_size" validate:"min=1"`
	PostgREST PostgRESTConfig `toml:"postgrest"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
}

// PostgRESTConfig holds the hosted table store settings (Supabase compatible)
type PostgRESTConfig struct {
	URL           string `toml:"url"`
	Key           string `toml:"key"`
	Table         string `toml:"table"`
	RequestsTable string `toml:"requests_table"`
	Timeout       string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *PostgRESTConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// SQLiteConfig holds the local table store settings
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// FeedConfig holds EODHD API configuration
type FeedConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	Exchange  string `toml:"exchange"`
	RateLimit int    `toml:"rate_limit" validate:"min=1"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *FeedConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// IngestConfig controls how the pipeline paces and retries the feed
type IngestConfig struct {
	StartDate   string `toml:"start_date" validate:"datetime=2006-01-02"`
	Pacing      string `toml:"pacing"`
	MaxAttempts int    `toml:"max_attempts" validate:"min=1"`
	BackoffBase string `toml:"backoff_base"`
	Enrich      bool   `toml:"enrich"`
}

// GetStartDate returns the default history start date
func (c *IngestConfig) GetStartDate() time.Time {
	t, err := time.Parse("2006-01-02", c.StartDate)
	if err != nil {
		return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// GetPacing returns the minimum delay between upstream fetches (never below 500ms)
func (c *IngestConfig) GetPacing() time.Duration {
	d := parseDuration(c.Pacing, 500*time.Millisecond)
	if d < 500*time.Millisecond {
		return 500 * time.Millisecond
	}
	return d
}

// GetBackoffBase returns the first retry delay
func (c *IngestConfig) GetBackoffBase() time.Duration {
	return parseDuration(c.BackoffBase, 2*time.Second)
}

// BackupConfig holds backup archive settings
type BackupConfig struct {
	Dir string `toml:"dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  "30s",
			WriteTimeout: "60s",
		},
		Calculator: CalculatorConfig{
			Endpoint: "http://localhost:3000/api/portfolio/calculate",
			Timeout:  "30s",
		},
		RateLimit: RateLimitConfig{
			Requests:      100,
			WindowSeconds: 3600,
			Backend:       "memory",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "pfreturns:ratelimit",
			},
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Backend:   "postgrest",
			BatchSize: 1000,
			PostgREST: PostgRESTConfig{
				Table:         "asset_returns",
				RequestsTable: "asset_requests",
				Timeout:       "30s",
			},
			SQLite: SQLiteConfig{
				Path: "data/pfreturns.db",
			},
		},
		Feed: FeedConfig{
			BaseURL:   "https://eodhd.com/api",
			Exchange:  "US",
			RateLimit: 10,
			Timeout:   "30s",
		},
		Ingest: IngestConfig{
			StartDate:   "2000-01-01",
			Pacing:      "500ms",
			MaxAttempts: 3,
			BackoffBase: "2s",
			Enrich:      true,
		},
		Backup: BackupConfig{
			Dir: "backups",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier ones
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks struct constraints on the config
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PFRETURNS_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if v := os.Getenv("PORTFOLIO_API_ENDPOINT"); v != "" {
		config.Calculator.Endpoint = v
	}

	// An explicitly empty key disables auth, so presence matters here.
	if v, ok := os.LookupEnv("PORTFOLIO_API_KEY"); ok {
		config.Auth.APIKey = v
	}

	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.RateLimit.Requests = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.RateLimit.WindowSeconds = n
		}
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.RateLimit.Redis.Addr = v
		config.RateLimit.Backend = "redis"
	}

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		config.CORS.AllowedOrigins = splitList(v)
	}

	if v := os.Getenv("SUPABASE_URL"); v != "" {
		config.Storage.PostgREST.URL = v
	}

	if v := os.Getenv("SUPABASE_KEY"); v != "" {
		config.Storage.PostgREST.Key = v
	}

	if v := os.Getenv("PFRETURNS_STORAGE_BACKEND"); v != "" {
		config.Storage.Backend = strings.ToLower(v)
	}

	if v := os.Getenv("PFRETURNS_SQLITE_PATH"); v != "" {
		config.Storage.SQLite.Path = v
	}

	if v := os.Getenv("EODHD_API_KEY"); v != "" {
		config.Feed.APIKey = v
	}

	if v := os.Getenv("PFRETURNS_BACKUP_DIR"); v != "" {
		config.Backup.Dir = v
	}

	if level := os.Getenv("PFRETURNS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// AllowsAnyOrigin reports whether CORS is open to every origin
func (c *CORSConfig) AllowsAnyOrigin() bool {
	return len(c.AllowedOrigins) == 1 && c.AllowedOrigins[0] == "*"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
