// Package app wires configuration, storage, clients and services into one value
// shared by the pfreturns binaries.
package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/pfreturns/internal/clients/calculator"
	"github.com/bobmcallan/pfreturns/internal/clients/eodhd"
	"github.com/bobmcallan/pfreturns/internal/clients/postgrest"
	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/interfaces"
	"github.com/bobmcallan/pfreturns/internal/metrics"
	"github.com/bobmcallan/pfreturns/internal/ratelimit"
	"github.com/bobmcallan/pfreturns/internal/services/backup"
	"github.com/bobmcallan/pfreturns/internal/services/diagnostics"
	"github.com/bobmcallan/pfreturns/internal/services/ingest"
	"github.com/bobmcallan/pfreturns/internal/services/returns"
	"github.com/bobmcallan/pfreturns/internal/services/store"
	"github.com/bobmcallan/pfreturns/internal/storage/memory"
	"github.com/bobmcallan/pfreturns/internal/storage/sqlite"
)

// Table is a returns table backend with schema and request listing support.
type Table interface {
	interfaces.ReturnTable
	interfaces.ColumnLister
	interfaces.RequestSource
}

// App holds the initialized clients and services.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Table       Table
	Feed        interfaces.PriceFeed
	Catalog     *returns.Catalog
	Store       *store.Gateway
	Ingest      *ingest.Orchestrator
	Backup      *backup.Manager
	Diagnostics *diagnostics.Service
	Calculator  interfaces.Calculator
	Limiter     ratelimit.Limiter
	Metrics     *metrics.Recorder
	StartupTime time.Time

	closers []io.Closer
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// ResolveConfigPaths returns the config files to load: the explicit path,
// then PFRETURNS_CONFIG, then pfreturns.toml beside the binary, then config/pfreturns.toml.
// Missing files are skipped by common.LoadConfig.
func ResolveConfigPaths(configPath string) []string {
	if configPath == "" {
		configPath = os.Getenv("PFRETURNS_CONFIG")
	}
	if configPath != "" {
		return []string{configPath}
	}
	candidate := filepath.Join(getBinaryDir(), "pfreturns.toml")
	if _, err := os.Stat(candidate); err == nil {
		return []string{candidate}
	}
	return []string{"config/pfreturns.toml"}
}

// LoadConfig loads configuration from the resolved paths.
func LoadConfig(configPath string) (*common.Config, error) {
	common.LoadVersionFromFile()
	config, err := common.LoadConfig(ResolveConfigPaths(configPath)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return config, nil
}

// NewApp initializes storage, clients and services from config.
func NewApp(config *common.Config, logger *common.Logger) (*App, error) {
	startupStart := time.Now()
	a := &App{
		Config:      config,
		Logger:      logger,
		Catalog:     returns.DefaultCatalog(),
		Metrics:     metrics.New(),
		StartupTime: startupStart,
	}

	table, err := a.openTable()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Table = table

	a.Store = store.NewGateway(table, logger, store.WithBatchSize(config.Storage.BatchSize))

	if config.Feed.APIKey == "" {
		logger.Warn().Msg("EODHD API key not configured - ingestion will fail to fetch prices")
	}
	feedOpts := []eodhd.ClientOption{
		eodhd.WithLogger(logger),
		eodhd.WithRateLimit(config.Feed.RateLimit),
		eodhd.WithTimeout(config.Feed.GetTimeout()),
		eodhd.WithExchange(config.Feed.Exchange),
	}
	if config.Feed.BaseURL != "" {
		feedOpts = append(feedOpts, eodhd.WithBaseURL(config.Feed.BaseURL))
	}
	a.Feed = eodhd.NewClient(config.Feed.APIKey, feedOpts...)

	builder := returns.NewBuilder(a.Feed, logger,
		returns.WithEnrichment(config.Ingest.Enrich),
		returns.WithStartDate(config.Ingest.GetStartDate()),
		returns.WithCatalog(a.Catalog),
	)
	a.Ingest = ingest.NewOrchestrator(builder, returns.NewValidator(logger), a.Store, logger,
		ingest.WithPacing(config.Ingest.GetPacing()),
		ingest.WithRetry(config.Ingest.MaxAttempts, config.Ingest.GetBackoffBase()),
	)
	a.Backup = backup.NewManager(a.Store, config.Backup.Dir, logger)
	a.Diagnostics = diagnostics.NewService(a.Store, logger)

	a.Calculator = calculator.NewClient(config.Calculator.Endpoint,
		calculator.WithLogger(logger),
		calculator.WithTimeout(config.Calculator.GetTimeout()),
	)
	a.Limiter = a.newLimiter()

	logger.Info().
		Str("storage", config.Storage.Backend).
		Str("rate_limit", config.RateLimit.Backend).
		Dur("elapsed", time.Since(startupStart)).
		Msg("Application initialized")

	return a, nil
}

func (a *App) openTable() (Table, error) {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case "sqlite":
		s, err := sqlite.NewStore(a.Logger, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	case "memory":
		return memory.NewTable(), nil
	default:
		if cfg.PostgREST.URL == "" || cfg.PostgREST.Key == "" {
			a.Logger.Warn().Msg("SUPABASE_URL or SUPABASE_KEY not set - store calls will fail")
		}
		return postgrest.NewClient(cfg.PostgREST.URL, cfg.PostgREST.Key,
			postgrest.WithLogger(a.Logger),
			postgrest.WithTimeout(cfg.PostgREST.GetTimeout()),
			postgrest.WithTables(cfg.PostgREST.Table, cfg.PostgREST.RequestsTable),
		), nil
	}
}

// newLimiter builds the configured limiter. An unreachable Redis falls back to memory.
func (a *App) newLimiter() ratelimit.Limiter {
	cfg := a.Config.RateLimit
	if cfg.Backend == "redis" {
		r, err := ratelimit.NewRedisWindow(cfg.Redis, cfg.Requests, cfg.GetWindow(), a.Logger)
		if err == nil {
			a.closers = append(a.closers, r)
			return r
		}
		a.Logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis rate limiter unavailable, using in-memory window")
	}
	return ratelimit.NewSlidingWindow(cfg.Requests, cfg.GetWindow())
}

// Close releases storage and limiter connections.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Close failed")
		}
	}
	a.closers = nil
}
