package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	mem "loyaltyledger/adapters/memory"
	redisAdapter "loyaltyledger/adapters/redis"
	sqlxAdapter "loyaltyledger/adapters/sqlx"
	"loyaltyledger/analytics"
	"loyaltyledger/api/httpapi"
	"loyaltyledger/catalog"
	"loyaltyledger/config"
	"loyaltyledger/core"
	"loyaltyledger/engine"
	"loyaltyledger/integrations/webhook"
	"loyaltyledger/leaderboard"
	"loyaltyledger/loyalty"
	"loyaltyledger/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Hub     *realtime.Hub
	Ledger  engine.Ledger
	Catalog *catalog.Catalog
	Service *engine.Service
	Metrics *analytics.EngagementMetrics
	Board   *leaderboard.Builder
	Handler http.Handler
	Server  *http.Server
}

func provideConfig(_ context.Context) (*config.Config, error) {
	if path := os.Getenv("LOYALTY_CONFIG"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideLedger(ctx context.Context, cfg *config.Config) (engine.Ledger, error) {
	return setupLedger(ctx, cfg)
}

func provideCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Catalog.Path != "" {
		return catalog.LoadFile(cfg.Catalog.Path)
	}
	return catalog.Default(), nil
}

func provideService(cfg *config.Config, hub *realtime.Hub, ledger engine.Ledger, cat *catalog.Catalog) (*engine.Service, error) {
	loc, err := time.LoadLocation(cfg.Catalog.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	mode := engine.DispatchAsync
	if cfg.Events.Dispatch == "sync" {
		mode = engine.DispatchSync
	}
	svc := loyalty.New(
		loyalty.WithLedger(ledger),
		loyalty.WithCatalog(cat),
		loyalty.WithRealtime(hub),
		loyalty.WithDispatchMode(mode),
		loyalty.WithLocation(loc),
	)
	if len(cfg.Webhooks.Endpoints) > 0 {
		sink := webhook.New(cfg.Webhooks.Endpoints, webhook.WithSecret(cfg.Webhooks.Secret))
		for _, typ := range []core.EventType{
			core.EventPointsAwarded,
			core.EventPointsRedeemed,
			core.EventBadgeGranted,
			core.EventTierUpgraded,
			core.EventStreakUpdated,
		} {
			svc.Subscribe(typ, sink.OnEvent)
		}
	}
	return svc, nil
}

func provideMetrics(svc *engine.Service) *analytics.EngagementMetrics {
	metrics := analytics.NewEngagementMetrics()
	analytics.Attach(svc, metrics)
	return metrics
}

func provideBoard(svc *engine.Service, ledger engine.Ledger, cat *catalog.Catalog) (*leaderboard.Builder, error) {
	cache := leaderboard.NewCache()
	if err := cache.Seed(context.Background(), ledger); err != nil {
		return nil, fmt.Errorf("seed leaderboard cache: %w", err)
	}
	cache.Bind(svc)
	return leaderboard.NewBuilder(ledger, cat, leaderboard.WithCache(cache)), nil
}

func provideHandler(svc *engine.Service, board *leaderboard.Builder, hub *realtime.Hub, cfg *config.Config) http.Handler {
	return httpapi.NewMux(svc, board, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		LeaderboardLimit: cfg.Server.LeaderboardLimit,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	out := os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	var result []slog.Attr
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupLedger creates the configured persistence adapter.
func setupLedger(_ context.Context, cfg *config.Config) (engine.Ledger, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), nil
	case "redis":
		// The store keys per-day counters, so it needs the same reference
		// timezone the engine computes daily-cap windows in.
		loc, err := time.LoadLocation(cfg.Catalog.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone: %w", err)
		}
		return redisAdapter.New(cfg.Storage.Redis, redisAdapter.WithLocation(loc))
	case "sql":
		store, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(context.Background()); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
