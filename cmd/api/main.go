package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/converso-ai/converso/internal/api"
	"github.com/converso-ai/converso/internal/attachments"
	"github.com/converso-ai/converso/internal/config"
	"github.com/converso-ai/converso/internal/database"
	"github.com/converso-ai/converso/internal/events"
	"github.com/converso-ai/converso/internal/quota"
	iredis "github.com/converso-ai/converso/internal/redis"
	"github.com/converso-ai/converso/internal/server"
	"github.com/converso-ai/converso/internal/tiers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("validating config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	if cfg.DB.MigrationsPath != "" {
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
			slog.Error("running migrations", "error", err)
			os.Exit(1)
		}
	}
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS (optional)
	var eventsClient *events.Client
	var publisher *events.Publisher
	if cfg.NATS.Enabled {
		eventsClient, err = events.NewClient(ctx, cfg.NATS.URL)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer eventsClient.Close()
		publisher = events.NewPublisher(eventsClient.JetStream())
	}

	// Tiers
	tierTable := tiers.BuildTable(cfg.TierOverrides)
	if _, ok := tierTable[cfg.Quota.FallbackTier]; !ok {
		slog.Error("fallback tier not in tier table", "tier", cfg.Quota.FallbackTier)
		os.Exit(1)
	}
	tierRepo := tiers.NewRepository(pool)
	resolver := tiers.NewResolver(tierRepo, tierTable, cfg.Quota.FallbackTier)

	// Quota
	usageRepo := quota.NewRepository(pool)
	burst := quota.NewBurstLimiter(redisClient)
	quotaSvc := quota.NewService(usageRepo, resolver, burst, publisher, quota.Config{
		StoreTimeout:   cfg.Quota.StoreTimeout,
		BurstPerMinute: cfg.Quota.BurstPerMinute,
	})
	quotaHandler := quota.NewHandler(quotaSvc)

	// Attachment retention
	attachmentRepo := attachments.NewRepository(pool)
	blobs := attachments.NewDiskStore(cfg.Retention.BlobDir)
	sweeper := attachments.NewSweeper(attachmentRepo, blobs, resolver, publisher,
		tierTable.MinRetentionDays(), cfg.Retention.BatchSize)
	scheduler := attachments.NewScheduler(sweeper, cfg.Retention.Schedule)
	if err := scheduler.Start(ctx); err != nil {
		slog.Error("starting retention scheduler", "error", err)
		os.Exit(1)
	}

	// Router
	router := api.NewRouter(pool, redisClient, healthChecker(eventsClient), api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}, api.HandlerSet{
		CheckQuota:  quotaHandler.Check,
		RecordUsage: quotaHandler.Record,
		GetUsage:    quotaHandler.Usage,
		GetLimits:   quotaHandler.Limits,
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// healthChecker avoids handing the router a non-nil interface holding a nil
// *events.Client.
func healthChecker(c *events.Client) api.HealthChecker {
	if c == nil {
		return nil
	}
	return c
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
