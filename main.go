package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cohortql/cohort-engine/pkg/cache"
	"github.com/cohortql/cohort-engine/pkg/config"
	"github.com/cohortql/cohort-engine/pkg/database"
	"github.com/cohortql/cohort-engine/pkg/handlers"
	"github.com/cohortql/cohort-engine/pkg/privacy"
	"github.com/cohortql/cohort-engine/pkg/repositories"
	"github.com/cohortql/cohort-engine/pkg/scheduler"
	"github.com/cohortql/cohort-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("cohort", cfg.CohortTitle),
		zap.String("database", cfg.Database.Host),
		zap.Int("mask_threshold", cfg.Privacy.MaskThreshold),
		zap.Bool("jitter", cfg.Privacy.JitterEnabled))

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
		MinConnections: cfg.Database.MinConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// golang-migrate wants a database/sql handle.
	sqlDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	variableRepo := repositories.NewVariableRepository(db)
	catalogRepo := repositories.NewCatalogRepository(db)
	summaryRepo := repositories.NewSummaryRepository(db)

	masker := privacy.New(cfg.Privacy.MaskThreshold, cfg.Privacy.JitterEnabled, cfg.Privacy.JitterSalt,
		privacy.WithJitterRange(cfg.Privacy.JitterMin, cfg.Privacy.JitterMax))
	memo, err := cache.NewMemo(cfg.MemoCapacity)
	if err != nil {
		logger.Fatal("Failed to create response memo", zap.Error(err))
	}
	cache.RegisterMetrics(prometheus.DefaultRegisterer, memo)

	resolver := services.NewResolverService(variableRepo, catalogRepo, logger)
	metadata := services.NewMetadataService(catalogRepo, variableRepo, cfg.IdealBucketCount, logger)
	aggregation := services.NewAggregationService(cfg, resolver, metadata, summaryRepo, masker, memo, logger)

	// A failed precompute is not fatal: every filter request re-attempts the
	// warm-up, so the engine recovers as soon as the store does.
	if err := aggregation.Warm(ctx); err != nil {
		logger.Error("Failed to warm caches, will retry on first request", zap.Error(err))
	}

	retention := scheduler.NewRetentionScheduler(cfg.BaseDir, cfg.LogRetentionDays, logger)
	if err := retention.Start(); err != nil {
		logger.Fatal("Failed to start retention scheduler", zap.Error(err))
	}
	defer retention.Stop()

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewFilterHandler(aggregation, logger).RegisterRoutes(mux)
	handlers.NewMetaHandler(cfg, aggregation, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting cohort-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handlers.CORS(mux, cfg.CORSOrigins)); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "test" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
