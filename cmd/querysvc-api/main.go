package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// SQL drivers for the datasource pools. Postgres ("pgx") is registered
	// by the catalog package import.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"

	"github.com/LeonAdeoye/query-service/internal/api"
	"github.com/LeonAdeoye/query-service/internal/auth"
	"github.com/LeonAdeoye/query-service/internal/cache"
	catalogpostgres "github.com/LeonAdeoye/query-service/internal/catalog/postgres"
	"github.com/LeonAdeoye/query-service/internal/config"
	"github.com/LeonAdeoye/query-service/internal/exec"
	"github.com/LeonAdeoye/query-service/internal/export"
	"github.com/LeonAdeoye/query-service/internal/maintenance"
	"github.com/LeonAdeoye/query-service/internal/observability"
	"github.com/LeonAdeoye/query-service/internal/pool"
	"github.com/LeonAdeoye/query-service/internal/queue"
	"github.com/LeonAdeoye/query-service/internal/registry"
	"github.com/LeonAdeoye/query-service/internal/retry"
	"github.com/LeonAdeoye/query-service/internal/service"
)

func main() {
	cfg, err := config.LoadFromEnv("querysvc-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	reg, err := registry.New(cfg.Datasources)
	if err != nil {
		logger.Error("failed to build datasource registry", slog.Any("error", err))
		os.Exit(1)
	}

	pools := pool.NewManager(logger)
	defer func() { _ = pools.Close() }()
	for _, ds := range cfg.Datasources {
		desc, err := reg.Resolve(ds.ID)
		if err != nil {
			logger.Error("failed to resolve datasource", slog.String("datasource", ds.ID), slog.Any("error", err))
			os.Exit(1)
		}
		db, err := pool.Open(context.Background(), desc.Vendor.DriverName(), ds)
		if err != nil {
			logger.Error("failed to open datasource pool", slog.String("datasource", ds.ID), slog.Any("error", err))
			os.Exit(1)
		}
		pools.Register(ds.ID, db, ds.AcquireTimeout)
		logger.Info("datasource pool ready",
			slog.String("datasource", ds.ID),
			slog.String("vendor", string(desc.Vendor)))
	}

	catalogDB, err := catalogpostgres.Open(context.Background(), cfg.Catalog)
	if err != nil {
		logger.Error("failed to open catalog db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = catalogDB.Close() }()
	catalogRepo := catalogpostgres.NewRepository(catalogDB)

	executor := exec.New(reg, pools, logger)
	retrySvc := retry.NewService(cfg.Retry, logger)

	var resultCache *cache.Cache
	if cfg.Cache.Enabled {
		resultCache = cache.New(cfg.Cache.MaxSize, cfg.Cache.DefaultTTL, logger)
	}

	var queueMgr *queue.Manager
	if cfg.Queue.Enabled {
		queueMgr = queue.NewManager(cfg.Queue, logger)
	}

	uploader, err := export.NewUploader(context.Background(), cfg.Export.Upload, logger)
	if err != nil {
		logger.Error("failed to initialize export uploader", slog.Any("error", err))
		os.Exit(1)
	}
	exporter := export.NewService(cfg.Export, uploader, logger)

	svc := service.New(cfg, logger, reg, pools, executor, resultCache, queueMgr, retrySvc, exporter, catalogRepo)

	deps := api.Dependencies{
		Logger:       logger,
		Service:      svc,
		ReadyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	if queueMgr != nil {
		queueMgr.Start()
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := &maintenance.Service{
		Config: maintenance.Config{
			ExportDir:     exporter.Dir(),
			Retention:     cfg.Export.Retention,
			SweepInterval: cfg.Export.SweepInterval,
		},
		Logger: logger,
	}
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			logger.Error("export retention sweeper failed", slog.Any("error", err))
		}
	}()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}
	if queueMgr != nil {
		queueMgr.Stop()
	}
}
