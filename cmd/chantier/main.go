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

	"github.com/hibiken/asynq"

	"github.com/chantier-erp/chantier/internal/app"
	"github.com/chantier-erp/chantier/internal/invoices"
	"github.com/chantier-erp/chantier/internal/markets"
	"github.com/chantier-erp/chantier/internal/observability"
	"github.com/chantier-erp/chantier/internal/platform/cache"
	"github.com/chantier-erp/chantier/internal/platform/db"
	"github.com/chantier-erp/chantier/internal/shared"
	"github.com/chantier-erp/chantier/internal/subcontracts"
	"github.com/chantier-erp/chantier/jobs"
	"github.com/chantier-erp/chantier/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if cfg.MigrateOnStart {
		if err := migrateUp(cfg.PGDSN); err != nil {
			logger.Error("apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	asynqOpt, err := cache.AsynqOpt(cfg.RedisAddr)
	if err != nil {
		logger.Error("asynq options", slog.Any("error", err))
		os.Exit(1)
	}
	jobClient := jobs.NewClient(asynqOpt)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(asynqOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotency := shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)

	marketService := markets.NewService(markets.NewRepository(dbpool), logger, markets.ServiceConfig{
		DefaultSettings: cfg.DefaultSettings(),
	})
	invoiceService := invoices.NewService(invoices.NewRepository(dbpool), marketService, logger, invoices.Options{
		Idempotency: idempotency,
		Audit:       auditLogger,
		Exports:     jobClient,
		Metrics:     metrics,
		ExportDir:   cfg.ExportDir,
	})
	subcontractService := subcontracts.NewService(subcontracts.NewRepository(dbpool), marketService, logger, subcontracts.Options{
		Idempotency: idempotency,
		Audit:       auditLogger,
		Metrics:     metrics,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Metrics:             metrics,
		MarketsHandler:      markets.NewHandler(logger, marketService),
		InvoicesHandler:     invoices.NewHandler(logger, invoiceService),
		SubcontractsHandler: subcontracts.NewHandler(logger, subcontractService),
		JobHandler:          jobs.NewHandler(inspector, logger),
		Ready: func(ctx context.Context) error {
			return errors.Join(dbpool.Ping(ctx), redisClient.Ping(ctx).Err())
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func migrateUp(dsn string) error {
	m, err := db.NewMigrator(dsn, migrations.FS, ".")
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
