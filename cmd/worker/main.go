package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/chantier-erp/chantier/internal/app"
	"github.com/chantier-erp/chantier/internal/invoices"
	jobmetrics "github.com/chantier-erp/chantier/internal/jobs"
	"github.com/chantier-erp/chantier/internal/markets"
	"github.com/chantier-erp/chantier/internal/platform/cache"
	"github.com/chantier-erp/chantier/internal/platform/db"
	"github.com/chantier-erp/chantier/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	if err := cfg.EnsureExportDir(); err != nil {
		logger.Error("prepare export dir", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	asynqOpt, err := cache.AsynqOpt(cfg.RedisAddr)
	if err != nil {
		logger.Error("asynq options", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := jobmetrics.NewMetrics(nil)
	marketService := markets.NewService(markets.NewRepository(pool), logger, markets.ServiceConfig{
		DefaultSettings: cfg.DefaultSettings(),
	})
	invoiceService := invoices.NewService(invoices.NewRepository(pool), marketService, logger, invoices.Options{
		ExportDir: cfg.ExportDir,
	})

	exportJob := jobs.NewInvoiceExportJob(invoiceService, logger, metrics)
	integrityJob := jobs.NewBillingIntegrityJob(invoiceService, logger, metrics)

	integrityTask, err := jobs.NewBillingIntegrityTask(time.Now().UTC())
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynqOpt,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInvoiceExport, Handler: exportJob.Handle},
			{Type: jobs.TaskBillingIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 2 * * *", Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
