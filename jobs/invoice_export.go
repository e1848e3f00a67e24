package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/chantier-erp/chantier/internal/invoices"
	jobmetrics "github.com/chantier-erp/chantier/internal/jobs"
)

// InvoiceExporter writes an invoice workbook and returns its path.
type InvoiceExporter interface {
	ExportToDir(ctx context.Context, invoiceID int64) (string, error)
}

// InvoiceExportJob renders validated invoices to the export directory.
type InvoiceExportJob struct {
	Exporter InvoiceExporter
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewInvoiceExportJob initialises the export handler.
func NewInvoiceExportJob(exporter InvoiceExporter, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvoiceExportJob {
	return &InvoiceExportJob{Exporter: exporter, Logger: logger, Metrics: metrics}
}

// Handle processes TaskInvoiceExport tasks.
func (j *InvoiceExportJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Exporter == nil {
		return errors.New("invoice export: handler not configured")
	}
	var payload InvoiceExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.InvoiceID <= 0 {
		return fmt.Errorf("invoice export: bad payload: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskInvoiceExport)
	defer func() { err = tracker.End(err) }()

	logger := logOrDefault(j.Logger).With(slog.Int64("invoice_id", payload.InvoiceID))
	start := time.Now()
	path, err := j.Exporter.ExportToDir(ctx, payload.InvoiceID)
	if err != nil {
		if errors.Is(err, invoices.ErrNotFound) {
			logger.Warn("invoice export skipped, invoice missing")
			return fmt.Errorf("invoice export: %w: %w", err, asynq.SkipRetry)
		}
		logger.Error("invoice export failed", slog.Any("error", err))
		return err
	}
	j.Metrics.ExportWritten()
	logger.Info("invoice exported", slog.String("path", path), slog.Duration("duration", time.Since(start)))
	return nil
}

func logOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
