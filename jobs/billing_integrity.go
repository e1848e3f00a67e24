package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/chantier-erp/chantier/internal/invoices"
	jobmetrics "github.com/chantier-erp/chantier/internal/jobs"
)

// IntegrityChecker lists stored invoice figures that disagree with their
// recomputation.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) ([]invoices.Mismatch, error)
}

// BillingIntegrityJob reports invoices whose stored total differs from the sum
// of their items, or items whose amount differs from quantity times price.
// It never corrects data.
type BillingIntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewBillingIntegrityJob initialises the integrity scan handler.
func NewBillingIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *BillingIntegrityJob {
	return &BillingIntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle processes TaskBillingIntegrity tasks.
func (j *BillingIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Checker == nil {
		return errors.New("billing integrity: handler not configured")
	}
	tracker := j.Metrics.Track(TaskBillingIntegrity)
	defer func() { err = tracker.End(err) }()

	logger := logOrDefault(j.Logger)
	start := time.Now()
	mismatches, err := j.Checker.CheckIntegrity(ctx)
	if err != nil {
		logger.Error("billing integrity scan failed", slog.Any("error", err))
		return err
	}

	byKind := make(map[string]int, 2)
	for _, m := range mismatches {
		byKind[m.Kind]++
		logger.Warn("billing integrity mismatch",
			slog.Int64("invoice_id", m.InvoiceID),
			slog.String("number", m.Number),
			slog.Int64("item_id", m.ItemID),
			slog.String("kind", m.Kind),
			slog.Float64("stored", m.Stored),
			slog.Float64("expected", m.Expected),
		)
	}
	j.Metrics.SetIntegrityMismatches(byKind, invoices.MismatchInvoiceTotal, invoices.MismatchItemAmount)

	logger.Info("completed billing integrity scan",
		slog.Int("mismatches", len(mismatches)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
