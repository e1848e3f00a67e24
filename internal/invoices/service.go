package invoices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chantier-erp/chantier/internal/billing"
	"github.com/chantier-erp/chantier/internal/markets"
	"github.com/chantier-erp/chantier/internal/shared"
)

const idempotencyModule = "invoices.generate"

// integrityTolerance absorbs float noise between stored and recomputed figures.
const integrityTolerance = 1e-6

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithProjectLock(ctx context.Context, projectID int64, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, projectID int64, filters ListFilters) ([]Invoice, int, error)
	ListItems(ctx context.Context, invoiceID int64) ([]Item, error)
	LatestValidatedItems(ctx context.Context, projectID int64) (map[int64]billing.PreviousItem, error)
	NextSequence(ctx context.Context, projectID int64) (int, error)
	SetExportPath(ctx context.Context, id int64, path string) error
	IntegrityMismatches(ctx context.Context, tolerance float64) ([]Mismatch, error)
}

// ProjectSource provides project settings and aggregated article progress.
type ProjectSource interface {
	GetProject(ctx context.Context, id int64) (markets.Project, error)
	BillingInputs(ctx context.Context, projectID int64) ([]billing.ArticleInput, error)
}

// IdempotencyStore reserves request keys.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ExportScheduler queues the workbook export of a validated invoice.
type ExportScheduler interface {
	EnqueueInvoiceExport(ctx context.Context, invoiceID int64) error
}

// Metrics receives billing counters.
type Metrics interface {
	InvoiceGenerated(items int, amount float64)
	StatusChanged(entity string, status billing.Status)
}

// Options wires optional collaborators. Nil members are skipped.
type Options struct {
	Idempotency IdempotencyStore
	Audit       AuditRecorder
	Exports     ExportScheduler
	Metrics     Metrics
	ExportDir   string
	Now         func() time.Time
}

// Service issues and transitions client invoices.
type Service struct {
	repo     RepositoryPort
	projects ProjectSource
	logger   *slog.Logger
	opts     Options
}

// NewService builds Service.
func NewService(repo RepositoryPort, projects ProjectSource, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{repo: repo, projects: projects, logger: logger, opts: opts}
}

// Generate snapshots current progress into a new DRAFT invoice. The baseline
// read, numbering and inserts run under the project billing lock.
func (s *Service) Generate(ctx context.Context, projectID int64, in GenerateInput, idempotencyKey string) (inv Invoice, err error) {
	date, err := in.date(s.opts.Now())
	if err != nil {
		return Invoice{}, err
	}
	project, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return Invoice{}, err
	}

	if idempotencyKey != "" && s.opts.Idempotency != nil {
		if err := s.opts.Idempotency.CheckAndInsert(ctx, idempotencyKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Invoice{}, fmt.Errorf("%w: key %s", ErrDuplicateRequest, idempotencyKey)
			}
			return Invoice{}, err
		}
		defer func() {
			if err != nil {
				if delErr := s.opts.Idempotency.Delete(context.WithoutCancel(ctx), idempotencyKey, idempotencyModule); delErr != nil {
					s.logger.Warn("release idempotency key", slog.String("key", idempotencyKey), slog.Any("error", delErr))
				}
			}
		}()
	}

	inputs, err := s.projects.BillingInputs(ctx, projectID)
	if err != nil {
		return Invoice{}, err
	}

	var items []billing.Item
	err = s.repo.WithProjectLock(ctx, projectID, func(ctx context.Context, tx TxRepository) error {
		draft, err := tx.HasDraft(ctx, projectID)
		if err != nil {
			return err
		}
		if draft {
			return fmt.Errorf("%w: project %d", ErrDraftPending, projectID)
		}
		previous, err := tx.LatestValidatedItems(ctx, projectID)
		if err != nil {
			return err
		}
		snap := billing.BuildInvoiceSnapshot(inputs, previous, project.Settings)
		if len(snap.Items) == 0 {
			return fmt.Errorf("%w: project %d", ErrNothingToBill, projectID)
		}
		seq, err := tx.NextSequence(ctx, projectID)
		if err != nil {
			return err
		}
		created, err := tx.InsertInvoice(ctx, Invoice{
			ProjectID:   projectID,
			Sequence:    seq,
			Number:      FormatNumber(project.Code, seq),
			Date:        date,
			Status:      billing.StatusDraft,
			TotalAmount: snap.TotalAmount,
			Tax:         billing.ComputeTaxTotals(snap.TotalAmount, project.Settings),
		})
		if err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, created.ID, snap.Items); err != nil {
			return err
		}
		inv = created
		items = snap.Items
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}

	s.logger.Info("invoice generated",
		slog.Int64("invoice_id", inv.ID),
		slog.String("number", inv.Number),
		slog.Int("items", len(items)),
		slog.Float64("total_amount", inv.TotalAmount))
	s.audit(ctx, "invoice.generated", inv.ID, map[string]any{"number": inv.Number, "items": len(items), "total_amount": inv.TotalAmount})
	if s.opts.Metrics != nil {
		s.opts.Metrics.InvoiceGenerated(len(items), inv.TotalAmount)
	}
	return s.Get(ctx, inv.ID)
}

// Preview computes the next invoice without persisting it.
func (s *Service) Preview(ctx context.Context, projectID int64) (Preview, error) {
	var (
		project  markets.Project
		inputs   []billing.ArticleInput
		previous map[int64]billing.PreviousItem
		seq      int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		project, err = s.projects.GetProject(gctx, projectID)
		return err
	})
	g.Go(func() error {
		var err error
		inputs, err = s.projects.BillingInputs(gctx, projectID)
		return err
	})
	g.Go(func() error {
		var err error
		previous, err = s.repo.LatestValidatedItems(gctx, projectID)
		return err
	})
	g.Go(func() error {
		var err error
		seq, err = s.repo.NextSequence(gctx, projectID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Preview{}, err
	}

	snap := billing.BuildInvoiceSnapshot(inputs, previous, project.Settings)
	return Preview{
		ProjectID:   projectID,
		Number:      FormatNumber(project.Code, seq),
		Items:       snap.Items,
		Skipped:     snap.Skipped,
		TotalAmount: snap.TotalAmount,
		Tax:         billing.ComputeTaxTotals(snap.TotalAmount, project.Settings),
		Settings:    project.Settings,
	}, nil
}

// Get loads an invoice with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	items, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	inv.Items = items
	return inv, nil
}

// List returns a page of a project's invoices.
func (s *Service) List(ctx context.Context, projectID int64, filters ListFilters) ([]Invoice, shared.Pagination, error) {
	if filters.Status != "" && !billing.InvoiceLifecycle.Contains(billing.Status(filters.Status)) {
		return nil, shared.Pagination{}, fmt.Errorf("%w: status %q", ErrInvalidInput, filters.Status)
	}
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return nil, shared.Pagination{}, err
	}
	list, total, err := s.repo.ListInvoices(ctx, projectID, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// UpdateItems applies manual cumulative percentages to lines of a DRAFT
// invoice. Values below a line's previous percentage are raised to it.
func (s *Service) UpdateItems(ctx context.Context, id int64, in UpdateItemsInput) (Invoice, error) {
	if len(in.Items) == 0 {
		return Invoice{}, fmt.Errorf("%w: no items", ErrInvalidInput)
	}
	head, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	project, err := s.projects.GetProject(ctx, head.ProjectID)
	if err != nil {
		return Invoice{}, err
	}

	changes := make([]map[string]any, 0, len(in.Items))
	err = s.repo.WithProjectLock(ctx, head.ProjectID, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := billing.RequireDraft(entityInvoice, id, inv.Status, "edit items"); err != nil {
			return err
		}
		items, err := tx.ListItems(ctx, id)
		if err != nil {
			return err
		}
		byID := make(map[int64]int, len(items))
		for i, it := range items {
			byID[it.ID] = i
		}
		for _, o := range in.Items {
			i, ok := byID[o.ItemID]
			if !ok {
				return fmt.Errorf("%w: item %d is not on invoice %d", ErrInvalidInput, o.ItemID, id)
			}
			before := items[i].TotalPercentage
			items[i].Item = billing.ApplyPercentageOverride(items[i].Item, o.TotalPercentage, project.Settings)
			if err := tx.UpdateItem(ctx, o.ItemID, items[i].Item); err != nil {
				return err
			}
			changes = append(changes, map[string]any{
				"item_id":   o.ItemID,
				"requested": o.TotalPercentage,
				"before":    before,
				"after":     items[i].TotalPercentage,
			})
		}
		total := 0.0
		for _, it := range items {
			total += it.CurrentAmount
		}
		return tx.UpdateTotals(ctx, id, total, billing.ComputeTaxTotals(total, project.Settings))
	})
	if err != nil {
		return Invoice{}, err
	}
	s.audit(ctx, "invoice.items_overridden", id, map[string]any{"changes": changes})
	return s.Get(ctx, id)
}

// Validate locks a DRAFT invoice against edits and schedules its export.
// Lines left without billed quantity by manual overrides are dropped.
func (s *Service) Validate(ctx context.Context, id int64) (Invoice, error) {
	inv, err := s.transition(ctx, id, billing.StatusValidated)
	if err != nil {
		return Invoice{}, err
	}
	if s.opts.Exports != nil {
		if err := s.opts.Exports.EnqueueInvoiceExport(ctx, id); err != nil {
			s.logger.Warn("enqueue invoice export", slog.Int64("invoice_id", id), slog.Any("error", err))
		}
	}
	return inv, nil
}

// Account marks a VALIDATED invoice as posted to accounting.
func (s *Service) Account(ctx context.Context, id int64) (Invoice, error) {
	return s.transition(ctx, id, billing.StatusAccounted)
}

func (s *Service) transition(ctx context.Context, id int64, target billing.Status) (Invoice, error) {
	head, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	var from billing.Status
	err = s.repo.WithProjectLock(ctx, head.ProjectID, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := billing.InvoiceLifecycle.Transition(entityInvoice, id, inv.Status, target); err != nil {
			return err
		}
		from = inv.Status
		if target == billing.StatusValidated {
			remaining, err := tx.DeleteEmptyItems(ctx, id)
			if err != nil {
				return err
			}
			if remaining == 0 {
				return fmt.Errorf("%w: invoice %d has no billed quantity", ErrNothingToBill, id)
			}
		}
		_, err = tx.UpdateStatus(ctx, id, inv.Status, target)
		return err
	})
	if err != nil {
		return Invoice{}, err
	}

	s.logger.Info("invoice status changed",
		slog.Int64("invoice_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(target)))
	s.audit(ctx, "invoice.status_changed", id, map[string]any{"from": from, "to": target})
	if s.opts.Metrics != nil {
		s.opts.Metrics.StatusChanged(entityInvoice, target)
	}
	return s.Get(ctx, id)
}

// CheckIntegrity lists stored totals and amounts that disagree with the
// values recomputed from quantities and unit prices.
func (s *Service) CheckIntegrity(ctx context.Context) ([]Mismatch, error) {
	return s.repo.IntegrityMismatches(ctx, integrityTolerance)
}

func (s *Service) audit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.opts.Audit == nil {
		return
	}
	err := s.opts.Audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   entityInvoice,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit invoice", slog.String("action", action), slog.Int64("invoice_id", id), slog.Any("error", err))
	}
}
