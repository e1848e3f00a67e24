package subcontracts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/chantier-erp/chantier/internal/billing"
	"github.com/chantier-erp/chantier/internal/markets"
	"github.com/chantier-erp/chantier/internal/shared"
)

const idempotencyModule = "subcontracts.bill"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithSubcontractLock(ctx context.Context, subcontractID int64, fn func(context.Context, TxRepository) error) error
	InsertSubcontract(ctx context.Context, sc Subcontract) (Subcontract, error)
	GetSubcontract(ctx context.Context, id int64) (Subcontract, error)
	InsertItem(ctx context.Context, it Item) (Item, error)
	ListItems(ctx context.Context, subcontractID int64) ([]Item, error)
	GetBill(ctx context.Context, id int64) (Bill, error)
	ListBills(ctx context.Context, subcontractID int64) ([]Bill, error)
	ListLines(ctx context.Context, billID int64) ([]Line, error)
}

// ProjectSource provides project settings and market articles.
type ProjectSource interface {
	GetProject(ctx context.Context, id int64) (markets.Project, error)
	GetArticle(ctx context.Context, id int64) (markets.Article, error)
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

// Metrics receives billing counters.
type Metrics interface {
	BillCreated(lines int, netAmount float64)
	StatusChanged(entity string, status billing.Status)
}

// Options wires optional collaborators. Nil members are skipped.
type Options struct {
	Idempotency IdempotencyStore
	Audit       AuditRecorder
	Metrics     Metrics
	Now         func() time.Time
}

// Service manages subcontracts and subcontractor bills.
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

// CreateSubcontract registers a subcontract on a project.
func (s *Service) CreateSubcontract(ctx context.Context, projectID int64, in CreateSubcontractInput) (Subcontract, error) {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return Subcontract{}, err
	}
	sc := Subcontract{
		ProjectID:         projectID,
		SubcontractorName: strings.TrimSpace(in.SubcontractorName),
		Reference:         strings.TrimSpace(in.Reference),
		RetentionRate:     billing.ClampPercent(in.RetentionRate),
	}
	if sc.SubcontractorName == "" {
		return Subcontract{}, fmt.Errorf("%w: subcontractor name required", ErrInvalidInput)
	}
	created, err := s.repo.InsertSubcontract(ctx, sc)
	if err != nil {
		return Subcontract{}, err
	}
	s.logger.Info("subcontract created", slog.Int64("subcontract_id", created.ID), slog.Int64("project_id", projectID))
	return created, nil
}

// Get loads a subcontract with its items and billed percentages.
func (s *Service) Get(ctx context.Context, id int64) (Subcontract, error) {
	sc, err := s.repo.GetSubcontract(ctx, id)
	if err != nil {
		return Subcontract{}, err
	}
	items, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return Subcontract{}, err
	}
	sc.Items = items
	return sc, nil
}

// AddItem adds a priced item to a subcontract.
func (s *Service) AddItem(ctx context.Context, subcontractID int64, in CreateItemInput) (Item, error) {
	sc, err := s.repo.GetSubcontract(ctx, subcontractID)
	if err != nil {
		return Item{}, err
	}
	it := Item{
		SubcontractID: subcontractID,
		ArticleID:     in.ArticleID,
		Designation:   strings.TrimSpace(in.Designation),
		Unit:          strings.TrimSpace(in.Unit),
		Quantity:      billing.Sanitize(in.Quantity),
		UnitPrice:     billing.Sanitize(in.UnitPrice),
	}
	if in.ArticleID != nil {
		article, err := s.projects.GetArticle(ctx, *in.ArticleID)
		if err != nil {
			return Item{}, err
		}
		if article.ProjectID != sc.ProjectID {
			return Item{}, fmt.Errorf("%w: article %d belongs to another project", ErrInvalidInput, article.ID)
		}
		if it.Designation == "" {
			it.Designation = article.Designation
		}
		if it.Unit == "" {
			it.Unit = article.Unit
		}
	}
	if it.Designation == "" {
		return Item{}, fmt.Errorf("%w: designation required", ErrInvalidInput)
	}
	return s.repo.InsertItem(ctx, it)
}

// CreateBill records a DRAFT bill. Each line's previous percentage is the sum
// of the item's period percentages over all earlier bills; the line is then
// derived from the typed value in its entry mode. Retention is withheld from
// the period amount.
func (s *Service) CreateBill(ctx context.Context, subcontractID int64, in CreateBillInput, idempotencyKey string) (bill Bill, err error) {
	date, err := in.date(s.opts.Now())
	if err != nil {
		return Bill{}, err
	}
	if len(in.Lines) == 0 {
		return Bill{}, fmt.Errorf("%w: at least one line required", ErrInvalidInput)
	}
	seen := make(map[int64]bool, len(in.Lines))
	for _, l := range in.Lines {
		if seen[l.ItemID] {
			return Bill{}, fmt.Errorf("%w: item %d listed twice", ErrInvalidInput, l.ItemID)
		}
		seen[l.ItemID] = true
	}
	sc, err := s.repo.GetSubcontract(ctx, subcontractID)
	if err != nil {
		return Bill{}, err
	}
	project, err := s.projects.GetProject(ctx, sc.ProjectID)
	if err != nil {
		return Bill{}, err
	}
	decimals := project.Settings.Normalize().QuantityDecimals

	if idempotencyKey != "" && s.opts.Idempotency != nil {
		if err := s.opts.Idempotency.CheckAndInsert(ctx, idempotencyKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Bill{}, fmt.Errorf("%w: key %s", ErrDuplicateRequest, idempotencyKey)
			}
			return Bill{}, err
		}
		defer func() {
			if err != nil {
				if delErr := s.opts.Idempotency.Delete(context.WithoutCancel(ctx), idempotencyKey, idempotencyModule); delErr != nil {
					s.logger.Warn("release idempotency key", slog.String("key", idempotencyKey), slog.Any("error", delErr))
				}
			}
		}()
	}

	err = s.repo.WithSubcontractLock(ctx, subcontractID, func(ctx context.Context, tx TxRepository) error {
		items, err := tx.ListItems(ctx, subcontractID)
		if err != nil {
			return err
		}
		byID := make(map[int64]Item, len(items))
		for _, it := range items {
			byID[it.ID] = it
		}
		prior, err := tx.PriorPercentages(ctx, subcontractID)
		if err != nil {
			return err
		}

		lines := make([]billing.SubcontractLine, 0, len(in.Lines))
		for _, l := range in.Lines {
			it, ok := byID[l.ItemID]
			if !ok {
				return fmt.Errorf("%w: item %d is not on subcontract %d", ErrInvalidInput, l.ItemID, subcontractID)
			}
			mode := l.Mode
			if mode == "" {
				mode = billing.EntryModePeriod
			}
			lines = append(lines, billing.ComputeSubcontractLine(billing.SubcontractLineInput{
				ItemID:             it.ID,
				Quantity:           it.Quantity,
				UnitPrice:          it.UnitPrice,
				PreviousPercentage: billing.PreviousSubcontractPercentage(prior[it.ID]),
				Mode:               mode,
				Percentage:         l.Percentage,
			}, decimals))
		}

		seq, err := tx.NextSequence(ctx, subcontractID)
		if err != nil {
			return err
		}
		created, err := tx.InsertBill(ctx, Bill{
			SubcontractID: subcontractID,
			Sequence:      seq,
			Date:          date,
			Status:        billing.StatusDraft,
			BillTotals:    billing.ComputeBillTotals(lines, sc.RetentionRate),
		})
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, created.ID, lines); err != nil {
			return err
		}
		bill = created
		return nil
	})
	if err != nil {
		return Bill{}, err
	}

	s.logger.Info("subcontract bill created",
		slog.Int64("bill_id", bill.ID),
		slog.Int64("subcontract_id", subcontractID),
		slog.Float64("progress_amount", bill.ProgressAmount),
		slog.Float64("retention_amount", bill.RetentionAmount))
	s.audit(ctx, "subcontract_bill.created", bill.ID, map[string]any{"subcontract_id": subcontractID, "total_amount": bill.TotalAmount})
	if s.opts.Metrics != nil {
		s.opts.Metrics.BillCreated(len(in.Lines), bill.TotalAmount)
	}
	return s.GetBill(ctx, bill.ID)
}

// UpdateLines re-derives lines of the latest DRAFT bill from newly typed
// percentages. Each line keeps the previous percentage, quantity and price it
// was created with, so both entry modes stay consistent against the same
// previous value.
func (s *Service) UpdateLines(ctx context.Context, id int64, in UpdateLinesInput) (Bill, error) {
	if len(in.Lines) == 0 {
		return Bill{}, fmt.Errorf("%w: at least one line required", ErrInvalidInput)
	}
	head, err := s.repo.GetBill(ctx, id)
	if err != nil {
		return Bill{}, err
	}
	sc, err := s.repo.GetSubcontract(ctx, head.SubcontractID)
	if err != nil {
		return Bill{}, err
	}
	project, err := s.projects.GetProject(ctx, sc.ProjectID)
	if err != nil {
		return Bill{}, err
	}
	decimals := project.Settings.Normalize().QuantityDecimals

	changes := make([]map[string]any, 0, len(in.Lines))
	err = s.repo.WithSubcontractLock(ctx, head.SubcontractID, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBillForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := billing.RequireDraft(entityBill, id, b.Status, "edit lines"); err != nil {
			return err
		}
		next, err := tx.NextSequence(ctx, b.SubcontractID)
		if err != nil {
			return err
		}
		if next != b.Sequence+1 {
			return fmt.Errorf("%w: bill %d", ErrLaterBill, id)
		}
		lines, err := tx.ListLines(ctx, id)
		if err != nil {
			return err
		}
		byItem := make(map[int64]int, len(lines))
		for i, l := range lines {
			byItem[l.ItemID] = i
		}
		seen := make(map[int64]bool, len(in.Lines))
		for _, l := range in.Lines {
			i, ok := byItem[l.ItemID]
			if !ok {
				return fmt.Errorf("%w: item %d is not on bill %d", ErrInvalidInput, l.ItemID, id)
			}
			if seen[l.ItemID] {
				return fmt.Errorf("%w: item %d listed twice", ErrInvalidInput, l.ItemID)
			}
			seen[l.ItemID] = true
			mode := l.Mode
			if mode == "" {
				mode = billing.EntryModePeriod
			}
			before := lines[i].CurrentPercentage
			lines[i].SubcontractLine = billing.ComputeSubcontractLine(billing.SubcontractLineInput{
				ItemID:             l.ItemID,
				Quantity:           lines[i].Quantity,
				UnitPrice:          lines[i].UnitPrice,
				PreviousPercentage: lines[i].PreviousPercentage,
				Mode:               mode,
				Percentage:         l.Percentage,
			}, decimals)
			if err := tx.UpdateLine(ctx, lines[i].ID, lines[i].SubcontractLine); err != nil {
				return err
			}
			changes = append(changes, map[string]any{
				"item_id": l.ItemID,
				"mode":    mode,
				"before":  before,
				"after":   lines[i].CurrentPercentage,
			})
		}
		computed := make([]billing.SubcontractLine, 0, len(lines))
		for _, l := range lines {
			computed = append(computed, l.SubcontractLine)
		}
		return tx.UpdateTotals(ctx, id, billing.ComputeBillTotals(computed, b.RetentionRate))
	})
	if err != nil {
		return Bill{}, err
	}
	s.audit(ctx, "subcontract_bill.lines_updated", id, map[string]any{"changes": changes})
	return s.GetBill(ctx, id)
}

// ListBills returns the bills of a subcontract in sequence order.
func (s *Service) ListBills(ctx context.Context, subcontractID int64) ([]Bill, error) {
	if _, err := s.repo.GetSubcontract(ctx, subcontractID); err != nil {
		return nil, err
	}
	return s.repo.ListBills(ctx, subcontractID)
}

// GetBill loads a bill with its lines.
func (s *Service) GetBill(ctx context.Context, id int64) (Bill, error) {
	b, err := s.repo.GetBill(ctx, id)
	if err != nil {
		return Bill{}, err
	}
	lines, err := s.repo.ListLines(ctx, id)
	if err != nil {
		return Bill{}, err
	}
	b.Lines = lines
	return b, nil
}

// ValidateBill moves a DRAFT bill to VALIDATED.
func (s *Service) ValidateBill(ctx context.Context, id int64) (Bill, error) {
	return s.transition(ctx, id, billing.StatusValidated)
}

// PayBill moves a VALIDATED bill to PAID.
func (s *Service) PayBill(ctx context.Context, id int64) (Bill, error) {
	return s.transition(ctx, id, billing.StatusPaid)
}

func (s *Service) transition(ctx context.Context, id int64, target billing.Status) (Bill, error) {
	head, err := s.repo.GetBill(ctx, id)
	if err != nil {
		return Bill{}, err
	}
	var from billing.Status
	err = s.repo.WithSubcontractLock(ctx, head.SubcontractID, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBillForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := billing.BillLifecycle.Transition(entityBill, id, b.Status, target); err != nil {
			return err
		}
		from = b.Status
		_, err = tx.UpdateStatus(ctx, id, b.Status, target)
		return err
	})
	if err != nil {
		return Bill{}, err
	}
	s.logger.Info("subcontract bill status changed",
		slog.Int64("bill_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(target)))
	s.audit(ctx, "subcontract_bill.status_changed", id, map[string]any{"from": from, "to": target})
	if s.opts.Metrics != nil {
		s.opts.Metrics.StatusChanged(entityBill, target)
	}
	return s.GetBill(ctx, id)
}

func (s *Service) audit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.opts.Audit == nil {
		return
	}
	err := s.opts.Audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   entityBill,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit subcontract bill", slog.String("action", action), slog.Int64("bill_id", id), slog.Any("error", err))
	}
}
