package invoices

import (
	"context"
	"fmt"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/chantier-erp/chantier/internal/billing"
	"github.com/chantier-erp/chantier/internal/markets"
	"github.com/chantier-erp/chantier/internal/shared"
)

type memoryRepo struct {
	nextID   int64
	invoices map[int64]Invoice
	items    map[int64][]Item
	locks    []int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{invoices: make(map[int64]Invoice), items: make(map[int64][]Item)}
}

func (r *memoryRepo) WithProjectLock(ctx context.Context, projectID int64, fn func(context.Context, TxRepository) error) error {
	r.locks = append(r.locks, projectID)
	nextID, invoices, items := r.nextID, r.cloneInvoices(), r.cloneItems()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		// rollback
		r.nextID, r.invoices, r.items = nextID, invoices, items
		return err
	}
	return nil
}

func (r *memoryRepo) cloneInvoices() map[int64]Invoice {
	out := make(map[int64]Invoice, len(r.invoices))
	for k, v := range r.invoices {
		out[k] = v
	}
	return out
}

func (r *memoryRepo) cloneItems() map[int64][]Item {
	out := make(map[int64][]Item, len(r.items))
	for k, v := range r.items {
		out[k] = append([]Item(nil), v...)
	}
	return out
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListInvoices(ctx context.Context, projectID int64, filters ListFilters) ([]Invoice, int, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if inv.ProjectID == projectID && (filters.Status == "" || string(inv.Status) == filters.Status) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (r *memoryRepo) ListItems(ctx context.Context, invoiceID int64) ([]Item, error) {
	items := append([]Item(nil), r.items[invoiceID]...)
	for i := range items {
		items[i].recompute()
	}
	return items, nil
}

func (r *memoryRepo) LatestValidatedItems(ctx context.Context, projectID int64) (map[int64]billing.PreviousItem, error) {
	out := make(map[int64]billing.PreviousItem)
	source := make(map[int64]Invoice)
	for id, inv := range r.invoices {
		if inv.ProjectID != projectID || (inv.Status != billing.StatusValidated && inv.Status != billing.StatusAccounted) {
			continue
		}
		for _, it := range r.items[id] {
			seen, ok := source[it.ArticleID]
			if ok && (seen.Date.After(inv.Date) || (seen.Date.Equal(inv.Date) && seen.ID > inv.ID)) {
				continue
			}
			source[it.ArticleID] = inv
			out[it.ArticleID] = billing.PreviousItem{TotalQuantity: it.TotalQuantity, TotalPercentage: it.TotalPercentage}
		}
	}
	return out, nil
}

func (r *memoryRepo) NextSequence(ctx context.Context, projectID int64) (int, error) {
	max := 0
	for _, inv := range r.invoices {
		if inv.ProjectID == projectID && inv.Sequence > max {
			max = inv.Sequence
		}
	}
	return max + 1, nil
}

func (r *memoryRepo) SetExportPath(ctx context.Context, id int64, path string) error {
	inv, ok := r.invoices[id]
	if !ok {
		return ErrNotFound
	}
	inv.ExportPath = path
	r.invoices[id] = inv
	return nil
}

func (r *memoryRepo) IntegrityMismatches(ctx context.Context, tolerance float64) ([]Mismatch, error) {
	var out []Mismatch
	for id, inv := range r.invoices {
		var sum float64
		for _, it := range r.items[id] {
			sum += it.CurrentQuantity * it.UnitPrice
			if d := it.CurrentAmount - it.CurrentQuantity*it.UnitPrice; d > tolerance || d < -tolerance {
				out = append(out, Mismatch{InvoiceID: id, Number: inv.Number, ItemID: it.ID, Kind: MismatchItemAmount, Stored: it.CurrentAmount, Expected: it.CurrentQuantity * it.UnitPrice})
			}
		}
		if d := inv.TotalAmount - sum; d > tolerance || d < -tolerance {
			out = append(out, Mismatch{InvoiceID: id, Number: inv.Number, Kind: MismatchInvoiceTotal, Stored: inv.TotalAmount, Expected: sum})
		}
	}
	return out, nil
}

func (tx *memoryTx) HasDraft(ctx context.Context, projectID int64) (bool, error) {
	for _, inv := range tx.repo.invoices {
		if inv.ProjectID == projectID && inv.Status == billing.StatusDraft {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) LatestValidatedItems(ctx context.Context, projectID int64) (map[int64]billing.PreviousItem, error) {
	return tx.repo.LatestValidatedItems(ctx, projectID)
}

func (tx *memoryTx) NextSequence(ctx context.Context, projectID int64) (int, error) {
	return tx.repo.NextSequence(ctx, projectID)
}

func (tx *memoryTx) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	tx.repo.nextID++
	inv.ID = tx.repo.nextID
	inv.CreatedAt = time.Now()
	tx.repo.invoices[inv.ID] = inv
	return inv, nil
}

func (tx *memoryTx) InsertItems(ctx context.Context, invoiceID int64, items []billing.Item) error {
	for _, it := range items {
		tx.repo.nextID++
		tx.repo.items[invoiceID] = append(tx.repo.items[invoiceID], Item{
			ID:        tx.repo.nextID,
			InvoiceID: invoiceID,
			Code:      fmt.Sprintf("ART-%d", it.ArticleID),
			Item:      it,
		})
	}
	return nil
}

func (tx *memoryTx) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	return tx.repo.GetInvoice(ctx, id)
}

func (tx *memoryTx) ListItems(ctx context.Context, invoiceID int64) ([]Item, error) {
	return tx.repo.ListItems(ctx, invoiceID)
}

func (tx *memoryTx) UpdateItem(ctx context.Context, itemID int64, item billing.Item) error {
	for invID, items := range tx.repo.items {
		for i := range items {
			if items[i].ID == itemID {
				tx.repo.items[invID][i].Item = item
				return nil
			}
		}
	}
	return ErrNotFound
}

func (tx *memoryTx) UpdateTotals(ctx context.Context, invoiceID int64, total float64, tax billing.TaxTotals) error {
	inv := tx.repo.invoices[invoiceID]
	inv.TotalAmount = total
	inv.Tax = tax
	tx.repo.invoices[invoiceID] = inv
	return nil
}

func (tx *memoryTx) DeleteEmptyItems(ctx context.Context, invoiceID int64) (int, error) {
	kept := tx.repo.items[invoiceID][:0]
	for _, it := range tx.repo.items[invoiceID] {
		if it.CurrentQuantity != 0 {
			kept = append(kept, it)
		}
	}
	tx.repo.items[invoiceID] = kept
	return len(kept), nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id int64, from, to billing.Status) (time.Time, error) {
	inv := tx.repo.invoices[id]
	if inv.Status != from {
		return time.Time{}, billing.ErrInvalidStatus
	}
	now := time.Now()
	inv.Status = to
	switch to {
	case billing.StatusValidated:
		inv.ValidatedAt = &now
	case billing.StatusAccounted:
		inv.AccountedAt = &now
	}
	tx.repo.invoices[id] = inv
	return now, nil
}

type stubProjects struct {
	project markets.Project
	inputs  []billing.ArticleInput
}

func (s *stubProjects) GetProject(ctx context.Context, id int64) (markets.Project, error) {
	if id != s.project.ID {
		return markets.Project{}, markets.ErrNotFound
	}
	return s.project, nil
}

func (s *stubProjects) BillingInputs(ctx context.Context, projectID int64) ([]billing.ArticleInput, error) {
	if projectID != s.project.ID {
		return nil, markets.ErrNotFound
	}
	return append([]billing.ArticleInput(nil), s.inputs...), nil
}

func (s *stubProjects) setProgress(articleID int64, pct float64) {
	for i := range s.inputs {
		if s.inputs[i].ArticleID == articleID {
			s.inputs[i].ProgressPercentage = pct
		}
	}
}

type recordingExports struct {
	queued []int64
}

func (e *recordingExports) EnqueueInvoiceExport(ctx context.Context, invoiceID int64) error {
	e.queued = append(e.queued, invoiceID)
	return nil
}

type recordingAudit struct {
	actions []string
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

type fixture struct {
	repo     *memoryRepo
	projects *stubProjects
	exports  *recordingExports
	audit    *recordingAudit
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	settings := billing.DefaultSettings()
	settings.TaxRate = 19
	fx := &fixture{
		repo: newMemoryRepo(),
		projects: &stubProjects{
			project: markets.Project{ID: 1, Code: "P01", Name: "Lycée", Settings: settings},
			inputs: []billing.ArticleInput{
				{ArticleID: 10, Quantity: 5000, UnitPrice: 800, ProgressPercentage: 20},
				{ArticleID: 11, Quantity: 120, UnitPrice: 1500, ProgressPercentage: 0},
			},
		},
		exports: &recordingExports{},
		audit:   &recordingAudit{},
	}
	fx.svc = NewService(fx.repo, fx.projects, nil, Options{
		Exports:   fx.exports,
		Audit:     fx.audit,
		ExportDir: t.TempDir(),
		Now:       func() time.Time { return time.Date(2026, 3, 31, 15, 0, 0, 0, time.UTC) },
	})
	return fx
}

func TestGenerateFirstInvoice(t *testing.T) {
	fx := newFixture(t)
	inv, err := fx.svc.Generate(context.Background(), 1, GenerateInput{}, "")
	require.NoError(t, err)

	require.Equal(t, "SIT-P01-001", inv.Number)
	require.Equal(t, billing.StatusDraft, inv.Status)
	require.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), inv.Date)
	require.Len(t, inv.Items, 1)
	item := inv.Items[0]
	require.Equal(t, int64(10), item.ArticleID)
	require.Equal(t, 1000.0, item.TotalQuantity)
	require.Equal(t, 20.0, item.TotalPercentage)
	require.Equal(t, 800000.0, inv.TotalAmount)
	require.Equal(t, billing.TaxTotals{AmountHT: 800000, TaxAmount: 152000, AmountTTC: 952000}, inv.Tax)
	require.Equal(t, []int64{1}, fx.repo.locks)
	require.Contains(t, fx.audit.actions, "invoice.generated")
}

func TestGenerateUsesLastValidatedInvoiceAsBaseline(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	first, err := fx.svc.Generate(ctx, 1, GenerateInput{Date: "2026-02-28"}, "")
	require.NoError(t, err)
	_, err = fx.svc.Validate(ctx, first.ID)
	require.NoError(t, err)

	fx.projects.setProgress(10, 50)
	second, err := fx.svc.Generate(ctx, 1, GenerateInput{Date: "2026-03-31"}, "")
	require.NoError(t, err)
	require.Equal(t, "SIT-P01-002", second.Number)
	require.Len(t, second.Items, 1)
	item := second.Items[0]
	require.Equal(t, 1000.0, item.PreviousQuantity)
	require.Equal(t, 20.0, item.PreviousPercentage)
	require.Equal(t, 2500.0, item.TotalQuantity)
	require.Equal(t, 1500.0, item.CurrentQuantity)
	require.Equal(t, 1200000.0, item.CurrentAmount)
	require.Equal(t, 30.0, item.CurrentPercentage)
	require.Equal(t, 1200000.0, second.TotalAmount)
}

func TestGenerateKeepsBaselineOfSkippedArticles(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	generateAndValidate := func(date string) Invoice {
		t.Helper()
		inv, err := fx.svc.Generate(ctx, 1, GenerateInput{Date: date}, "")
		require.NoError(t, err)
		_, err = fx.svc.Validate(ctx, inv.ID)
		require.NoError(t, err)
		return inv
	}

	fx.projects.setProgress(10, 50)
	fx.projects.setProgress(11, 10)
	first := generateAndValidate("2026-01-31")
	require.Len(t, first.Items, 2)

	// only article 11 moves; article 10 is left off the second invoice
	fx.projects.setProgress(11, 20)
	second := generateAndValidate("2026-02-28")
	require.Len(t, second.Items, 1)
	require.Equal(t, int64(11), second.Items[0].ArticleID)

	// article 10 corrected downwards: still clamped to the 50% already billed
	fx.projects.setProgress(10, 40)
	fx.projects.setProgress(11, 30)
	third, err := fx.svc.Generate(ctx, 1, GenerateInput{Date: "2026-03-31"}, "")
	require.NoError(t, err)
	require.Len(t, third.Items, 1)
	item := third.Items[0]
	require.Equal(t, int64(11), item.ArticleID)
	require.Equal(t, 20.0, item.PreviousPercentage)
	require.Equal(t, 24.0, item.PreviousQuantity)
	require.Equal(t, 12.0, item.CurrentQuantity)

	_, err = fx.svc.Validate(ctx, third.ID)
	require.NoError(t, err)
	fx.projects.setProgress(10, 60)
	fourth, err := fx.svc.Generate(ctx, 1, GenerateInput{Date: "2026-04-30"}, "")
	require.NoError(t, err)
	require.Len(t, fourth.Items, 1)
	item = fourth.Items[0]
	require.Equal(t, int64(10), item.ArticleID)
	require.Equal(t, 50.0, item.PreviousPercentage)
	require.Equal(t, 2500.0, item.PreviousQuantity)
	require.Equal(t, 500.0, item.CurrentQuantity)
	require.Equal(t, 400000.0, item.CurrentAmount)
}

func TestGenerateRefusesSecondDraft(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.Generate(context.Background(), 1, GenerateInput{}, "")
	require.NoError(t, err)

	fx.projects.setProgress(10, 60)
	_, err = fx.svc.Generate(context.Background(), 1, GenerateInput{}, "")
	require.ErrorIs(t, err, ErrDraftPending)
}

func TestGenerateWithoutProgressFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	first, err := fx.svc.Generate(ctx, 1, GenerateInput{}, "")
	require.NoError(t, err)
	_, err = fx.svc.Validate(ctx, first.ID)
	require.NoError(t, err)

	// progress corrected downwards: clamped, nothing new to bill
	fx.projects.setProgress(10, 10)
	_, err = fx.svc.Generate(ctx, 1, GenerateInput{}, "")
	require.ErrorIs(t, err, ErrNothingToBill)
	require.Len(t, fx.repo.invoices, 1)
}

func TestGenerateRejectsBadDate(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.Generate(context.Background(), 1, GenerateInput{Date: "31/03/2026"}, "")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestGenerateIdempotencyKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := shared.NewIdempotencyStore(client, time.Hour)

	fx := newFixture(t)
	fx.svc.opts.Idempotency = store
	ctx := context.Background()

	// failed attempt releases its key
	fx.projects.setProgress(10, 0)
	_, err := fx.svc.Generate(ctx, 1, GenerateInput{}, "req-1")
	require.ErrorIs(t, err, ErrNothingToBill)

	fx.projects.setProgress(10, 20)
	_, err = fx.svc.Generate(ctx, 1, GenerateInput{}, "req-1")
	require.NoError(t, err)

	_, err = fx.svc.Generate(ctx, 1, GenerateInput{}, "req-1")
	require.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestPreviewDoesNotPersist(t *testing.T) {
	fx := newFixture(t)
	preview, err := fx.svc.Preview(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "SIT-P01-001", preview.Number)
	require.Len(t, preview.Items, 1)
	require.Equal(t, 1, preview.Skipped)
	require.Equal(t, 800000.0, preview.TotalAmount)
	require.Empty(t, fx.repo.invoices)

	_, err = fx.svc.Preview(context.Background(), 2)
	require.ErrorIs(t, err, markets.ErrNotFound)
}

func TestUpdateItemsRaisesToPreviousPercentage(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	first, err := fx.svc.Generate(ctx, 1, GenerateInput{Date: "2026-02-28"}, "")
	require.NoError(t, err)
	_, err = fx.svc.Validate(ctx, first.ID)
	require.NoError(t, err)

	fx.projects.setProgress(10, 50)
	second, err := fx.svc.Generate(ctx, 1, GenerateInput{Date: "2026-03-31"}, "")
	require.NoError(t, err)
	itemID := second.Items[0].ID

	updated, err := fx.svc.UpdateItems(ctx, second.ID, UpdateItemsInput{Items: []ItemOverride{{ItemID: itemID, TotalPercentage: 5}}})
	require.NoError(t, err)
	item := updated.Items[0]
	require.Equal(t, 20.0, item.TotalPercentage)
	require.Equal(t, 1000.0, item.TotalQuantity)
	require.Zero(t, item.CurrentQuantity)
	require.Zero(t, updated.TotalAmount)

	updated, err = fx.svc.UpdateItems(ctx, second.ID, UpdateItemsInput{Items: []ItemOverride{{ItemID: itemID, TotalPercentage: 45}}})
	require.NoError(t, err)
	item = updated.Items[0]
	require.Equal(t, 2250.0, item.TotalQuantity)
	require.Equal(t, 1250.0, item.CurrentQuantity)
	require.Equal(t, 1000000.0, updated.TotalAmount)
	require.Equal(t, 1190000.0, updated.Tax.AmountTTC)
	require.Contains(t, fx.audit.actions, "invoice.items_overridden")

	_, err = fx.svc.UpdateItems(ctx, second.ID, UpdateItemsInput{Items: []ItemOverride{{ItemID: 9999, TotalPercentage: 45}}})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateItemsCapsAtFullQuantity(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	inv, err := fx.svc.Generate(ctx, 1, GenerateInput{}, "")
	require.NoError(t, err)

	updated, err := fx.svc.UpdateItems(ctx, inv.ID, UpdateItemsInput{Items: []ItemOverride{{ItemID: inv.Items[0].ID, TotalPercentage: 150}}})
	require.NoError(t, err)
	item := updated.Items[0]
	require.Equal(t, 100.0, item.TotalPercentage)
	require.Equal(t, 5000.0, item.TotalQuantity)
	require.Equal(t, 4000000.0, updated.TotalAmount)
}

func TestValidateDropsLinesWithoutQuantity(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.projects.setProgress(11, 50)
	first, err := fx.svc.Generate(ctx, 1, GenerateInput{Date: "2026-02-28"}, "")
	require.NoError(t, err)
	_, err = fx.svc.Validate(ctx, first.ID)
	require.NoError(t, err)

	fx.projects.setProgress(10, 50)
	fx.projects.setProgress(11, 60)
	second, err := fx.svc.Generate(ctx, 1, GenerateInput{Date: "2026-03-31"}, "")
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	var art11 int64
	for _, it := range second.Items {
		if it.ArticleID == 11 {
			art11 = it.ID
		}
	}

	// lowered to the floor: the line bills nothing and is dropped on validation
	_, err = fx.svc.UpdateItems(ctx, second.ID, UpdateItemsInput{Items: []ItemOverride{{ItemID: art11, TotalPercentage: 0}}})
	require.NoError(t, err)
	validated, err := fx.svc.Validate(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, validated.Items, 1)
	require.Equal(t, int64(10), validated.Items[0].ArticleID)
	require.Equal(t, 1200000.0, validated.TotalAmount)

	// the dropped article keeps its position from the first invoice
	fx.projects.setProgress(11, 70)
	third, err := fx.svc.Generate(ctx, 1, GenerateInput{Date: "2026-04-30"}, "")
	require.NoError(t, err)
	require.Len(t, third.Items, 1)
	require.Equal(t, 50.0, third.Items[0].PreviousPercentage)
	require.Equal(t, 24.0, third.Items[0].CurrentQuantity)
}

func TestValidateRefusesInvoiceWithoutQuantity(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	first, err := fx.svc.Generate(ctx, 1, GenerateInput{Date: "2026-02-28"}, "")
	require.NoError(t, err)
	_, err = fx.svc.Validate(ctx, first.ID)
	require.NoError(t, err)

	fx.projects.setProgress(10, 50)
	second, err := fx.svc.Generate(ctx, 1, GenerateInput{Date: "2026-03-31"}, "")
	require.NoError(t, err)
	_, err = fx.svc.UpdateItems(ctx, second.ID, UpdateItemsInput{Items: []ItemOverride{{ItemID: second.Items[0].ID, TotalPercentage: 0}}})
	require.NoError(t, err)

	_, err = fx.svc.Validate(ctx, second.ID)
	require.ErrorIs(t, err, ErrNothingToBill)
	stored, err := fx.svc.Get(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, billing.StatusDraft, stored.Status)
	require.Len(t, stored.Items, 1)
}

func TestUpdateItemsRequiresDraft(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	inv, err := fx.svc.Generate(ctx, 1, GenerateInput{}, "")
	require.NoError(t, err)
	_, err = fx.svc.Validate(ctx, inv.ID)
	require.NoError(t, err)

	_, err = fx.svc.UpdateItems(ctx, inv.ID, UpdateItemsInput{Items: []ItemOverride{{ItemID: inv.Items[0].ID, TotalPercentage: 80}}})
	require.ErrorIs(t, err, billing.ErrInvalidStatus)
	var stateErr *billing.StateError
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, billing.StatusValidated, stateErr.Current)

	stored, err := fx.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, 20.0, stored.Items[0].TotalPercentage)
}

func TestLifecycleTransitions(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	inv, err := fx.svc.Generate(ctx, 1, GenerateInput{}, "")
	require.NoError(t, err)

	_, err = fx.svc.Account(ctx, inv.ID)
	require.ErrorIs(t, err, billing.ErrInvalidStatus)

	validated, err := fx.svc.Validate(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, billing.StatusValidated, validated.Status)
	require.NotNil(t, validated.ValidatedAt)
	require.Equal(t, []int64{inv.ID}, fx.exports.queued)

	_, err = fx.svc.Validate(ctx, inv.ID)
	require.ErrorIs(t, err, billing.ErrInvalidStatus)

	accounted, err := fx.svc.Account(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, billing.StatusAccounted, accounted.Status)

	_, err = fx.svc.Account(ctx, inv.ID)
	require.ErrorIs(t, err, billing.ErrInvalidStatus)

	_, err = fx.svc.Validate(ctx, 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListFiltersByStatus(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_, err := fx.svc.Generate(ctx, 1, GenerateInput{}, "")
	require.NoError(t, err)

	list, page, err := fx.svc.List(ctx, 1, ListFilters{Status: "DRAFT", Page: 1, PerPage: 20})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 1, page.Total)

	_, _, err = fx.svc.List(ctx, 1, ListFilters{Status: "PAID"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCheckIntegrity(t *testing.T) {
	fx := newFixture(t)
	inv, err := fx.svc.Generate(context.Background(), 1, GenerateInput{}, "")
	require.NoError(t, err)

	mismatches, err := fx.svc.CheckIntegrity(context.Background())
	require.NoError(t, err)
	require.Empty(t, mismatches)

	stored := fx.repo.invoices[inv.ID]
	stored.TotalAmount = 1
	fx.repo.invoices[inv.ID] = stored
	fx.repo.items[inv.ID][0].CurrentAmount = 2

	mismatches, err = fx.svc.CheckIntegrity(context.Background())
	require.NoError(t, err)
	require.Len(t, mismatches, 2)
}

func TestWorkbookAndExportToDir(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	inv, err := fx.svc.Generate(ctx, 1, GenerateInput{}, "")
	require.NoError(t, err)

	f, rendered, err := fx.svc.Workbook(ctx, inv.ID)
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, inv.Number, rendered.Number)

	title, err := f.GetCellValue(exportSheet, "A1")
	require.NoError(t, err)
	require.Contains(t, title, "SIT-P01-001")
	code, err := f.GetCellValue(exportSheet, fmt.Sprintf("A%d", tableStart+1))
	require.NoError(t, err)
	require.Equal(t, "ART-10", code)
	label, err := f.GetCellValue(exportSheet, fmt.Sprintf("J%d", tableStart+4))
	require.NoError(t, err)
	require.Equal(t, "Montant de la période", label)

	path, err := fx.svc.ExportToDir(ctx, inv.ID)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, path, fx.repo.invoices[inv.ID].ExportPath)

	saved, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer saved.Close()
	require.Equal(t, exportSheet, saved.GetSheetName(0))
}

func TestFormatNumberAndFileName(t *testing.T) {
	require.Equal(t, "SIT-LYC-007", FormatNumber("LYC", 7))
	require.Equal(t, "SIT-LYC-1234", FormatNumber("LYC", 1234))
	require.Equal(t, "SIT_A_B", sanitizeFileName("SIT A/B"))
}
