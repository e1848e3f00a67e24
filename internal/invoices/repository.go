package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chantier-erp/chantier/internal/billing"
	"github.com/chantier-erp/chantier/internal/platform/db"
	"github.com/chantier-erp/chantier/internal/shared"
)

// TxRepository exposes the operations run under the project billing lock.
type TxRepository interface {
	HasDraft(ctx context.Context, projectID int64) (bool, error)
	LatestValidatedItems(ctx context.Context, projectID int64) (map[int64]billing.PreviousItem, error)
	NextSequence(ctx context.Context, projectID int64) (int, error)
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	InsertItems(ctx context.Context, invoiceID int64, items []billing.Item) error
	GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	ListItems(ctx context.Context, invoiceID int64) ([]Item, error)
	UpdateItem(ctx context.Context, itemID int64, item billing.Item) error
	UpdateTotals(ctx context.Context, invoiceID int64, total float64, tax billing.TaxTotals) error
	DeleteEmptyItems(ctx context.Context, invoiceID int64) (int, error)
	UpdateStatus(ctx context.Context, id int64, from, to billing.Status) (time.Time, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

type queries struct {
	db dbtx
}

// Repository persists invoices in PostgreSQL.
type Repository struct {
	queries
	pool *pgxpool.Pool
}

type txRepository struct {
	queries
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{queries: queries{db: pool}, pool: pool}
}

// WithProjectLock runs fn in a transaction holding the billing lock of the
// project, so that baseline reads, numbering and inserts of concurrent
// requests never interleave.
func (r *Repository) WithProjectLock(ctx context.Context, projectID int64, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("invoices repository not initialised")
	}
	key := shared.AdvisoryLockKey(shared.LockInvoices, projectID)
	return db.WithLockedTx(ctx, r.pool, key, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{queries: queries{db: tx}})
	})
}

const invoiceColumns = `id, project_id, sequence, number, invoice_date, status, total_amount, amount_ht, tax_amount, amount_ttc, COALESCE(export_path, ''), created_at, validated_at, accounted_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var status string
	err := row.Scan(&inv.ID, &inv.ProjectID, &inv.Sequence, &inv.Number, &inv.Date, &status, &inv.TotalAmount,
		&inv.Tax.AmountHT, &inv.Tax.TaxAmount, &inv.Tax.AmountTTC, &inv.ExportPath, &inv.CreatedAt, &inv.ValidatedAt, &inv.AccountedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, err
	}
	inv.Status = billing.Status(status)
	return inv, nil
}

// GetInvoice loads an invoice header.
func (q queries) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(q.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, id))
}

func (q queries) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(q.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1 FOR UPDATE`, id))
}

// ListInvoices returns a page of a project's invoices, newest first, and the total count.
func (q queries) ListInvoices(ctx context.Context, projectID int64, filters ListFilters) ([]Invoice, int, error) {
	args := []any{projectID}
	where := `WHERE project_id=$1`
	if filters.Status != "" {
		args = append(args, filters.Status)
		where += fmt.Sprintf(" AND status=$%d", len(args))
	}
	var total int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM invoices `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := shared.NewPagination(filters.Page, filters.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	rows, err := q.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM invoices %s ORDER BY invoice_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		invoiceColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

func (q queries) HasDraft(ctx context.Context, projectID int64) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE project_id=$1 AND status='DRAFT')`, projectID).Scan(&exists)
	return exists, err
}

// LatestValidatedItems returns the cumulative position per article, taken
// from the most recent VALIDATED or ACCOUNTED invoice that bills the article.
// Articles skipped by later invoices keep the position of their last line.
func (q queries) LatestValidatedItems(ctx context.Context, projectID int64) (map[int64]billing.PreviousItem, error) {
	rows, err := q.db.Query(ctx, `SELECT DISTINCT ON (it.article_id) it.article_id, it.total_quantity, it.total_percentage
FROM invoice_items it
JOIN invoices i ON i.id = it.invoice_id
WHERE i.project_id=$1 AND i.status IN ('VALIDATED', 'ACCOUNTED')
ORDER BY it.article_id, i.invoice_date DESC, i.id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]billing.PreviousItem)
	for rows.Next() {
		var articleID int64
		var prev billing.PreviousItem
		if err := rows.Scan(&articleID, &prev.TotalQuantity, &prev.TotalPercentage); err != nil {
			return nil, err
		}
		out[articleID] = prev
	}
	return out, rows.Err()
}

// DeleteEmptyItems removes lines that bill no quantity and returns how many
// lines remain on the invoice.
func (q queries) DeleteEmptyItems(ctx context.Context, invoiceID int64) (int, error) {
	if _, err := q.db.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id=$1 AND current_quantity = 0`, invoiceID); err != nil {
		return 0, err
	}
	var remaining int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM invoice_items WHERE invoice_id=$1`, invoiceID).Scan(&remaining)
	return remaining, err
}

func (q queries) NextSequence(ctx context.Context, projectID int64) (int, error) {
	var seq int
	err := q.db.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM invoices WHERE project_id=$1`, projectID).Scan(&seq)
	return seq, err
}

func (q queries) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	err := q.db.QueryRow(ctx, `INSERT INTO invoices (project_id, sequence, number, invoice_date, status, total_amount, amount_ht, tax_amount, amount_ttc)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id, created_at`,
		inv.ProjectID, inv.Sequence, inv.Number, inv.Date, string(inv.Status), inv.TotalAmount,
		inv.Tax.AmountHT, inv.Tax.TaxAmount, inv.Tax.AmountTTC,
	).Scan(&inv.ID, &inv.CreatedAt)
	if db.IsUniqueViolation(err) {
		return Invoice{}, fmt.Errorf("%w: invoice number %s already used", ErrDraftPending, inv.Number)
	}
	return inv, err
}

func (q queries) InsertItems(ctx context.Context, invoiceID int64, items []billing.Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`INSERT INTO invoice_items (invoice_id, article_id, market_quantity, unit_price,
    previous_quantity, previous_percentage, previous_amount,
    current_quantity, current_percentage, current_amount,
    total_quantity, total_percentage, total_amount)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			invoiceID, it.ArticleID, it.MarketQuantity, it.UnitPrice,
			it.PreviousQuantity, it.PreviousPercentage, it.PreviousAmount,
			it.CurrentQuantity, it.CurrentPercentage, it.CurrentAmount,
			it.TotalQuantity, it.TotalPercentage, it.TotalAmount)
	}
	br := q.db.SendBatch(ctx, batch)
	for range items {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert invoice item: %w", err)
		}
	}
	return br.Close()
}

// ListItems returns the lines of an invoice in contract order. Amounts are
// recomputed from quantities.
func (q queries) ListItems(ctx context.Context, invoiceID int64) ([]Item, error) {
	rows, err := q.db.Query(ctx, `SELECT it.id, it.invoice_id, a.code, a.designation, a.unit, it.article_id,
       it.market_quantity, it.unit_price, it.previous_quantity, it.previous_percentage,
       it.current_quantity, it.current_percentage, it.total_quantity, it.total_percentage
FROM invoice_items it
JOIN articles a ON a.id = it.article_id
JOIN lots l ON l.id = a.lot_id
WHERE it.invoice_id=$1
ORDER BY l.position, l.id, a.position, a.id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Code, &it.Designation, &it.Unit, &it.ArticleID,
			&it.MarketQuantity, &it.UnitPrice, &it.PreviousQuantity, &it.PreviousPercentage,
			&it.CurrentQuantity, &it.CurrentPercentage, &it.TotalQuantity, &it.TotalPercentage); err != nil {
			return nil, err
		}
		it.recompute()
		items = append(items, it)
	}
	return items, rows.Err()
}

func (q queries) UpdateItem(ctx context.Context, itemID int64, it billing.Item) error {
	tag, err := q.db.Exec(ctx, `UPDATE invoice_items SET
    current_quantity=$2, current_percentage=$3, current_amount=$4,
    total_quantity=$5, total_percentage=$6, total_amount=$7, previous_amount=$8
WHERE id=$1`, itemID, it.CurrentQuantity, it.CurrentPercentage, it.CurrentAmount,
		it.TotalQuantity, it.TotalPercentage, it.TotalAmount, it.PreviousAmount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %d", ErrNotFound, itemID)
	}
	return nil
}

func (q queries) UpdateTotals(ctx context.Context, invoiceID int64, total float64, tax billing.TaxTotals) error {
	_, err := q.db.Exec(ctx, `UPDATE invoices SET total_amount=$2, amount_ht=$3, tax_amount=$4, amount_ttc=$5 WHERE id=$1`,
		invoiceID, total, tax.AmountHT, tax.TaxAmount, tax.AmountTTC)
	return err
}

// UpdateStatus moves an invoice from one status to the next. No row changes
// unless the stored status still equals from.
func (q queries) UpdateStatus(ctx context.Context, id int64, from, to billing.Status) (time.Time, error) {
	column := "validated_at"
	if to == billing.StatusAccounted {
		column = "accounted_at"
	}
	var at time.Time
	err := q.db.QueryRow(ctx, `UPDATE invoices SET status=$3, `+column+`=NOW() WHERE id=$1 AND status=$2 RETURNING `+column,
		id, string(from), string(to)).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("invoice %d no longer %s: %w", id, from, billing.ErrInvalidStatus)
	}
	return at, err
}

// SetExportPath records where the workbook of an invoice was written.
func (q queries) SetExportPath(ctx context.Context, id int64, path string) error {
	tag, err := q.db.Exec(ctx, `UPDATE invoices SET export_path=$2 WHERE id=$1`, id, path)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IntegrityMismatches recomputes every invoice total and item amount and
// returns the stored values that differ by more than tolerance.
func (q queries) IntegrityMismatches(ctx context.Context, tolerance float64) ([]Mismatch, error) {
	var out []Mismatch
	rows, err := q.db.Query(ctx, `SELECT i.id, i.number, i.total_amount, COALESCE(SUM(it.current_quantity * it.unit_price), 0)
FROM invoices i
LEFT JOIN invoice_items it ON it.invoice_id = i.id
GROUP BY i.id
HAVING ABS(i.total_amount - COALESCE(SUM(it.current_quantity * it.unit_price), 0)) > $1
ORDER BY i.id`, tolerance)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		m := Mismatch{Kind: MismatchInvoiceTotal}
		if err := rows.Scan(&m.InvoiceID, &m.Number, &m.Stored, &m.Expected); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.db.Query(ctx, `SELECT i.id, i.number, it.id, it.current_amount, it.current_quantity * it.unit_price
FROM invoice_items it
JOIN invoices i ON i.id = it.invoice_id
WHERE ABS(it.current_amount - it.current_quantity * it.unit_price) > $1
ORDER BY i.id, it.id`, tolerance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		m := Mismatch{Kind: MismatchItemAmount}
		if err := rows.Scan(&m.InvoiceID, &m.Number, &m.ItemID, &m.Stored, &m.Expected); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
