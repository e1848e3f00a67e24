package subcontracts

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

// TxRepository exposes the operations run under the subcontract billing lock.
type TxRepository interface {
	ListItems(ctx context.Context, subcontractID int64) ([]Item, error)
	PriorPercentages(ctx context.Context, subcontractID int64) (map[int64][]float64, error)
	NextSequence(ctx context.Context, subcontractID int64) (int, error)
	InsertBill(ctx context.Context, bill Bill) (Bill, error)
	InsertLines(ctx context.Context, billID int64, lines []billing.SubcontractLine) error
	GetBillForUpdate(ctx context.Context, id int64) (Bill, error)
	UpdateStatus(ctx context.Context, id int64, from, to billing.Status) (time.Time, error)
	ListLines(ctx context.Context, billID int64) ([]Line, error)
	UpdateLine(ctx context.Context, lineID int64, line billing.SubcontractLine) error
	UpdateTotals(ctx context.Context, billID int64, totals billing.BillTotals) error
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

// Repository persists subcontracts and bills in PostgreSQL.
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

// WithSubcontractLock runs fn in a transaction holding the billing lock of
// the subcontract.
func (r *Repository) WithSubcontractLock(ctx context.Context, subcontractID int64, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("subcontracts repository not initialised")
	}
	key := shared.AdvisoryLockKey(shared.LockSubcontractBills, subcontractID)
	return db.WithLockedTx(ctx, r.pool, key, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{queries: queries{db: tx}})
	})
}

// InsertSubcontract stores a subcontract header.
func (q queries) InsertSubcontract(ctx context.Context, sc Subcontract) (Subcontract, error) {
	err := q.db.QueryRow(ctx, `INSERT INTO subcontracts (project_id, subcontractor_name, reference, retention_rate)
VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		sc.ProjectID, sc.SubcontractorName, sc.Reference, sc.RetentionRate).Scan(&sc.ID, &sc.CreatedAt)
	return sc, err
}

// GetSubcontract loads a subcontract header.
func (q queries) GetSubcontract(ctx context.Context, id int64) (Subcontract, error) {
	var sc Subcontract
	err := q.db.QueryRow(ctx, `SELECT id, project_id, subcontractor_name, reference, retention_rate, created_at FROM subcontracts WHERE id=$1`, id).
		Scan(&sc.ID, &sc.ProjectID, &sc.SubcontractorName, &sc.Reference, &sc.RetentionRate, &sc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subcontract{}, ErrNotFound
	}
	return sc, err
}

// InsertItem stores a subcontract item.
func (q queries) InsertItem(ctx context.Context, it Item) (Item, error) {
	err := q.db.QueryRow(ctx, `INSERT INTO subcontract_items (subcontract_id, article_id, designation, unit, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		it.SubcontractID, it.ArticleID, it.Designation, it.Unit, it.Quantity, it.UnitPrice).Scan(&it.ID)
	return it, err
}

// ListItems returns the items of a subcontract with the percentage billed so far.
func (q queries) ListItems(ctx context.Context, subcontractID int64) ([]Item, error) {
	rows, err := q.db.Query(ctx, `SELECT i.id, i.subcontract_id, i.article_id, i.designation, i.unit, i.quantity, i.unit_price,
       COALESCE((SELECT SUM(l.current_percentage) FROM subcontract_bill_lines l WHERE l.item_id = i.id), 0)
FROM subcontract_items i
WHERE i.subcontract_id=$1
ORDER BY i.id`, subcontractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.SubcontractID, &it.ArticleID, &it.Designation, &it.Unit, &it.Quantity, &it.UnitPrice, &it.BilledPercentage); err != nil {
			return nil, err
		}
		it.BilledPercentage = billing.Round(it.BilledPercentage, 2)
		items = append(items, it)
	}
	return items, rows.Err()
}

// PriorPercentages returns, per item, the period percentages of every bill
// already recorded for the subcontract, oldest first.
func (q queries) PriorPercentages(ctx context.Context, subcontractID int64) (map[int64][]float64, error) {
	rows, err := q.db.Query(ctx, `SELECT l.item_id, l.current_percentage
FROM subcontract_bill_lines l
JOIN subcontract_bills b ON b.id = l.bill_id
WHERE b.subcontract_id=$1
ORDER BY b.sequence, l.id`, subcontractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]float64)
	for rows.Next() {
		var itemID int64
		var pct float64
		if err := rows.Scan(&itemID, &pct); err != nil {
			return nil, err
		}
		out[itemID] = append(out[itemID], pct)
	}
	return out, rows.Err()
}

func (q queries) NextSequence(ctx context.Context, subcontractID int64) (int, error) {
	var seq int
	err := q.db.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM subcontract_bills WHERE subcontract_id=$1`, subcontractID).Scan(&seq)
	return seq, err
}

func (q queries) InsertBill(ctx context.Context, b Bill) (Bill, error) {
	err := q.db.QueryRow(ctx, `INSERT INTO subcontract_bills (subcontract_id, sequence, bill_date, status, progress_amount, retention_rate, retention_amount, total_amount)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`,
		b.SubcontractID, b.Sequence, b.Date, string(b.Status), b.ProgressAmount, b.RetentionRate, b.RetentionAmount, b.TotalAmount,
	).Scan(&b.ID, &b.CreatedAt)
	return b, err
}

func (q queries) InsertLines(ctx context.Context, billID int64, lines []billing.SubcontractLine) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO subcontract_bill_lines (bill_id, item_id, quantity, unit_price,
    previous_percentage, current_percentage, cumulative_percentage,
    previous_quantity, current_quantity, current_amount)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			billID, l.ItemID, l.Quantity, l.UnitPrice,
			l.PreviousPercentage, l.CurrentPercentage, l.CumulativePercentage,
			l.PreviousQuantity, l.CurrentQuantity, l.CurrentAmount)
	}
	br := q.db.SendBatch(ctx, batch)
	for range lines {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert bill line: %w", err)
		}
	}
	return br.Close()
}

func (q queries) UpdateLine(ctx context.Context, lineID int64, l billing.SubcontractLine) error {
	tag, err := q.db.Exec(ctx, `UPDATE subcontract_bill_lines
SET current_percentage=$2, cumulative_percentage=$3, current_quantity=$4, current_amount=$5
WHERE id=$1`, lineID, l.CurrentPercentage, l.CumulativePercentage, l.CurrentQuantity, l.CurrentAmount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q queries) UpdateTotals(ctx context.Context, billID int64, t billing.BillTotals) error {
	_, err := q.db.Exec(ctx, `UPDATE subcontract_bills SET progress_amount=$2, retention_amount=$3, total_amount=$4 WHERE id=$1`,
		billID, t.ProgressAmount, t.RetentionAmount, t.TotalAmount)
	return err
}

const billColumns = `id, subcontract_id, sequence, bill_date, status, progress_amount, retention_rate, retention_amount, total_amount, created_at, validated_at, paid_at`

func scanBill(row pgx.Row) (Bill, error) {
	var b Bill
	var status string
	err := row.Scan(&b.ID, &b.SubcontractID, &b.Sequence, &b.Date, &status,
		&b.ProgressAmount, &b.RetentionRate, &b.RetentionAmount, &b.TotalAmount,
		&b.CreatedAt, &b.ValidatedAt, &b.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bill{}, ErrNotFound
		}
		return Bill{}, err
	}
	b.Status = billing.Status(status)
	return b, nil
}

// GetBill loads a bill header.
func (q queries) GetBill(ctx context.Context, id int64) (Bill, error) {
	return scanBill(q.db.QueryRow(ctx, `SELECT `+billColumns+` FROM subcontract_bills WHERE id=$1`, id))
}

func (q queries) GetBillForUpdate(ctx context.Context, id int64) (Bill, error) {
	return scanBill(q.db.QueryRow(ctx, `SELECT `+billColumns+` FROM subcontract_bills WHERE id=$1 FOR UPDATE`, id))
}

// ListBills returns the bills of a subcontract in sequence order.
func (q queries) ListBills(ctx context.Context, subcontractID int64) ([]Bill, error) {
	rows, err := q.db.Query(ctx, `SELECT `+billColumns+` FROM subcontract_bills WHERE subcontract_id=$1 ORDER BY sequence`, subcontractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListLines returns the lines of a bill with item labels. Amounts are
// recomputed from quantities.
func (q queries) ListLines(ctx context.Context, billID int64) ([]Line, error) {
	rows, err := q.db.Query(ctx, `SELECT l.id, l.bill_id, i.designation, i.unit, l.item_id, l.quantity, l.unit_price,
       l.previous_percentage, l.current_percentage, l.cumulative_percentage, l.previous_quantity, l.current_quantity
FROM subcontract_bill_lines l
JOIN subcontract_items i ON i.id = l.item_id
WHERE l.bill_id=$1
ORDER BY l.item_id`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.BillID, &l.Designation, &l.Unit, &l.ItemID, &l.Quantity, &l.UnitPrice,
			&l.PreviousPercentage, &l.CurrentPercentage, &l.CumulativePercentage, &l.PreviousQuantity, &l.CurrentQuantity); err != nil {
			return nil, err
		}
		l.CurrentAmount = l.CurrentQuantity * l.UnitPrice
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpdateStatus moves a bill from one status to the next. No row changes
// unless the stored status still equals from.
func (q queries) UpdateStatus(ctx context.Context, id int64, from, to billing.Status) (time.Time, error) {
	column := "validated_at"
	if to == billing.StatusPaid {
		column = "paid_at"
	}
	var at time.Time
	err := q.db.QueryRow(ctx, `UPDATE subcontract_bills SET status=$3, `+column+`=NOW() WHERE id=$1 AND status=$2 RETURNING `+column,
		id, string(from), string(to)).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("bill %d no longer %s: %w", id, from, billing.ErrInvalidStatus)
	}
	return at, err
}
