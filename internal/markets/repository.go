package markets

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
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertProject(ctx context.Context, p Project) (Project, error)
	UpdateProjectSettings(ctx context.Context, projectID int64, settings billing.ProjectBillingSettings) (time.Time, error)
	InsertLot(ctx context.Context, lot Lot) (int64, error)
	FindLotByName(ctx context.Context, projectID int64, name string) (Lot, error)
	InsertArticle(ctx context.Context, article Article) (int64, error)
	InsertTask(ctx context.Context, task Task) (int64, error)
	InsertSubtask(ctx context.Context, st Subtask) (Subtask, error)
	GetSubtaskForUpdate(ctx context.Context, id int64) (Subtask, error)
	UpdateSubtask(ctx context.Context, st Subtask) (time.Time, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type queries struct {
	db dbtx
}

// Repository persists the market structure in PostgreSQL.
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

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("markets repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{queries: queries{db: tx}})
	})
}

const projectColumns = `id, code, name, client_name, quantity_decimals, currency_decimals, currency_unit, billing_mode, tax_rate, created_at, updated_at`

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	var mode string
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.ClientName,
		&p.Settings.QuantityDecimals, &p.Settings.CurrencyDecimals, &p.Settings.CurrencyUnit,
		&mode, &p.Settings.TaxRate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, err
	}
	p.Settings.BillingMode = billing.BillingMode(mode)
	return p, nil
}

// GetProject loads a project by id.
func (q queries) GetProject(ctx context.Context, id int64) (Project, error) {
	return scanProject(q.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, id))
}

// GetProjectByCode loads a project by its business code.
func (q queries) GetProjectByCode(ctx context.Context, code string) (Project, error) {
	return scanProject(q.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE code=$1`, code))
}

func (q queries) InsertProject(ctx context.Context, p Project) (Project, error) {
	s := p.Settings
	err := q.db.QueryRow(ctx, `INSERT INTO projects (code, name, client_name, quantity_decimals, currency_decimals, currency_unit, billing_mode, tax_rate)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at, updated_at`,
		p.Code, p.Name, p.ClientName, s.QuantityDecimals, s.CurrencyDecimals, s.CurrencyUnit, string(s.BillingMode), s.TaxRate,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Project{}, fmt.Errorf("%w: project %q", ErrDuplicateCode, p.Code)
		}
		return Project{}, err
	}
	return p, nil
}

func (q queries) UpdateProjectSettings(ctx context.Context, projectID int64, s billing.ProjectBillingSettings) (time.Time, error) {
	var updated time.Time
	err := q.db.QueryRow(ctx, `UPDATE projects SET quantity_decimals=$2, currency_decimals=$3, currency_unit=$4, billing_mode=$5, tax_rate=$6, updated_at=NOW()
WHERE id=$1 RETURNING updated_at`, projectID, s.QuantityDecimals, s.CurrencyDecimals, s.CurrencyUnit, string(s.BillingMode), s.TaxRate).Scan(&updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	return updated, err
}

// GetLot loads a lot by id.
func (q queries) GetLot(ctx context.Context, id int64) (Lot, error) {
	var lot Lot
	err := q.db.QueryRow(ctx, `SELECT id, project_id, name, position FROM lots WHERE id=$1`, id).
		Scan(&lot.ID, &lot.ProjectID, &lot.Name, &lot.Position)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrNotFound
	}
	return lot, err
}

func (q queries) FindLotByName(ctx context.Context, projectID int64, name string) (Lot, error) {
	var lot Lot
	err := q.db.QueryRow(ctx, `SELECT id, project_id, name, position FROM lots WHERE project_id=$1 AND name=$2`, projectID, name).
		Scan(&lot.ID, &lot.ProjectID, &lot.Name, &lot.Position)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrNotFound
	}
	return lot, err
}

// ListLots returns the lots of a project in display order.
func (q queries) ListLots(ctx context.Context, projectID int64) ([]Lot, error) {
	rows, err := q.db.Query(ctx, `SELECT id, project_id, name, position FROM lots WHERE project_id=$1 ORDER BY position, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lots []Lot
	for rows.Next() {
		var lot Lot
		if err := rows.Scan(&lot.ID, &lot.ProjectID, &lot.Name, &lot.Position); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (q queries) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `INSERT INTO lots (project_id, name, position) VALUES ($1, $2, $3) RETURNING id`, lot.ProjectID, lot.Name, lot.Position).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, fmt.Errorf("%w: lot %q", ErrDuplicateCode, lot.Name)
	}
	return id, err
}

// GetArticle loads an article without its task tree.
func (q queries) GetArticle(ctx context.Context, id int64) (Article, error) {
	var a Article
	err := q.db.QueryRow(ctx, `SELECT id, project_id, lot_id, code, designation, unit, quantity, unit_price, position FROM articles WHERE id=$1`, id).
		Scan(&a.ID, &a.ProjectID, &a.LotID, &a.Code, &a.Designation, &a.Unit, &a.Quantity, &a.UnitPrice, &a.Position)
	if errors.Is(err, pgx.ErrNoRows) {
		return Article{}, ErrNotFound
	}
	return a, err
}

func (q queries) InsertArticle(ctx context.Context, a Article) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `INSERT INTO articles (project_id, lot_id, code, designation, unit, quantity, unit_price, position)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`, a.ProjectID, a.LotID, a.Code, a.Designation, a.Unit, a.Quantity, a.UnitPrice, a.Position).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, fmt.Errorf("%w: article %q", ErrDuplicateCode, a.Code)
	}
	return id, err
}

// GetTask loads a task without subtasks.
func (q queries) GetTask(ctx context.Context, id int64) (Task, error) {
	var t Task
	err := q.db.QueryRow(ctx, `SELECT id, article_id, name, duration_days, position FROM tasks WHERE id=$1`, id).
		Scan(&t.ID, &t.ArticleID, &t.Name, &t.DurationDays, &t.Position)
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	return t, err
}

func (q queries) InsertTask(ctx context.Context, t Task) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `INSERT INTO tasks (article_id, name, duration_days, position) VALUES ($1, $2, $3, $4) RETURNING id`,
		t.ArticleID, t.Name, t.DurationDays, t.Position).Scan(&id)
	return id, err
}

func (q queries) InsertSubtask(ctx context.Context, st Subtask) (Subtask, error) {
	err := q.db.QueryRow(ctx, `INSERT INTO subtasks (task_id, name, completion_percentage, is_reserve) VALUES ($1, $2, $3, $4) RETURNING id, updated_at`,
		st.TaskID, st.Name, st.CompletionPercentage, st.IsReserve).Scan(&st.ID, &st.UpdatedAt)
	return st, err
}

func (q queries) GetSubtaskForUpdate(ctx context.Context, id int64) (Subtask, error) {
	var st Subtask
	err := q.db.QueryRow(ctx, `SELECT id, task_id, name, completion_percentage, is_reserve, updated_at FROM subtasks WHERE id=$1 FOR UPDATE`, id).
		Scan(&st.ID, &st.TaskID, &st.Name, &st.CompletionPercentage, &st.IsReserve, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subtask{}, ErrNotFound
	}
	return st, err
}

func (q queries) UpdateSubtask(ctx context.Context, st Subtask) (time.Time, error) {
	var updated time.Time
	err := q.db.QueryRow(ctx, `UPDATE subtasks SET name=$2, completion_percentage=$3, is_reserve=$4, updated_at=NOW() WHERE id=$1 RETURNING updated_at`,
		st.ID, st.Name, st.CompletionPercentage, st.IsReserve).Scan(&updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	return updated, err
}

// ListArticleTree loads every article of a project with tasks and subtasks,
// ordered by lot then article position.
func (q queries) ListArticleTree(ctx context.Context, projectID int64) ([]Article, error) {
	rows, err := q.db.Query(ctx, `SELECT a.id, a.project_id, a.lot_id, a.code, a.designation, a.unit, a.quantity, a.unit_price, a.position
FROM articles a JOIN lots l ON l.id = a.lot_id
WHERE a.project_id=$1
ORDER BY l.position, l.id, a.position, a.id`, projectID)
	if err != nil {
		return nil, err
	}
	var articles []Article
	index := make(map[int64]int)
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.LotID, &a.Code, &a.Designation, &a.Unit, &a.Quantity, &a.UnitPrice, &a.Position); err != nil {
			rows.Close()
			return nil, err
		}
		index[a.ID] = len(articles)
		articles = append(articles, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		return articles, nil
	}

	tasks, err := q.listTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if i, ok := index[t.ArticleID]; ok {
			articles[i].Tasks = append(articles[i].Tasks, t)
		}
	}
	return articles, nil
}

func (q queries) listTasks(ctx context.Context, projectID int64) ([]Task, error) {
	rows, err := q.db.Query(ctx, `SELECT t.id, t.article_id, t.name, t.duration_days, t.position,
       s.id, s.name, s.completion_percentage, s.is_reserve, s.updated_at
FROM tasks t
JOIN articles a ON a.id = t.article_id
LEFT JOIN subtasks s ON s.task_id = t.id
WHERE a.project_id=$1
ORDER BY t.article_id, t.position, t.id, s.id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var stID *int64
		var stName *string
		var stPct *float64
		var stReserve *bool
		var stUpdated *time.Time
		if err := rows.Scan(&t.ID, &t.ArticleID, &t.Name, &t.DurationDays, &t.Position, &stID, &stName, &stPct, &stReserve, &stUpdated); err != nil {
			return nil, err
		}
		if n := len(tasks); n == 0 || tasks[n-1].ID != t.ID {
			tasks = append(tasks, t)
		}
		if stID != nil {
			last := &tasks[len(tasks)-1]
			last.Subtasks = append(last.Subtasks, Subtask{
				ID:                   *stID,
				TaskID:               t.ID,
				Name:                 *stName,
				CompletionPercentage: *stPct,
				IsReserve:            *stReserve,
				UpdatedAt:            *stUpdated,
			})
		}
	}
	return tasks, rows.Err()
}
