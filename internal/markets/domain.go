// Package markets stores the contract structure of a project: lots, priced
// articles and the task/subtask tree whose completion drives billing.
package markets

import (
	"fmt"
	"time"

	"github.com/chantier-erp/chantier/internal/billing"
	"github.com/chantier-erp/chantier/internal/platform/httpx"
)

var (
	// ErrNotFound indicates a missing project, lot, article, task or subtask.
	ErrNotFound = fmt.Errorf("markets: %w", httpx.ErrNotFound)
	// ErrDuplicateCode indicates an article or project code already in use.
	ErrDuplicateCode = fmt.Errorf("markets: %w", httpx.ErrDuplicate)
	// ErrInvalidInput indicates a request failing domain validation.
	ErrInvalidInput = fmt.Errorf("markets: %w", httpx.ErrValidation)
)

// Project is a construction contract ("market") with its billing settings.
type Project struct {
	ID         int64                          `json:"id"`
	Code       string                         `json:"code"`
	Name       string                         `json:"name"`
	ClientName string                         `json:"client_name"`
	Settings   billing.ProjectBillingSettings `json:"settings"`
	CreatedAt  time.Time                      `json:"created_at"`
	UpdatedAt  time.Time                      `json:"updated_at"`
}

// Lot groups articles, e.g. "Gros oeuvre".
type Lot struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
}

// Article is a priced contract line.
type Article struct {
	ID          int64   `json:"id"`
	ProjectID   int64   `json:"project_id"`
	LotID       int64   `json:"lot_id"`
	Code        string  `json:"code"`
	Designation string  `json:"designation"`
	Unit        string  `json:"unit"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Position    int     `json:"position"`
	Tasks       []Task  `json:"tasks,omitempty"`
}

// ContractAmount is the contracted value of the article.
func (a Article) ContractAmount() float64 {
	return a.Quantity * a.UnitPrice
}

// Task is a unit of work under an article.
type Task struct {
	ID           int64     `json:"id"`
	ArticleID    int64     `json:"article_id"`
	Name         string    `json:"name"`
	DurationDays int       `json:"duration_days"`
	Position     int       `json:"position"`
	Subtasks     []Subtask `json:"subtasks,omitempty"`
}

// Subtask carries the completion percentage entered from the field. Reserve
// subtasks are post-acceptance punch-list items.
type Subtask struct {
	ID                   int64     `json:"id"`
	TaskID               int64     `json:"task_id"`
	Name                 string    `json:"name"`
	CompletionPercentage float64   `json:"completion_percentage"`
	IsReserve            bool      `json:"is_reserve"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ArticleProgress is the read model of one article's aggregated completion.
type ArticleProgress struct {
	ArticleID          int64    `json:"article_id"`
	LotID              int64    `json:"lot_id"`
	Code               string   `json:"code"`
	Designation        string   `json:"designation"`
	Unit               string   `json:"unit"`
	Quantity           float64  `json:"quantity"`
	UnitPrice          float64  `json:"unit_price"`
	ProgressPercentage float64  `json:"progress_percentage"`
	ReservePercentage  *float64 `json:"reserve_percentage"`
}

// ProjectProgress lists article progress and the amount-weighted project figure.
type ProjectProgress struct {
	ProjectID         int64             `json:"project_id"`
	Articles          []ArticleProgress `json:"articles"`
	OverallPercentage float64           `json:"overall_percentage"`
	ContractAmount    float64           `json:"contract_amount"`
	ProgressAmount    float64           `json:"progress_amount"`
}

func progressTasks(tasks []Task) []billing.ProgressTask {
	out := make([]billing.ProgressTask, 0, len(tasks))
	for _, task := range tasks {
		pt := billing.ProgressTask{Subtasks: make([]billing.ProgressSubtask, 0, len(task.Subtasks))}
		for _, st := range task.Subtasks {
			pt.Subtasks = append(pt.Subtasks, billing.ProgressSubtask{
				CompletionPercentage: st.CompletionPercentage,
				IsReserve:            st.IsReserve,
			})
		}
		out = append(out, pt)
	}
	return out
}

// Progress aggregates the article's task tree.
func (a Article) Progress() ArticleProgress {
	tasks := progressTasks(a.Tasks)
	ap := ArticleProgress{
		ArticleID:          a.ID,
		LotID:              a.LotID,
		Code:               a.Code,
		Designation:        a.Designation,
		Unit:               a.Unit,
		Quantity:           a.Quantity,
		UnitPrice:          a.UnitPrice,
		ProgressPercentage: billing.ArticleCompletion(tasks),
	}
	if pct, ok := billing.ReserveCompletion(tasks); ok {
		ap.ReservePercentage = &pct
	}
	return ap
}
