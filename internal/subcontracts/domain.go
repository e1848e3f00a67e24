// Package subcontracts keeps the subcontractor side of a project: subcontracts,
// their priced items and the additive progress bills paid to subcontractors
// after retention.
package subcontracts

import (
	"fmt"
	"time"

	"github.com/chantier-erp/chantier/internal/billing"
	"github.com/chantier-erp/chantier/internal/platform/httpx"
)

const entityBill = "subcontract_bill"

var (
	// ErrNotFound indicates a missing subcontract, item or bill.
	ErrNotFound = fmt.Errorf("subcontracts: %w", httpx.ErrNotFound)
	// ErrInvalidInput indicates a request failing domain validation.
	ErrInvalidInput = fmt.Errorf("subcontracts: %w", httpx.ErrValidation)
	// ErrDuplicateRequest is returned for a replayed Idempotency-Key.
	ErrDuplicateRequest = fmt.Errorf("subcontracts: duplicate request: %w", httpx.ErrConflict)
	// ErrLaterBill is returned when editing a bill that later bills build on.
	ErrLaterBill = fmt.Errorf("subcontracts: bill is followed by a later bill: %w", httpx.ErrConflict)
)

// Subcontract binds a subcontractor to part of a project's works.
type Subcontract struct {
	ID                int64     `json:"id"`
	ProjectID         int64     `json:"project_id"`
	SubcontractorName string    `json:"subcontractor_name"`
	Reference         string    `json:"reference"`
	RetentionRate     float64   `json:"retention_rate"`
	CreatedAt         time.Time `json:"created_at"`
	Items             []Item    `json:"items,omitempty"`
}

// Item is a priced line of a subcontract, optionally mirroring a market article.
type Item struct {
	ID            int64   `json:"id"`
	SubcontractID int64   `json:"subcontract_id"`
	ArticleID     *int64  `json:"article_id,omitempty"`
	Designation   string  `json:"designation"`
	Unit          string  `json:"unit"`
	Quantity      float64 `json:"quantity"`
	UnitPrice     float64 `json:"unit_price"`
	// BilledPercentage is the sum of period percentages over every bill so far.
	BilledPercentage float64 `json:"billed_percentage"`
}

// Bill is a subcontractor progress bill.
type Bill struct {
	ID            int64          `json:"id"`
	SubcontractID int64          `json:"subcontract_id"`
	Sequence      int            `json:"sequence"`
	Date          time.Time      `json:"date"`
	Status        billing.Status `json:"status"`
	billing.BillTotals
	CreatedAt   time.Time  `json:"created_at"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	Lines       []Line     `json:"lines,omitempty"`
}

// Line is a stored bill line with the item labels.
type Line struct {
	ID          int64  `json:"id"`
	BillID      int64  `json:"bill_id"`
	Designation string `json:"designation"`
	Unit        string `json:"unit"`
	billing.SubcontractLine
}
