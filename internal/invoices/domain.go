// Package invoices issues client progress invoices ("situations"): one
// snapshot of cumulative article progress per billing period, moving through
// DRAFT, VALIDATED and ACCOUNTED.
package invoices

import (
	"fmt"
	"time"

	"github.com/chantier-erp/chantier/internal/billing"
	"github.com/chantier-erp/chantier/internal/platform/httpx"
)

const entityInvoice = "invoice"

var (
	// ErrNotFound indicates a missing invoice or invoice item.
	ErrNotFound = fmt.Errorf("invoices: %w", httpx.ErrNotFound)
	// ErrInvalidInput indicates a request failing domain validation.
	ErrInvalidInput = fmt.Errorf("invoices: %w", httpx.ErrValidation)
	// ErrDraftPending is returned when a project already has a DRAFT invoice.
	// Both drafts would bill the same period against the same baseline.
	ErrDraftPending = fmt.Errorf("invoices: draft pending: %w", httpx.ErrConflict)
	// ErrNothingToBill is returned when no article progressed since the last
	// validated invoice.
	ErrNothingToBill = fmt.Errorf("invoices: nothing to bill: %w", httpx.ErrConflict)
	// ErrDuplicateRequest is returned for a replayed Idempotency-Key.
	ErrDuplicateRequest = fmt.Errorf("invoices: duplicate request: %w", httpx.ErrConflict)
)

// Invoice is a persisted client situation.
type Invoice struct {
	ID          int64             `json:"id"`
	ProjectID   int64             `json:"project_id"`
	Sequence    int               `json:"sequence"`
	Number      string            `json:"number"`
	Date        time.Time         `json:"date"`
	Status      billing.Status    `json:"status"`
	TotalAmount float64           `json:"total_amount"`
	Tax         billing.TaxTotals `json:"tax"`
	ExportPath  string            `json:"export_path,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ValidatedAt *time.Time        `json:"validated_at,omitempty"`
	AccountedAt *time.Time        `json:"accounted_at,omitempty"`
	Items       []Item            `json:"items,omitempty"`
}

// Item is a stored invoice line with the article labels it was billed for.
type Item struct {
	ID          int64  `json:"id"`
	InvoiceID   int64  `json:"invoice_id"`
	Code        string `json:"code"`
	Designation string `json:"designation"`
	Unit        string `json:"unit"`
	billing.Item
}

// recompute derives amounts from quantities and unit price so a stale stored
// amount is never served.
func (it *Item) recompute() {
	it.PreviousAmount = it.PreviousQuantity * it.UnitPrice
	it.CurrentAmount = it.CurrentQuantity * it.UnitPrice
	it.TotalAmount = it.TotalQuantity * it.UnitPrice
}

// Preview is an unsaved snapshot of the next invoice.
type Preview struct {
	ProjectID   int64                          `json:"project_id"`
	Number      string                         `json:"number,omitempty"`
	Items       []billing.Item                 `json:"items"`
	Skipped     int                            `json:"skipped"`
	TotalAmount float64                        `json:"total_amount"`
	Tax         billing.TaxTotals              `json:"tax"`
	Settings    billing.ProjectBillingSettings `json:"settings"`
}

// Mismatch is a stored figure that disagrees with its recomputed value.
type Mismatch struct {
	InvoiceID int64   `json:"invoice_id"`
	Number    string  `json:"number"`
	ItemID    int64   `json:"item_id,omitempty"`
	Kind      string  `json:"kind"`
	Stored    float64 `json:"stored"`
	Expected  float64 `json:"expected"`
}

const (
	MismatchInvoiceTotal = "invoice_total"
	MismatchItemAmount   = "item_amount"
)

// FormatNumber builds the display number of the seq-th invoice of a project.
func FormatNumber(projectCode string, seq int) string {
	return fmt.Sprintf("SIT-%s-%03d", projectCode, seq)
}
