package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueExports holds workbook rendering, which is slower and bursty.
	QueueExports = "exports"

	// TaskInvoiceExport renders the workbook of a validated invoice to disk.
	TaskInvoiceExport = "invoice:export"
	// TaskBillingIntegrity re-sums stored invoice figures.
	TaskBillingIntegrity = "billing:integrity"
)

// InvoiceExportPayload names the invoice to render.
type InvoiceExportPayload struct {
	InvoiceID int64 `json:"invoice_id"`
}

// NewInvoiceExportTask constructs an export task. The task ID is derived from
// the invoice so a duplicate enqueue while one is pending is rejected.
func NewInvoiceExportTask(invoiceID int64) (*asynq.Task, error) {
	if invoiceID <= 0 {
		return nil, fmt.Errorf("jobs: invalid invoice id %d", invoiceID)
	}
	body, err := json.Marshal(InvoiceExportPayload{InvoiceID: invoiceID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvoiceExport, body,
		asynq.Queue(QueueExports),
		asynq.TaskID(fmt.Sprintf("%s:%d", TaskInvoiceExport, invoiceID)),
		asynq.MaxRetry(5),
	), nil
}

// BillingIntegrityPayload carries scheduling metadata.
type BillingIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewBillingIntegrityTask constructs the integrity scan task.
func NewBillingIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(BillingIntegrityPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBillingIntegrity, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
