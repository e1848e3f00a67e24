package subcontracts

import (
	"fmt"
	"time"

	"github.com/chantier-erp/chantier/internal/billing"
)

// CreateSubcontractInput registers a subcontract on a project.
type CreateSubcontractInput struct {
	SubcontractorName string  `json:"subcontractor_name" validate:"required,max=200"`
	Reference         string  `json:"reference" validate:"max=64"`
	RetentionRate     float64 `json:"retention_rate" validate:"gte=0,lte=100"`
}

// CreateItemInput adds a priced item. Designation and unit default from the
// linked article when one is given.
type CreateItemInput struct {
	ArticleID   *int64  `json:"article_id" validate:"omitempty,gt=0"`
	Designation string  `json:"designation" validate:"max=500"`
	Unit        string  `json:"unit" validate:"max=16"`
	Quantity    float64 `json:"quantity" validate:"gte=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
}

// LineInput is the percentage typed for one item, either for the period or
// as the target cumulative value.
type LineInput struct {
	ItemID     int64             `json:"item_id" validate:"required,gt=0"`
	Mode       billing.EntryMode `json:"mode" validate:"omitempty,oneof=period cumulative"`
	Percentage float64           `json:"percentage"`
}

// CreateBillInput requests a new DRAFT bill. Date defaults to today.
type CreateBillInput struct {
	Date  string      `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Lines []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// UpdateLinesInput re-enters the percentages of lines already on a DRAFT bill.
type UpdateLinesInput struct {
	Lines []LineInput `json:"lines" validate:"required,min=1,dive"`
}

func (in CreateBillInput) date(now time.Time) (time.Time, error) {
	if in.Date == "" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01-02", in.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidInput, in.Date)
	}
	return t, nil
}
