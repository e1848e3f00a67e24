package invoices

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// GenerateInput requests a new DRAFT invoice. Date defaults to today.
type GenerateInput struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

func (in GenerateInput) date(now time.Time) (time.Time, error) {
	if in.Date == "" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(dateLayout, in.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidInput, in.Date)
	}
	return t, nil
}

// ItemOverride sets the cumulative percentage of one DRAFT line.
type ItemOverride struct {
	ItemID          int64   `json:"item_id" validate:"required,gt=0"`
	TotalPercentage float64 `json:"total_percentage" validate:"gte=0,lte=100"`
}

// UpdateItemsInput carries manual percentage overrides.
type UpdateItemsInput struct {
	Items []ItemOverride `json:"items" validate:"required,min=1,dive"`
}

// ListFilters narrows invoice listings.
type ListFilters struct {
	Status  string
	Page    int
	PerPage int
}
