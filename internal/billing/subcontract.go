package billing

// EntryMode selects how a subcontractor bill percentage was typed in.
type EntryMode string

const (
	// EntryModePeriod means the value is the percentage done during the period.
	EntryModePeriod EntryMode = "period"
	// EntryModeCumulative means the value is the target cumulative percentage.
	EntryModeCumulative EntryMode = "cumulative"
)

// SubcontractLineInput describes one subcontract item being billed.
type SubcontractLineInput struct {
	ItemID             int64
	Quantity           float64
	UnitPrice          float64
	PreviousPercentage float64
	Mode               EntryMode
	Percentage         float64
}

// SubcontractLine is a computed subcontractor bill line.
type SubcontractLine struct {
	ItemID               int64   `json:"item_id"`
	Quantity             float64 `json:"quantity"`
	UnitPrice            float64 `json:"unit_price"`
	PreviousPercentage   float64 `json:"previous_percentage"`
	CurrentPercentage    float64 `json:"current_percentage"`
	CumulativePercentage float64 `json:"cumulative_percentage"`
	PreviousQuantity     float64 `json:"previous_quantity"`
	CurrentQuantity      float64 `json:"current_quantity"`
	CurrentAmount        float64 `json:"current_amount"`
}

// BillTotals holds the gross period amount, the holdback and the net payable.
type BillTotals struct {
	ProgressAmount  float64 `json:"progress_amount"`
	RetentionRate   float64 `json:"retention_rate"`
	RetentionAmount float64 `json:"retention_amount"`
	TotalAmount     float64 `json:"total_amount"`
}

// PreviousSubcontractPercentage sums the period percentages of every prior bill
// for an item. Subcontractor bills are additive, not superseding snapshots.
func PreviousSubcontractPercentage(priorCurrent []float64) float64 {
	var sum float64
	for _, v := range priorCurrent {
		sum += v
	}
	return Round(sum, 2)
}

// CumulativeFromPeriod derives the cumulative percentage from a period entry.
func CumulativeFromPeriod(period, previous float64) float64 {
	return Round(previous+period, 2)
}

// PeriodFromCumulative derives the period percentage from a cumulative target.
// No floor is applied: a target below previous yields a negative period value.
func PeriodFromCumulative(cumulative, previous float64) float64 {
	return Round(cumulative-previous, 2)
}

// ComputeSubcontractLine applies the cumulative percentage arithmetic to a
// subcontract item. Quantities are rounded to quantityDecimals and the amount is
// the rounded period quantity times the unit price.
func ComputeSubcontractLine(in SubcontractLineInput, quantityDecimals int) SubcontractLine {
	if quantityDecimals < 0 {
		quantityDecimals = DefaultQuantityDecimals
	}
	quantity := Sanitize(in.Quantity)
	unitPrice := Sanitize(in.UnitPrice)
	previous := Round(in.PreviousPercentage, 2)

	var current, cumulative float64
	switch in.Mode {
	case EntryModeCumulative:
		cumulative = Round(Sanitize(in.Percentage), 2)
		current = PeriodFromCumulative(cumulative, previous)
	default:
		current = Round(Sanitize(in.Percentage), 2)
		cumulative = CumulativeFromPeriod(current, previous)
	}

	currentQuantity := Round(quantity*current/100, quantityDecimals)
	return SubcontractLine{
		ItemID:               in.ItemID,
		Quantity:             quantity,
		UnitPrice:            unitPrice,
		PreviousPercentage:   previous,
		CurrentPercentage:    current,
		CumulativePercentage: cumulative,
		PreviousQuantity:     Round(quantity*previous/100, quantityDecimals),
		CurrentQuantity:      currentQuantity,
		CurrentAmount:        currentQuantity * unitPrice,
	}
}

// ComputeBillTotals sums the period amounts and subtracts the retention holdback.
func ComputeBillTotals(lines []SubcontractLine, retentionRate float64) BillTotals {
	rate := ClampPercent(retentionRate)
	var progress float64
	for _, line := range lines {
		progress += line.CurrentAmount
	}
	retention := progress * rate / 100
	return BillTotals{
		ProgressAmount:  progress,
		RetentionRate:   rate,
		RetentionAmount: retention,
		TotalAmount:     progress - retention,
	}
}
