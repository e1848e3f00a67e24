// Package billing holds the progress and invoicing arithmetic shared by client
// invoices and subcontractor bills. Every function here is pure.
package billing

import (
	"math"

	"github.com/shopspring/decimal"
)

// Sanitize turns NaN, infinities and negative values into 0.
func Sanitize(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0
	}
	return value
}

// ClampPercent sanitises value and caps it at 100.
func ClampPercent(value float64) float64 {
	value = Sanitize(value)
	if value > 100 {
		return 100
	}
	return value
}

// Round rounds half away from zero at the given number of decimal places.
// Non-finite input rounds to 0 and negative places are treated as 0.
func Round(value float64, places int) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	if places < 0 {
		places = 0
	}
	return decimal.NewFromFloat(value).Round(int32(places)).InexactFloat64()
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
