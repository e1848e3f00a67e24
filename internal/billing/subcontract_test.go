package billing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreviousSubcontractPercentageSumsPriorBills(t *testing.T) {
	require.Equal(t, 35.0, PreviousSubcontractPercentage([]float64{20, 15}))
	require.Zero(t, PreviousSubcontractPercentage(nil))
	require.Equal(t, 0.3, PreviousSubcontractPercentage([]float64{0.1, 0.2}))
}

func TestComputeSubcontractLinePeriodMode(t *testing.T) {
	line := ComputeSubcontractLine(SubcontractLineInput{
		ItemID: 4, Quantity: 100, UnitPrice: 50, PreviousPercentage: 35,
		Mode: EntryModePeriod, Percentage: 25,
	}, 3)

	require.Equal(t, 25.0, line.CurrentPercentage)
	require.Equal(t, 60.0, line.CumulativePercentage)
	require.Equal(t, 25.0, line.CurrentQuantity)
	require.Equal(t, 35.0, line.PreviousQuantity)
	require.Equal(t, 1250.0, line.CurrentAmount)
}

func TestComputeSubcontractLineCumulativeMode(t *testing.T) {
	line := ComputeSubcontractLine(SubcontractLineInput{
		ItemID: 4, Quantity: 100, UnitPrice: 50, PreviousPercentage: 35,
		Mode: EntryModeCumulative, Percentage: 80,
	}, 3)

	require.Equal(t, 45.0, line.CurrentPercentage)
	require.Equal(t, 80.0, line.CumulativePercentage)
	require.Equal(t, 2250.0, line.CurrentAmount)
}

func TestComputeSubcontractLineCumulativeBelowPrevious(t *testing.T) {
	line := ComputeSubcontractLine(SubcontractLineInput{
		ItemID: 4, Quantity: 100, UnitPrice: 50, PreviousPercentage: 35,
		Mode: EntryModeCumulative, Percentage: 30,
	}, 3)

	require.Equal(t, -5.0, line.CurrentPercentage)
	require.Equal(t, -5.0, line.CurrentQuantity)
	require.Equal(t, -250.0, line.CurrentAmount)
}

func TestComputeBillTotalsAppliesRetention(t *testing.T) {
	lines := []SubcontractLine{{CurrentAmount: 1250}, {CurrentAmount: 2250}}
	totals := ComputeBillTotals(lines, 10)

	require.Equal(t, 3500.0, totals.ProgressAmount)
	require.Equal(t, 10.0, totals.RetentionRate)
	require.Equal(t, 350.0, totals.RetentionAmount)
	require.Equal(t, 3150.0, totals.TotalAmount)

	noRetention := ComputeBillTotals(lines, -4)
	require.Zero(t, noRetention.RetentionAmount)
	require.Equal(t, 3500.0, noRetention.TotalAmount)
}
