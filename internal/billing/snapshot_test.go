package billing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildInvoiceSnapshotScenario(t *testing.T) {
	articles := []ArticleInput{{ArticleID: 1, Quantity: 5000, UnitPrice: 800, ProgressPercentage: 50}}
	previous := map[int64]PreviousItem{1: {TotalQuantity: 1000, TotalPercentage: 20}}

	snap := BuildInvoiceSnapshot(articles, previous, DefaultSettings())
	require.Len(t, snap.Items, 1)

	item := snap.Items[0]
	require.Equal(t, 2500.0, item.TotalQuantity)
	require.Equal(t, 1500.0, item.CurrentQuantity)
	require.Equal(t, 1200000.0, item.CurrentAmount)
	require.Equal(t, 50.0, item.TotalPercentage)
	require.Equal(t, 30.0, item.CurrentPercentage)
	require.Equal(t, 800000.0, item.PreviousAmount)
	require.Equal(t, 2000000.0, item.TotalAmount)
	require.Equal(t, 5000.0, item.MarketQuantity)
	require.Equal(t, 1200000.0, snap.TotalAmount)
}

func TestBuildInvoiceSnapshotClampsRegression(t *testing.T) {
	articles := []ArticleInput{{ArticleID: 1, Quantity: 5000, UnitPrice: 800, ProgressPercentage: 40}}
	previous := map[int64]PreviousItem{1: {TotalQuantity: 2500, TotalPercentage: 50}}

	snap := BuildInvoiceSnapshot(articles, previous, DefaultSettings())
	require.Empty(t, snap.Items)
	require.Equal(t, 1, snap.Skipped)
	require.Zero(t, snap.TotalAmount)
}

func TestBuildInvoiceSnapshotWithoutBaseline(t *testing.T) {
	articles := []ArticleInput{
		{ArticleID: 1, Quantity: 120, UnitPrice: 1500, ProgressPercentage: 25},
		{ArticleID: 2, Quantity: 40, UnitPrice: 300, ProgressPercentage: 0},
	}

	snap := BuildInvoiceSnapshot(articles, nil, DefaultSettings())
	require.Len(t, snap.Items, 1)
	item := snap.Items[0]
	require.Equal(t, int64(1), item.ArticleID)
	require.Zero(t, item.PreviousQuantity)
	require.Zero(t, item.PreviousPercentage)
	require.Zero(t, item.PreviousAmount)
	require.Equal(t, 30.0, item.CurrentQuantity)
	require.Equal(t, 25.0, item.CurrentPercentage)
	require.Equal(t, 45000.0, snap.TotalAmount)
}

func TestBuildInvoiceSnapshotRoundsQuantity(t *testing.T) {
	settings := DefaultSettings()
	settings.QuantityDecimals = 2
	articles := []ArticleInput{{ArticleID: 7, Quantity: 10, UnitPrice: 3, ProgressPercentage: 33}}

	snap := BuildInvoiceSnapshot(articles, nil, settings)
	require.Len(t, snap.Items, 1)
	item := snap.Items[0]
	require.Equal(t, 3.3, item.TotalQuantity)
	require.Equal(t, 33.0, item.TotalPercentage)
	require.Equal(t, item.CurrentQuantity*item.UnitPrice, item.CurrentAmount)
}

func TestBuildInvoiceSnapshotZeroQuantityArticle(t *testing.T) {
	articles := []ArticleInput{{ArticleID: 3, Quantity: 0, UnitPrice: 100, ProgressPercentage: 80}}
	snap := BuildInvoiceSnapshot(articles, nil, DefaultSettings())
	require.Empty(t, snap.Items)
	require.Equal(t, 1, snap.Skipped)
}

func TestBuildInvoiceSnapshotSanitizesInput(t *testing.T) {
	articles := []ArticleInput{
		{ArticleID: 1, Quantity: math.NaN(), UnitPrice: 100, ProgressPercentage: 50},
		{ArticleID: 2, Quantity: 100, UnitPrice: -5, ProgressPercentage: 50},
		{ArticleID: 3, Quantity: 100, UnitPrice: 10, ProgressPercentage: math.Inf(1)},
	}
	snap := BuildInvoiceSnapshot(articles, nil, DefaultSettings())

	for _, item := range snap.Items {
		require.False(t, math.IsNaN(item.CurrentAmount))
		require.False(t, math.IsInf(item.CurrentAmount, 0))
	}
	require.Len(t, snap.Items, 1)
	require.Equal(t, int64(2), snap.Items[0].ArticleID)
	require.Zero(t, snap.Items[0].CurrentAmount)
}

func TestSnapshotSequenceIsMonotonic(t *testing.T) {
	settings := DefaultSettings()
	progressByPeriod := []float64{10, 35, 30, 35, 72, 60, 100}
	previous := map[int64]PreviousItem{}
	var lastQty, lastPct float64

	for _, progress := range progressByPeriod {
		snap := BuildInvoiceSnapshot([]ArticleInput{{ArticleID: 1, Quantity: 777, UnitPrice: 12.5, ProgressPercentage: progress}}, previous, settings)
		for _, item := range snap.Items {
			require.GreaterOrEqual(t, item.TotalQuantity, lastQty)
			require.GreaterOrEqual(t, item.TotalPercentage, lastPct)
			require.Equal(t, item.CurrentQuantity*item.UnitPrice, item.CurrentAmount)
			require.Greater(t, item.CurrentQuantity, 0.0)
			lastQty, lastPct = item.TotalQuantity, item.TotalPercentage
			previous[item.ArticleID] = PreviousItem{TotalQuantity: item.TotalQuantity, TotalPercentage: item.TotalPercentage}
		}
	}
	require.Equal(t, 777.0, lastQty)
	require.Equal(t, 100.0, lastPct)
}

func TestSnapshotUnchangedProgressIsExcluded(t *testing.T) {
	settings := DefaultSettings()
	article := ArticleInput{ArticleID: 9, Quantity: 250, UnitPrice: 40, ProgressPercentage: 44}

	first := BuildInvoiceSnapshot([]ArticleInput{article}, nil, settings)
	require.Len(t, first.Items, 1)
	prev := map[int64]PreviousItem{9: {TotalQuantity: first.Items[0].TotalQuantity, TotalPercentage: first.Items[0].TotalPercentage}}

	second := BuildInvoiceSnapshot([]ArticleInput{article}, prev, settings)
	require.Empty(t, second.Items)
}

func TestSumCurrentAmounts(t *testing.T) {
	items := []Item{{CurrentAmount: 10.5}, {CurrentAmount: 4.5}, {CurrentAmount: 0}}
	require.Equal(t, 15.0, SumCurrentAmounts(items))
}
