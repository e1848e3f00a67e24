package billing

// ArticleInput is what the snapshot builder needs from one contract article.
type ArticleInput struct {
	ArticleID          int64
	Quantity           float64
	UnitPrice          float64
	ProgressPercentage float64
}

// PreviousItem is the cumulative position of an article on the last validated invoice.
type PreviousItem struct {
	TotalQuantity   float64
	TotalPercentage float64
}

// Item is one computed invoice line. Amounts are always quantity times unit price.
type Item struct {
	ArticleID          int64   `json:"article_id"`
	MarketQuantity     float64 `json:"market_quantity"`
	UnitPrice          float64 `json:"unit_price"`
	PreviousQuantity   float64 `json:"previous_quantity"`
	PreviousPercentage float64 `json:"previous_percentage"`
	PreviousAmount     float64 `json:"previous_amount"`
	CurrentQuantity    float64 `json:"current_quantity"`
	CurrentPercentage  float64 `json:"current_percentage"`
	CurrentAmount      float64 `json:"current_amount"`
	TotalQuantity      float64 `json:"total_quantity"`
	TotalPercentage    float64 `json:"total_percentage"`
	TotalAmount        float64 `json:"total_amount"`
}

// Snapshot is the ordered set of lines of a new invoice and its period total.
type Snapshot struct {
	Items       []Item  `json:"items"`
	TotalAmount float64 `json:"total_amount"`
	Skipped     int     `json:"skipped"`
}

// BuildInvoiceSnapshot converts aggregated article progress into invoice lines.
// Lines never regress below previous, and articles without incremental
// quantity since the previous invoice are left out. TotalAmount is the sum of
// the period amounts.
func BuildInvoiceSnapshot(articles []ArticleInput, previous map[int64]PreviousItem, settings ProjectBillingSettings) Snapshot {
	settings = settings.Normalize()
	snap := Snapshot{Items: make([]Item, 0, len(articles))}
	for _, article := range articles {
		prev := previous[article.ArticleID]
		quantity := Sanitize(article.Quantity)
		rawTotal := quantity * ClampPercent(article.ProgressPercentage) / 100

		item := deriveItem(lineBasis{
			ArticleID:          article.ArticleID,
			MarketQuantity:     quantity,
			UnitPrice:          Sanitize(article.UnitPrice),
			PreviousQuantity:   Sanitize(prev.TotalQuantity),
			PreviousPercentage: Sanitize(prev.TotalPercentage),
		}, rawTotal, settings.QuantityDecimals)

		if item.CurrentQuantity <= 0 {
			snap.Skipped++
			continue
		}
		snap.Items = append(snap.Items, item)
		snap.TotalAmount += item.CurrentAmount
	}
	return snap
}

// SumCurrentAmounts returns the period total of a set of lines.
func SumCurrentAmounts(items []Item) float64 {
	var total float64
	for _, item := range items {
		total += item.CurrentAmount
	}
	return total
}

type lineBasis struct {
	ArticleID          int64
	MarketQuantity     float64
	UnitPrice          float64
	PreviousQuantity   float64
	PreviousPercentage float64
}

// deriveItem rounds the candidate cumulative quantity, clamps it to the
// previous position and derives every other field from the clamped quantity.
func deriveItem(basis lineBasis, rawTotalQuantity float64, quantityDecimals int) Item {
	totalQuantity := Round(rawTotalQuantity, quantityDecimals)
	if totalQuantity < basis.PreviousQuantity {
		totalQuantity = basis.PreviousQuantity
	}

	var totalPercentage float64
	if basis.MarketQuantity > 0 {
		totalPercentage = Round(totalQuantity/basis.MarketQuantity*100, 2)
	}
	if totalPercentage < basis.PreviousPercentage {
		totalPercentage = basis.PreviousPercentage
	}

	currentQuantity := Round(totalQuantity-basis.PreviousQuantity, quantityDecimals)

	return Item{
		ArticleID:          basis.ArticleID,
		MarketQuantity:     basis.MarketQuantity,
		UnitPrice:          basis.UnitPrice,
		PreviousQuantity:   basis.PreviousQuantity,
		PreviousPercentage: basis.PreviousPercentage,
		PreviousAmount:     basis.PreviousQuantity * basis.UnitPrice,
		CurrentQuantity:    currentQuantity,
		CurrentPercentage:  Round(totalPercentage-basis.PreviousPercentage, 2),
		CurrentAmount:      currentQuantity * basis.UnitPrice,
		TotalQuantity:      totalQuantity,
		TotalPercentage:    totalPercentage,
		TotalAmount:        totalQuantity * basis.UnitPrice,
	}
}
