package billing

// EffectivePercentage is the cumulative percentage actually applied for a
// manual override: the user value capped at 100, raised to the previous
// invoice's percentage.
func EffectivePercentage(input, previousPercentage float64) float64 {
	input = ClampPercent(input)
	if input < previousPercentage {
		return previousPercentage
	}
	return input
}

// ApplyPercentageOverride recomputes a draft invoice line from a manually
// entered cumulative percentage. The stored market quantity, unit price and
// previous position are kept as-is so historical lines stay stable.
func ApplyPercentageOverride(item Item, newPercentage float64, settings ProjectBillingSettings) Item {
	settings = settings.Normalize()
	effective := EffectivePercentage(newPercentage, item.PreviousPercentage)
	rawTotal := item.MarketQuantity * effective / 100

	return deriveItem(lineBasis{
		ArticleID:          item.ArticleID,
		MarketQuantity:     item.MarketQuantity,
		UnitPrice:          item.UnitPrice,
		PreviousQuantity:   item.PreviousQuantity,
		PreviousPercentage: item.PreviousPercentage,
	}, rawTotal, settings.QuantityDecimals)
}
