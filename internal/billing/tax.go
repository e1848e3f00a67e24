package billing

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// TaxTotals splits a period amount into its tax-exclusive and tax-inclusive parts.
type TaxTotals struct {
	AmountHT  float64 `json:"amount_ht"`
	TaxAmount float64 `json:"tax_amount"`
	AmountTTC float64 `json:"amount_ttc"`
}

// ComputeTaxTotals interprets total according to the billing mode: in HT mode
// it excludes tax, in TTC mode unit prices already included it. Results are
// rounded to the currency precision.
func ComputeTaxTotals(total float64, settings ProjectBillingSettings) TaxTotals {
	settings = settings.Normalize()
	d := settings.CurrencyDecimals
	factor := 1 + settings.TaxRate/100

	if settings.BillingMode == BillingModeTTC {
		ttc := Round(total, d)
		ht := Round(total/factor, d)
		return TaxTotals{AmountHT: ht, TaxAmount: Round(ttc-ht, d), AmountTTC: ttc}
	}
	ht := Round(total, d)
	tax := Round(total*settings.TaxRate/100, d)
	return TaxTotals{AmountHT: ht, TaxAmount: tax, AmountTTC: Round(ht+tax, d)}
}

// FormatAmount renders an amount with French grouping and the project currency.
func FormatAmount(amount float64, settings ProjectBillingSettings) string {
	settings = settings.Normalize()
	d := settings.CurrencyDecimals
	p := message.NewPrinter(language.French)
	return p.Sprint(number.Decimal(Round(amount, d), number.Scale(d))) + " " + settings.CurrencyUnit
}
