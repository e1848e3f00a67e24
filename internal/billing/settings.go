package billing

// BillingMode tells whether contract unit prices exclude (HT) or include (TTC) tax.
type BillingMode string

const (
	BillingModeHT  BillingMode = "HT"
	BillingModeTTC BillingMode = "TTC"
)

const (
	DefaultQuantityDecimals = 3
	DefaultCurrencyDecimals = 2
	DefaultCurrencyUnit     = "DA"
)

// ProjectBillingSettings carries the per-project rounding and tax configuration
// consumed by the snapshot builder and the invoice totals.
type ProjectBillingSettings struct {
	QuantityDecimals int         `json:"quantity_decimals" validate:"gte=0,lte=6"`
	CurrencyDecimals int         `json:"currency_decimals" validate:"gte=0,lte=4"`
	CurrencyUnit     string      `json:"currency_unit" validate:"required,max=8"`
	BillingMode      BillingMode `json:"billing_mode" validate:"required,oneof=HT TTC"`
	TaxRate          float64     `json:"tax_rate" validate:"gte=0,lte=100"`
}

// DefaultSettings returns the settings applied to projects created without any.
func DefaultSettings() ProjectBillingSettings {
	return ProjectBillingSettings{
		QuantityDecimals: DefaultQuantityDecimals,
		CurrencyDecimals: DefaultCurrencyDecimals,
		CurrencyUnit:     DefaultCurrencyUnit,
		BillingMode:      BillingModeHT,
	}
}

// Normalize replaces out-of-range values with defaults so the arithmetic never
// sees a negative precision or an unknown billing mode.
func (s ProjectBillingSettings) Normalize() ProjectBillingSettings {
	if s.QuantityDecimals < 0 {
		s.QuantityDecimals = DefaultQuantityDecimals
	}
	if s.CurrencyDecimals < 0 {
		s.CurrencyDecimals = DefaultCurrencyDecimals
	}
	if s.CurrencyUnit == "" {
		s.CurrencyUnit = DefaultCurrencyUnit
	}
	if s.BillingMode != BillingModeTTC {
		s.BillingMode = BillingModeHT
	}
	s.TaxRate = ClampPercent(s.TaxRate)
	return s
}
