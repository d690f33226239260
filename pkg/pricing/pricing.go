package pricing

// Storage rates are injected configuration. The audit deliberately does
// not query a pricing API: the estimate only needs a single flat
// cost-per-GB-month figure supplied by the operator.

const bytesPerGB = 1024 * 1024 * 1024

// Calculator converts deletion-candidate sizes into cost projections.
type Calculator struct {
	CostPerGBMonth float64
	Currency       string
}

// NewCalculator returns a Calculator for the given flat storage rate.
func NewCalculator(costPerGBMonth float64, currency string) Calculator {
	return Calculator{CostPerGBMonth: costPerGBMonth, Currency: currency}
}

// BytesToGB converts a byte count to gigabytes.
func BytesToGB(bytes int64) float64 {
	return float64(bytes) / bytesPerGB
}

// MonthlySavings estimates the monthly cost of storing the given bytes.
func (c Calculator) MonthlySavings(bytes int64) float64 {
	return BytesToGB(bytes) * c.CostPerGBMonth
}

// AnnualSavings estimates the yearly cost of storing the given bytes.
func (c Calculator) AnnualSavings(bytes int64) float64 {
	return c.MonthlySavings(bytes) * 12
}
