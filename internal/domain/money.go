package domain

import "github.com/shopspring/decimal"

// CentsToUnits converts an amount in cents to currency units.
func CentsToUnits(cents int64) float64 {
	return decimal.New(cents, -2).InexactFloat64()
}

// FormatCents renders cents as a currency amount, e.g. 1250 → "12.50".
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
