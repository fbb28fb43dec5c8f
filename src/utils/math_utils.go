package utils

import "github.com/shopspring/decimal"

// MinInt returns the smaller of two integers.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ClampInt bounds x to [lo, hi].
func ClampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	return MinInt(x, hi)
}

// FormatMoney rounds d to cents for display.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FormatPercent rounds d to one decimal place for display.
func FormatPercent(d decimal.Decimal) string {
	return d.StringFixed(1)
}
