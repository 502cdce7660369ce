// Package format renders costs and shares for reports.
package format

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency returns a cost string with the given symbol and thousands
// separators (e.g., "-¥1,234.56"). Rounding is half away from zero on the
// decimal value, so 2.675 renders as 2.68.
func Currency(amount float64, symbol string) string {
	d := decimal.NewFromFloat(amount).Round(2)
	if d.IsNegative() {
		return "-" + symbol + group(d.Neg().StringFixed(2))
	}
	return symbol + group(d.StringFixed(2))
}

// NumericCurrency returns a cost string without a symbol but with separators (e.g., "-1,234.56").
func NumericCurrency(amount float64) string {
	return Currency(amount, "")
}

// Percent renders a percentage with two decimals (e.g., "12.50%").
func Percent(value float64) string {
	return decimal.NewFromFloat(value).StringFixed(2) + "%"
}

func group(formatted string) string {
	parts := strings.SplitN(formatted, ".", 2)
	intPart := parts[0]
	decPart := "00"
	if len(parts) == 2 {
		decPart = parts[1]
	}

	if len(intPart) > 3 {
		var builder strings.Builder
		for i, digit := range intPart {
			if i > 0 && (len(intPart)-i)%3 == 0 {
				builder.WriteByte(',')
			}
			builder.WriteRune(digit)
		}
		intPart = builder.String()
	}

	return intPart + "." + decPart
}
