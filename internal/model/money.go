package model

import (
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// ParseCents converts decimal string amounts (major units) to minor units.
// Use for endpoints that report amounts like "99.00" (= 9900 cents).
// Handles edge cases: empty strings, missing decimals, invalid input → 0.
func ParseCents(s string) int64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	// math.Round handles both positive and negative numbers correctly
	return int64(math.Round(f * 100))
}

// ParseMinorUnits converts string amounts already in minor units to int64.
// The storefront Store API reports all price fields in this format
// (e.g. "8900" = 8900 cents). Invalid input → 0.
func ParseMinorUnits(s string) int64 {
	if s == "" {
		return 0
	}
	// Parse as float to handle potential decimal values, then truncate
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

// FormatMajor renders minor units as a major-unit decimal string ("9900" →
// "99.00"). Used when the backend expects major-unit strings in payloads.
func FormatMajor(minor int64) string {
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(100)).StringFixed(2)
}

// DepositFraction parses a deposit-percentage metadata value into a fraction.
// Returns fallback when the value is absent, non-numeric, or non-positive.
func DepositFraction(meta string, fallback decimal.Decimal) decimal.Decimal {
	if meta == "" {
		return fallback
	}
	d, err := decimal.NewFromString(meta)
	if err != nil || d.Sign() <= 0 {
		return fallback
	}
	return d
}

// ApplyFraction multiplies a minor-unit amount by a decimal fraction,
// rounding half away from zero to whole minor units. Deposit prices and
// point-value conversions go through here so the rounding is in one place.
func ApplyFraction(minor int64, fraction decimal.Decimal) int64 {
	return decimal.NewFromInt(minor).Mul(fraction).Round(0).IntPart()
}

// WholeUnits returns the number of whole major units in a minor-unit amount
// (floor). Loyalty crediting awards one point per whole unit of the
// pre-shipping total.
func WholeUnits(minor int64) int {
	if minor <= 0 {
		return 0
	}
	return int(minor / 100)
}

// FormatPrice renders a minor-unit amount with a currency symbol for
// user-facing messages ("€12.50").
func FormatPrice(minor int64, symbol string) string {
	return fmt.Sprintf("%s%s", symbol, FormatMajor(minor))
}
