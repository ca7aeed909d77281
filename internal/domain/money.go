package domain

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Monetary amounts cross the settlement-service boundary as integer
// micro-units (1 dollar = 1,000,000 micro-units, wire format: decimal
// string). Everything hub-internal and API-facing stays in decimal dollars.

// ToMicroUnits converts decimal dollars to integer micro-units, rounding
// half away from zero beyond six decimal places.
func ToMicroUnits(d decimal.Decimal) int64 {
	return d.Shift(6).Round(0).IntPart()
}

// FromMicroUnits converts integer micro-units back to decimal dollars.
// FromMicroUnits(ToMicroUnits(x)) == x for any x with at most six decimal
// places.
func FromMicroUnits(micro int64) decimal.Decimal {
	return decimal.NewFromInt(micro).Shift(-6)
}

// MicroUnitString renders the wire form of a dollar amount.
func MicroUnitString(d decimal.Decimal) string {
	return strconv.FormatInt(ToMicroUnits(d), 10)
}

// ParseMicroUnits parses a wire micro-unit string into decimal dollars.
func ParseMicroUnits(s string) (decimal.Decimal, error) {
	micro, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("domain.ParseMicroUnits: %q: %w", s, err)
	}
	return FromMicroUnits(micro), nil
}
