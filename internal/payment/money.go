package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount to minor units, rounding half
// away from zero at two places.  Zero is a valid (free) price; negative
// amounts are rejected.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Round(2).Mul(hundred).IntPart()
	if minor < 0 {
		return 0, ErrInvalidAmount
	}
	return minor, nil
}

// ParsePrice is ToMinorUnits for a decimal string such as "12.50".
func ParsePrice(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: cannot parse %q", ErrInvalidAmount, s)
	}
	return ToMinorUnits(d)
}

// FormatMinor renders minor units as a major-unit string, 1250 -> "12.50".
func FormatMinor(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
