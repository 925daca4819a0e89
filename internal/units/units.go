// Package units converts between base-unit integer amounts and the
// human-readable form users see ("1.5 ST"). Conversion goes through
// shopspring/decimal; never float64 for money.
package units

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// DisplayDigits is the number of fractional digits Format keeps.
const DisplayDigits = 4

var (
	ErrInvalidAmount = errors.New("units: invalid amount")
	ErrTooPrecise    = errors.New("units: amount has more fractional digits than the asset")
	ErrOutOfRange    = errors.New("units: amount does not fit in 256 bits")
)

// ParseBaseUnits parses a non-negative decimal integer of base units.
func ParseBaseUnits(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidAmount
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return v, nil
}

// ParseAmount parses a human amount such as "12.5" into base units of an
// asset with the given decimals.
func ParseAmount(s string, decimals int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q with %d decimals", ErrTooPrecise, s, decimals)
	}
	v, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return nil, ErrOutOfRange
	}
	return v, nil
}

// Format renders base units as a human amount truncated to DisplayDigits
// fractional digits with trailing zeros trimmed, followed by symbol.
func Format(amount *uint256.Int, decimals int32, symbol string) string {
	s := "0"
	if amount != nil {
		s = decimal.NewFromBigInt(amount.ToBig(), -decimals).Truncate(DisplayDigits).String()
	}
	if symbol == "" {
		return s
	}
	return s + " " + symbol
}

// RatePercent renders rate/divisor as a percentage, e.g. 100/1000 → "10%".
func RatePercent(rate, divisor *uint256.Int) string {
	if divisor == nil || divisor.IsZero() {
		return "0%"
	}
	pct := decimal.NewFromBigInt(rate.ToBig(), 0).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromBigInt(divisor.ToBig(), 0))
	return pct.String() + "%"
}
