// Package money provides exact-decimal helpers for fund arithmetic.
//
// All money and share quantities route through shopspring/decimal; the
// helpers here only add what the raw type lacks: division that fails
// instead of panicking, and strict parsing of amounts and percents.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrDivisionByZero is returned instead of the panic decimal.Div
	// raises on a zero divisor.
	ErrDivisionByZero = errors.New("money: division by zero")

	// ErrInvalidAmount is returned for malformed or non-positive amounts.
	ErrInvalidAmount = errors.New("money: invalid amount")

	// ErrInvalidPercent is returned for percents outside (0, 1].
	ErrInvalidPercent = errors.New("money: percent must be in (0, 1]")
)

// Scale is the number of decimal places amounts are rounded to when
// persisted. Intermediate arithmetic keeps full precision.
const Scale int32 = 8

// Div divides a by b, failing with ErrDivisionByZero on a zero divisor.
func Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	return a.Div(b), nil
}

// ParseAmount parses a strictly positive decimal amount string.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, d)
	}
	return d, nil
}

// ParsePercent parses a fraction string and validates it lies in (0, 1].
func ParsePercent(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPercent, s)
	}
	one := decimal.NewFromInt(1)
	if d.LessThanOrEqual(decimal.Zero) || d.GreaterThan(one) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidPercent, d)
	}
	return d, nil
}
