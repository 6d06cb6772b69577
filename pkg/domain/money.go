package domain

import (
	"github.com/shopspring/decimal"

	dErrors "kycflow/pkg/domain-errors"
)

// All monetary values in this service are BRL with two fractional
// digits on the wire. Arithmetic uses decimals throughout; float money
// is forbidden.

// ParseBRL parses a decimal money string from an untrusted source.
// Negative amounts are rejected.
func ParseBRL(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidInput, "amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidInput, "amount must be a decimal string")
	}
	if d.IsNegative() {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidInput, "amount must not be negative")
	}
	return d, nil
}

// MustBRL parses a money literal known at compile time. Panics on bad
// input, so it is only for constants and tests.
func MustBRL(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// FormatBRL renders an amount with exactly two fractional digits, the
// wire format for every money field.
func FormatBRL(d decimal.Decimal) string {
	return d.StringFixed(2)
}
