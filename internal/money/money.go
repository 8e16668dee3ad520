// Package money implements integer minor-unit amounts and dated FX conversion.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Money is an amount in integer minor units tagged with an ISO 4217 code.
// Decimal amounts are a display and input concern only; they are converted
// through the currency's minor-unit exponent before storage or comparison.
type Money struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

// ErrUnknownCurrency indicates a code outside ISO 4217.
var ErrUnknownCurrency = errors.New("money: unknown currency")

// Exponent returns the minor-unit exponent for an ISO currency code
// (2 for USD, 0 for JPY, 3 for KWD).
func Exponent(code string) (int32, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), nil
}

// FromDecimal converts a display amount into minor units, rounding half up.
func FromDecimal(amount decimal.Decimal, code string) (Money, error) {
	exp, err := Exponent(code)
	if err != nil {
		return Money{}, err
	}
	return Money{AmountMinor: amount.Shift(exp).Round(0).IntPart(), Currency: code}, nil
}

// Decimal returns the display value of m.
func (m Money) Decimal() (decimal.Decimal, error) {
	exp, err := Exponent(m.Currency)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.New(m.AmountMinor, -exp), nil
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.AmountMinor == 0 }

func (m Money) String() string {
	d, err := m.Decimal()
	if err != nil {
		return fmt.Sprintf("%d %s", m.AmountMinor, m.Currency)
	}
	return fmt.Sprintf("%s %s", d.String(), m.Currency)
}
