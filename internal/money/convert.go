package money

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrRateNotFound indicates no exchange rate exists for the pair/date.
var ErrRateNotFound = errors.New("money: fx rate not found")

// RateSource looks up an exchange rate from one currency to another as of a
// date. Implementations return ErrRateNotFound when no rate is published on
// or before asOf.
type RateSource interface {
	Rate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error)
}

// Converter converts minor-unit amounts between currencies using dated rates.
type Converter struct {
	rates RateSource
}

// NewConverter constructs a Converter.
func NewConverter(rates RateSource) *Converter {
	return &Converter{rates: rates}
}

// Convert returns m expressed in the target currency as of the given date,
// rounding half up at the target currency's minor-unit exponent.
func (c *Converter) Convert(ctx context.Context, m Money, to string, asOf time.Time) (Money, error) {
	if m.Currency == to {
		return m, nil
	}
	fromExp, err := Exponent(m.Currency)
	if err != nil {
		return Money{}, err
	}
	toExp, err := Exponent(to)
	if err != nil {
		return Money{}, err
	}
	rate, err := c.rates.Rate(ctx, m.Currency, to, asOf)
	if err != nil {
		return Money{}, err
	}
	if rate.Sign() <= 0 {
		return Money{}, fmt.Errorf("money: non-positive rate %s for %s->%s", rate, m.Currency, to)
	}
	converted := decimal.New(m.AmountMinor, -fromExp).Mul(rate).Shift(toExp).Round(0)
	return Money{AmountMinor: converted.IntPart(), Currency: to}, nil
}
