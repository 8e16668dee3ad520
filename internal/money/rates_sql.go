package money

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// RateRepository provides PostgreSQL backed rate lookups against fx_rates.
type RateRepository struct {
	pool *pgxpool.Pool
}

// NewRateRepository constructs a RateRepository.
func NewRateRepository(pool *pgxpool.Pool) *RateRepository {
	return &RateRepository{pool: pool}
}

// Rate returns the most recent rate published on or before asOf.
func (r *RateRepository) Rate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `SELECT rate::text FROM fx_rates
WHERE from_currency=$1 AND to_currency=$2 AND as_of_date <= $3
ORDER BY as_of_date DESC LIMIT 1`, from, to, asOf).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, ErrRateNotFound
		}
		return decimal.Decimal{}, err
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("money: parse stored rate: %w", err)
	}
	return rate, nil
}

// UpsertRate stores a rate for the pair/date, replacing any prior value.
func (r *RateRepository) UpsertRate(ctx context.Context, from, to string, asOf time.Time, rate decimal.Decimal) error {
	if rate.Sign() <= 0 {
		return fmt.Errorf("money: rate must be positive for %s->%s", from, to)
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO fx_rates (from_currency, to_currency, as_of_date, rate)
VALUES ($1, $2, $3, $4)
ON CONFLICT (from_currency, to_currency, as_of_date)
DO UPDATE SET rate = EXCLUDED.rate`, from, to, asOf, rate.String())
	return err
}
