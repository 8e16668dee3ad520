package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcelane/sourcelane/internal/money"
)

// FxRefreshPayload contains options for the FX warmup job.
type FxRefreshPayload struct {
	Force bool `json:"force"`
}

// NewFxRefreshTask builds a cache warmup task.
func NewFxRefreshTask(force bool) (*asynq.Task, error) {
	body, err := json.Marshal(FxRefreshPayload{Force: force})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFxRefresh, body, asynq.Queue(QueueDefault)), nil
}

// WarmFxCache primes the rate cache for every currency pair that has at
// least one published rate, using today's date. Lookup failures are logged
// and skipped so one stale pair does not starve the rest.
func WarmFxCache(ctx context.Context, pool *pgxpool.Pool, rates money.RateSource, logger *slog.Logger) error {
	if pool == nil || rates == nil {
		return nil
	}
	rows, err := pool.Query(ctx, `SELECT DISTINCT from_currency, to_currency FROM fx_rates`)
	if err != nil {
		return err
	}
	defer rows.Close()
	type pair struct{ from, to string }
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.from, &p.to); err != nil {
			return err
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	today := time.Now().UTC()
	for _, p := range pairs {
		if _, err := rates.Rate(ctx, p.from, p.to, today); err != nil {
			if logger != nil {
				logger.Warn("fx warmup skip",
					slog.String("from", p.from),
					slog.String("to", p.to),
					slog.Any("error", err))
			}
		}
	}
	if logger != nil {
		logger.Info("fx cache warmed", slog.Int("pairs", len(pairs)))
	}
	return nil
}
