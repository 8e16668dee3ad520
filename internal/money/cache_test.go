package money

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCachedRates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	src := &staticRates{rates: map[string]decimal.Decimal{
		"EUR:USD": decimal.RequireFromString("1.08"),
	}}
	cached := NewCachedRates(client, src, time.Minute)
	ctx := context.Background()
	asOf := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	rate, err := cached.Rate(ctx, "EUR", "USD", asOf)
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.RequireFromString("1.08")))
	require.Equal(t, 1, src.calls)

	// Second lookup is served from Redis.
	rate, err = cached.Rate(ctx, "EUR", "USD", asOf)
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.RequireFromString("1.08")))
	require.Equal(t, 1, src.calls)

	// Misses pass through and are not cached.
	_, err = cached.Rate(ctx, "GBP", "USD", asOf)
	require.ErrorIs(t, err, ErrRateNotFound)
	_, err = cached.Rate(ctx, "GBP", "USD", asOf)
	require.ErrorIs(t, err, ErrRateNotFound)
	require.Equal(t, 3, src.calls)
}
