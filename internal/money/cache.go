package money

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// CachedRates decorates a RateSource with a Redis cache. Concurrent lookups
// for the same pair/date collapse into a single upstream call.
type CachedRates struct {
	client *redis.Client
	next   RateSource
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedRates constructs the caching decorator.
func NewCachedRates(client *redis.Client, next RateSource, ttl time.Duration) *CachedRates {
	return &CachedRates{client: client, next: next, ttl: ttl}
}

func rateKey(from, to string, asOf time.Time) string {
	return fmt.Sprintf("fx:%s:%s:%s", from, to, asOf.Format("2006-01-02"))
}

// Rate implements RateSource. Misses are not cached so a late-published rate
// becomes visible immediately.
func (c *CachedRates) Rate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error) {
	key := rateKey(from, to, asOf)
	if c.client != nil {
		if raw, err := c.client.Get(ctx, key).Result(); err == nil {
			if rate, perr := decimal.NewFromString(raw); perr == nil {
				return rate, nil
			}
		}
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		rate, err := c.next.Rate(ctx, from, to, asOf)
		if err != nil {
			return decimal.Decimal{}, err
		}
		if c.client != nil {
			_ = c.client.Set(ctx, key, rate.String(), c.ttl).Err()
		}
		return rate, nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return v.(decimal.Decimal), nil
}
