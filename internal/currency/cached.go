package currency

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tripledger/internal/cache"
)

type cachedRate struct {
	rate decimal.Decimal
	ok   bool
}

// CachedProvider memoizes lookups of a slower RateProvider.
type CachedProvider struct {
	next  RateProvider
	cache *cache.LRUCache[cachedRate]
}

func NewCachedProvider(next RateProvider, size int, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, cache: cache.NewLRUCache[cachedRate](size, ttl)}
}

func (c *CachedProvider) Rate(ctx context.Context, code string) (decimal.Decimal, bool, error) {
	key := strings.ToUpper(strings.TrimSpace(code))
	if hit, ok := c.cache.Get(key); ok {
		return hit.rate, hit.ok, nil
	}
	rate, ok, err := c.next.Rate(ctx, key)
	if err != nil {
		return decimal.Zero, false, err
	}
	c.cache.Set(key, cachedRate{rate: rate, ok: ok})
	return rate, ok, nil
}

// Cleaner exposes the underlying cache for periodic cleanup.
func (c *CachedProvider) Cleaner() cache.Cleaner { return c.cache }
