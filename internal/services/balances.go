package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"tripledger/internal/balance"
	"tripledger/internal/cache"
	"tripledger/internal/core"
	"tripledger/internal/currency"
	"tripledger/internal/membership"
	"tripledger/internal/metrics"
	"tripledger/internal/storage"
)

// BalanceAggregator computes trip balances on demand. Results are cached
// with the trip sequence they reflect and reused only while the store still
// reports that sequence, so mutations committed by other processes are seen
// on the next read.
type BalanceAggregator struct {
	repo       storage.Repository
	members    membership.Resolver
	normalizer *currency.Normalizer
	cache      *cache.LRUCache[cachedBalances]
	group      singleflight.Group
}

type cachedBalances struct {
	sequence int64
	balances []core.MemberBalance
}

func NewBalanceAggregator(repo storage.Repository, members membership.Resolver, normalizer *currency.Normalizer, size int, ttl time.Duration) *BalanceAggregator {
	if normalizer == nil {
		normalizer = currency.NewNormalizer(currency.DefaultRates(), "")
	}
	if size <= 0 {
		size = 256
	}
	return &BalanceAggregator{
		repo:       repo,
		members:    members,
		normalizer: normalizer,
		cache:      cache.NewLRUCache[cachedBalances](size, ttl),
	}
}

// Invalidate drops the cached balances of tripID, for changes the sequence
// does not capture such as a member leaving.
func (b *BalanceAggregator) Invalidate(tripID string) {
	b.cache.Delete(tripID)
}

// Cleaner exposes the cache to the cleanup manager.
func (b *BalanceAggregator) Cleaner() cache.Cleaner { return b.cache }

// ComputeBalances returns one record per member and currency. With
// normalizeTo set, a secondary approximate view in that currency is added.
func (b *BalanceAggregator) ComputeBalances(ctx context.Context, tripID, normalizeTo string) (core.TripBalances, error) {
	balances, err := b.balances(ctx, tripID)
	if err != nil {
		return core.TripBalances{}, err
	}
	out := core.TripBalances{TripID: tripID, Balances: balances}
	if normalizeTo == "" {
		return out, nil
	}
	to, err := core.NormalizeCurrency(normalizeTo)
	if err != nil {
		return core.TripBalances{}, err
	}
	out.Normalized, err = balance.Normalize(ctx, balances, b.normalizer, to)
	if err != nil {
		return core.TripBalances{}, fmt.Errorf("normalize balances for trip %s: %w", tripID, err)
	}
	return out, nil
}

func (b *BalanceAggregator) balances(ctx context.Context, tripID string) ([]core.MemberBalance, error) {
	seq, err := b.repo.TripSequence(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("sequence of trip %s: %w", tripID, err)
	}
	if cached, ok := b.cache.Get(tripID); ok && cached.sequence == seq {
		metrics.BalanceCache.WithLabelValues("hit").Inc()
		return cached.balances, nil
	}
	metrics.BalanceCache.WithLabelValues("miss").Inc()

	key := tripID + "@" + strconv.FormatInt(seq, 10)
	v, err, _ := b.group.Do(key, func() (any, error) {
		members, err := b.members.GetMembers(ctx, tripID)
		if err != nil {
			return nil, fmt.Errorf("members of trip %s: %w", tripID, err)
		}
		expenses, err := storage.CollectTrip(ctx, b.repo, tripID)
		if err != nil {
			return nil, err
		}
		result := balance.Compute(members, expenses)
		// A mutation committed while collecting leaves the store ahead of
		// seq, and the next read recomputes.
		b.cache.Set(tripID, cachedBalances{sequence: seq, balances: result})
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]core.MemberBalance), nil
}
