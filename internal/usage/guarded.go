package usage

import (
	"context"
	"fmt"
	"math/big"

	"github.com/colinmxs/spendgate/internal/circuitbreaker"
)

const breakerKey = "usage_source"

// GuardedStore wraps a Store with a circuit breaker on the read path. When
// the underlying source is failing, the breaker trips open and reads fail
// fast with ErrUnavailable instead of piling up slow calls; the checker
// fails those requests open. Writes pass through unguarded.
type GuardedStore struct {
	inner   Store
	breaker *circuitbreaker.Breaker
}

// NewGuardedStore wraps inner with breaker.
func NewGuardedStore(inner Store, breaker *circuitbreaker.Breaker) *GuardedStore {
	return &GuardedStore{inner: inner, breaker: breaker}
}

func (g *GuardedStore) TotalCost(ctx context.Context, userID, period string) (*big.Int, error) {
	if !g.breaker.Allow(breakerKey) {
		return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
	}

	total, err := g.inner.TotalCost(ctx, userID, period)
	if err != nil {
		g.breaker.RecordFailure(breakerKey)
		return nil, err
	}
	g.breaker.RecordSuccess(breakerKey)
	return total, nil
}

func (g *GuardedStore) Record(ctx context.Context, rec *Record) error {
	return g.inner.Record(ctx, rec)
}

func (g *GuardedStore) Reset(ctx context.Context, userID, period string) error {
	return g.inner.Reset(ctx, userID, period)
}

var _ Store = (*GuardedStore)(nil)
