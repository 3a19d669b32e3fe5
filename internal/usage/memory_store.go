package usage

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/colinmxs/spendgate/internal/money"
)

// MemoryStore is an in-memory usage store for demo/development mode.
type MemoryStore struct {
	totals map[string]*big.Int // key: userID|period
	mu     sync.RWMutex

	failing bool // when set, every read fails (tests exercise fail-open)
}

// NewMemoryStore creates a new in-memory usage store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{totals: make(map[string]*big.Int)}
}

// SetFailing makes subsequent TotalCost calls return ErrUnavailable.
func (m *MemoryStore) SetFailing(failing bool) {
	m.mu.Lock()
	m.failing = failing
	m.mu.Unlock()
}

func (m *MemoryStore) TotalCost(_ context.Context, userID, period string) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failing {
		return nil, ErrUnavailable
	}
	total, ok := m.totals[userID+"|"+period]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(total), nil
}

func (m *MemoryStore) Record(_ context.Context, rec *Record) error {
	cost, ok := money.Parse(rec.Cost)
	if !ok {
		return ErrInvalidCost
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.UserID + "|" + rec.Period
	total, found := m.totals[key]
	if !found {
		total = big.NewInt(0)
		m.totals[key] = total
	}
	total.Add(total, cost)
	return nil
}

func (m *MemoryStore) Reset(_ context.Context, userID, period string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if period != "" {
		delete(m.totals, userID+"|"+period)
		return nil
	}
	for key := range m.totals {
		if strings.HasPrefix(key, userID+"|") {
			delete(m.totals, key)
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
