package events

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory event store for demo/development mode.
type MemoryStore struct {
	events []*Event
	byID   map[string]*Event
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Event)}
}

func (m *MemoryStore) Append(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := clone(e)
	m.events = append(m.events, cp)
	m.byID[cp.ID] = cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return clone(e), nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Event
	for _, e := range m.events {
		if e.UserID == userID {
			result = append(result, clone(e))
		}
	}
	sortNewestFirst(result)
	return truncate(result, limit), nil
}

func (m *MemoryStore) ListByUserBefore(_ context.Context, userID string, before time.Time, beforeID string, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Event
	for _, e := range m.events {
		if e.UserID != userID {
			continue
		}
		if e.CreatedAt.After(before) || (e.CreatedAt.Equal(before) && e.ID >= beforeID) {
			continue
		}
		result = append(result, clone(e))
	}
	sortNewestFirst(result)
	return truncate(result, limit), nil
}

func (m *MemoryStore) ListByType(_ context.Context, t EventType, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Event
	for _, e := range m.events {
		if e.EventType == t {
			result = append(result, clone(e))
		}
	}
	sortNewestFirst(result)
	return truncate(result, limit), nil
}

func (m *MemoryStore) LastOfType(_ context.Context, userID string, t EventType, threshold string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Event
	for _, e := range m.events {
		if e.UserID != userID || e.EventType != t {
			continue
		}
		if threshold != "" && e.Threshold != threshold {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	return clone(latest), nil
}

// sortNewestFirst orders newest first, ties broken on id descending so
// pagination cursors are stable.
func sortNewestFirst(events []*Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.After(events[j].CreatedAt)
		}
		return events[i].ID > events[j].ID
	})
}

func truncate(events []*Event, limit int) []*Event {
	if limit > 0 && len(events) > limit {
		return events[:limit]
	}
	return events
}

func clone(e *Event) *Event {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
