package quota

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory policy store for tests and demo mode.
type MemoryStore struct {
	mu          sync.RWMutex
	tiers       map[string]*Tier
	assignments map[string]*Assignment
	overrides   map[string]*Override
}

// NewMemoryStore creates a new in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tiers:       make(map[string]*Tier),
		assignments: make(map[string]*Assignment),
		overrides:   make(map[string]*Override),
	}
}

// --- Tiers ---

func (m *MemoryStore) CreateTier(_ context.Context, t *Tier) error {
	if err := t.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tiers[t.ID]; ok {
		return ErrDuplicateTier
	}
	cp := *t
	m.tiers[t.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTier(_ context.Context, id string) (*Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tiers[id]
	if !ok {
		return nil, ErrTierNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListTiers(_ context.Context) ([]*Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Tier, 0, len(m.tiers))
	for _, t := range m.tiers {
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) UpdateTier(_ context.Context, t *Tier) error {
	if err := t.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tiers[t.ID]; !ok {
		return ErrTierNotFound
	}
	cp := *t
	m.tiers[t.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteTier(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tiers[id]; !ok {
		return ErrTierNotFound
	}
	for _, a := range m.assignments {
		if a.TierID == id {
			return ErrTierReferenced
		}
	}
	delete(m.tiers, id)
	return nil
}

// --- Assignments ---

func (m *MemoryStore) CreateAssignment(_ context.Context, a *Assignment) error {
	if err := a.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tiers[a.TierID]; !ok {
		return ErrUnknownTier
	}
	if a.Kind == KindDirectUser && a.Enabled {
		for _, existing := range m.assignments {
			if existing.Kind == KindDirectUser && existing.Enabled && existing.Subject == a.Subject && existing.ID != a.ID {
				return ErrDuplicateDirect
			}
		}
	}
	cp := *a
	m.assignments[a.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAssignment(_ context.Context, id string) (*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assignments[id]
	if !ok {
		return nil, ErrAssignmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpdateAssignment(_ context.Context, a *Assignment) error {
	if err := a.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assignments[a.ID]; !ok {
		return ErrAssignmentNotFound
	}
	if _, ok := m.tiers[a.TierID]; !ok {
		return ErrUnknownTier
	}
	if a.Kind == KindDirectUser && a.Enabled {
		for _, existing := range m.assignments {
			if existing.Kind == KindDirectUser && existing.Enabled && existing.Subject == a.Subject && existing.ID != a.ID {
				return ErrDuplicateDirect
			}
		}
	}
	cp := *a
	m.assignments[a.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteAssignment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assignments[id]; !ok {
		return ErrAssignmentNotFound
	}
	delete(m.assignments, id)
	return nil
}

func (m *MemoryStore) DirectUserAssignment(_ context.Context, userID string) (*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.assignments {
		if a.Kind == KindDirectUser && a.Enabled && a.Subject == userID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAssignmentNotFound
}

func (m *MemoryStore) RoleAssignments(_ context.Context, kind AssignmentKind, role string) ([]*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Assignment
	for _, a := range m.assignments {
		if a.Kind == kind && a.Enabled && a.Subject == role {
			cp := *a
			result = append(result, &cp)
		}
	}
	SortByPriority(result)
	return result, nil
}

func (m *MemoryStore) KindAssignments(_ context.Context, kind AssignmentKind) ([]*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Assignment
	for _, a := range m.assignments {
		if a.Kind == kind && a.Enabled {
			cp := *a
			result = append(result, &cp)
		}
	}
	SortByPriority(result)
	return result, nil
}

// --- Overrides ---

func (m *MemoryStore) CreateOverride(_ context.Context, o *Override) error {
	if err := o.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *o
	m.overrides[o.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOverride(_ context.Context, id string) (*Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.overrides[id]
	if !ok {
		return nil, ErrOverrideNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) ListOverrides(_ context.Context, userID string) ([]*Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Override
	for _, o := range m.overrides {
		if o.UserID == userID {
			cp := *o
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) DeleteOverride(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.overrides[id]; !ok {
		return ErrOverrideNotFound
	}
	delete(m.overrides, id)
	return nil
}

func (m *MemoryStore) ActiveOverride(_ context.Context, userID string, at time.Time) (*Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Override
	for _, o := range m.overrides {
		if o.UserID != userID || !o.ActiveAt(at) {
			continue
		}
		if best == nil || o.CreatedAt.After(best.CreatedAt) {
			best = o
		}
	}
	if best == nil {
		return nil, ErrOverrideNotFound
	}
	cp := *best
	return &cp, nil
}

var _ Store = (*MemoryStore)(nil)
