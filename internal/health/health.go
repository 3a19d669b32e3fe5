// Package health aggregates named subsystem checks for readiness reporting.
package health

import (
	"context"
	"sync"
)

// Status is the outcome of a single subsystem check.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes one subsystem. A nil error means healthy; detail is
// informational either way (the error message wins when err is non-nil).
type Checker func(ctx context.Context) (detail string, err error)

// Registry holds named checkers and runs them on demand. Checks run in
// registration order so output is stable.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	checks map[string]Checker
}

func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Checker)}
}

// Register adds a named checker, replacing any previous checker of the
// same name.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checks[name]; !exists {
		r.names = append(r.names, name)
	}
	r.checks[name] = check
}

// CheckAll runs every registered checker and reports per-subsystem results
// plus whether all of them passed.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	names := make([]string, len(r.names))
	copy(names, r.names)
	checks := make(map[string]Checker, len(r.checks))
	for name, check := range r.checks {
		checks[name] = check
	}
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, 0, len(names))
	for _, name := range names {
		detail, err := checks[name](ctx)
		st := Status{Name: name, Healthy: err == nil, Detail: detail}
		if err != nil {
			st.Detail = err.Error()
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}
