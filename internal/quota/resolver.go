package quota

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/colinmxs/spendgate/internal/logging"
	"github.com/colinmxs/spendgate/internal/metrics"
	"github.com/colinmxs/spendgate/internal/traces"
)

// DefaultCacheTTL is how long resolved quotas are cached before re-running
// the waterfall.
const DefaultCacheTTL = 300 * time.Second

// PermissionResolver resolves a principal's application roles from the
// external identity service. Failures must be tolerated by callers: the
// waterfall logs and continues without app roles.
type PermissionResolver interface {
	AppRoles(ctx context.Context, p Principal) ([]string, error)
}

// cacheEntry holds one cached resolution. resolved == nil records a cached
// "no quota configured" answer, which is just as cacheable as a hit.
type cacheEntry struct {
	resolved   *ResolvedQuota
	resolvedAt time.Time
}

// domainCacheEntry holds the single cached list of enabled email_domain
// assignments shared by all principals.
type domainCacheEntry struct {
	assignments []*Assignment
	fetchedAt   time.Time
}

// Resolver runs the priority waterfall: active override, then direct-user,
// app-role, jwt-role, email-domain, and default-tier assignments, short-
// circuiting on the first enabled assignment whose tier is also enabled.
type Resolver struct {
	store Store
	perms PermissionResolver // nil when no identity service is wired
	ttl   time.Duration
	now   func() time.Time

	mu    sync.RWMutex
	cache map[string]*cacheEntry

	domainMu    sync.RWMutex
	domainCache *domainCacheEntry
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPermissionResolver wires the external identity service.
func WithPermissionResolver(pr PermissionResolver) ResolverOption {
	return func(r *Resolver) { r.perms = pr }
}

// WithCacheTTL overrides the default resolution cache TTL.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithResolverClock injects a deterministic clock for tests.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver over the given policy store.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store: store,
		ttl:   DefaultCacheTTL,
		now:   time.Now,
		cache: make(map[string]*cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// cacheKey combines the user id with a hash of the principal's role set so
// a role change observes fresh policy without an explicit invalidation.
func cacheKey(p Principal) string {
	roles := make([]string, 0, len(p.Roles)+len(p.AppRoles))
	roles = append(roles, p.Roles...)
	roles = append(roles, p.AppRoles...)
	sort.Strings(roles)

	h := fnv.New64a()
	for _, r := range roles {
		_, _ = h.Write([]byte(r))
		_, _ = h.Write([]byte{0})
	}
	return p.UserID + "|" + strconv.FormatUint(h.Sum64(), 16)
}

// Invalidate removes every cached resolution for one user. Call after any
// mutation that targets that user (direct assignment, override).
func (r *Resolver) Invalidate(userID string) {
	prefix := userID + "|"
	r.mu.Lock()
	for k := range r.cache {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(r.cache, k)
		}
	}
	r.mu.Unlock()
}

// InvalidateAll clears both the per-principal cache and the email-domain
// assignment cache. Every administrative mutation of tiers, assignments, or
// overrides must call this (or Invalidate) synchronously.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]*cacheEntry)
	r.mu.Unlock()

	r.domainMu.Lock()
	r.domainCache = nil
	r.domainMu.Unlock()
}

// SweepCache removes expired entries. Returns the number removed.
func (r *Resolver) SweepCache() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	removed := 0
	for k, entry := range r.cache {
		if now.Sub(entry.resolvedAt) > r.ttl {
			delete(r.cache, k)
			removed++
		}
	}
	return removed
}

// Resolve computes the quota that applies to the principal. A nil result
// with a nil error means no quota is configured, which callers must treat
// as "no enforcement", not as an error. Errors are store failures only.
func (r *Resolver) Resolve(ctx context.Context, p Principal) (*ResolvedQuota, error) {
	ctx, span := traces.StartSpan(ctx, "quota.resolve", traces.UserID(p.UserID))
	defer span.End()

	key := cacheKey(p)
	now := r.now()

	r.mu.RLock()
	entry, ok := r.cache[key]
	if ok && now.Sub(entry.resolvedAt) < r.ttl {
		r.mu.RUnlock()
		metrics.ResolverCacheTotal.WithLabelValues("hit").Inc()
		return entry.resolved, nil
	}
	r.mu.RUnlock()
	metrics.ResolverCacheTotal.WithLabelValues("miss").Inc()

	resolved, err := r.resolve(ctx, p, now)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = &cacheEntry{resolved: resolved, resolvedAt: now}
	r.mu.Unlock()

	if resolved != nil {
		span.SetAttributes(traces.TierID(resolved.Tier.ID), traces.MatchedBy(resolved.MatchedBy))
		metrics.ResolutionsTotal.WithLabelValues(provenanceLabel(resolved)).Inc()
	} else {
		metrics.ResolutionsTotal.WithLabelValues("none").Inc()
	}
	return resolved, nil
}

func provenanceLabel(rq *ResolvedQuota) string {
	if rq.Override != nil {
		return "override"
	}
	if rq.Assignment != nil {
		return string(rq.Assignment.Kind)
	}
	return "unknown"
}

// resolve runs the waterfall against the store.
func (r *Resolver) resolve(ctx context.Context, p Principal, now time.Time) (*ResolvedQuota, error) {
	// 1. Active override wins over everything.
	override, err := r.store.ActiveOverride(ctx, p.UserID, now)
	if err != nil && !errors.Is(err, ErrOverrideNotFound) {
		return nil, fmt.Errorf("quota: override lookup: %w", err)
	}
	if override != nil {
		return &ResolvedQuota{
			UserID:    p.UserID,
			Tier:      override.SynthesizedTier(),
			MatchedBy: "override",
			Override:  override,
		}, nil
	}

	// 2. Direct user assignment.
	if rq, err := r.fromDirect(ctx, p); err != nil {
		return nil, err
	} else if rq != nil {
		return rq, nil
	}

	// 3. App-role assignments, roles from the identity service when wired.
	appRoles := p.AppRoles
	if r.perms != nil {
		resolved, err := r.perms.AppRoles(ctx, p)
		if err != nil {
			// Identity failures never fail resolution.
			logging.L(ctx).Error("app role resolution failed, continuing waterfall",
				"user_id", p.UserID, "error", err)
		} else {
			appRoles = resolved
		}
	}
	if rq, err := r.fromRoles(ctx, p, KindAppRole, appRoles); err != nil {
		return nil, err
	} else if rq != nil {
		return rq, nil
	}

	// 4. JWT-role assignments over the raw token claims.
	if rq, err := r.fromRoles(ctx, p, KindJWTRole, p.Roles); err != nil {
		return nil, err
	} else if rq != nil {
		return rq, nil
	}

	// 5. Email-domain assignments, via the shared TTL cache.
	if rq, err := r.fromDomain(ctx, p, now); err != nil {
		return nil, err
	} else if rq != nil {
		return rq, nil
	}

	// 6. Default tier.
	return r.fromDefault(ctx, p)
}

func (r *Resolver) fromDirect(ctx context.Context, p Principal) (*ResolvedQuota, error) {
	a, err := r.store.DirectUserAssignment(ctx, p.UserID)
	if errors.Is(err, ErrAssignmentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quota: direct assignment lookup: %w", err)
	}
	return r.withEnabledTier(ctx, p, a)
}

func (r *Resolver) fromRoles(ctx context.Context, p Principal, kind AssignmentKind, roles []string) (*ResolvedQuota, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	var candidates []*Assignment
	for _, role := range roles {
		batch, err := r.store.RoleAssignments(ctx, kind, role)
		if err != nil {
			return nil, fmt.Errorf("quota: %s assignment lookup: %w", kind, err)
		}
		candidates = append(candidates, batch...)
	}
	SortByPriority(candidates)
	for _, a := range candidates {
		rq, err := r.withEnabledTier(ctx, p, a)
		if err != nil {
			return nil, err
		}
		if rq != nil {
			return rq, nil
		}
	}
	return nil, nil
}

func (r *Resolver) fromDomain(ctx context.Context, p Principal, now time.Time) (*ResolvedQuota, error) {
	domain := p.EmailDomain()
	if domain == "" {
		return nil, nil
	}

	assignments, err := r.cachedDomainAssignments(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, a := range assignments {
		if !MatchDomain(domain, a.Subject) {
			continue
		}
		rq, err := r.withEnabledTier(ctx, p, a)
		if err != nil {
			return nil, err
		}
		if rq != nil {
			return rq, nil
		}
	}
	return nil, nil
}

func (r *Resolver) cachedDomainAssignments(ctx context.Context, now time.Time) ([]*Assignment, error) {
	r.domainMu.RLock()
	entry := r.domainCache
	if entry != nil && now.Sub(entry.fetchedAt) < r.ttl {
		r.domainMu.RUnlock()
		return entry.assignments, nil
	}
	r.domainMu.RUnlock()

	assignments, err := r.store.KindAssignments(ctx, KindEmailDomain)
	if err != nil {
		return nil, fmt.Errorf("quota: email_domain assignment lookup: %w", err)
	}

	r.domainMu.Lock()
	r.domainCache = &domainCacheEntry{assignments: assignments, fetchedAt: now}
	r.domainMu.Unlock()

	return assignments, nil
}

func (r *Resolver) fromDefault(ctx context.Context, p Principal) (*ResolvedQuota, error) {
	assignments, err := r.store.KindAssignments(ctx, KindDefaultTier)
	if err != nil {
		return nil, fmt.Errorf("quota: default_tier assignment lookup: %w", err)
	}
	for _, a := range assignments {
		rq, err := r.withEnabledTier(ctx, p, a)
		if err != nil {
			return nil, err
		}
		if rq != nil {
			return rq, nil
		}
	}
	return nil, nil
}

// withEnabledTier finishes a match: the assignment must be enabled and its
// tier must exist and be enabled, otherwise the waterfall keeps going.
func (r *Resolver) withEnabledTier(ctx context.Context, p Principal, a *Assignment) (*ResolvedQuota, error) {
	if a == nil || !a.Enabled {
		return nil, nil
	}
	tier, err := r.store.GetTier(ctx, a.TierID)
	if errors.Is(err, ErrTierNotFound) {
		logging.L(ctx).Warn("assignment references missing tier, skipping",
			"assignment_id", a.ID, "tier_id", a.TierID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quota: tier lookup: %w", err)
	}
	if !tier.Enabled {
		return nil, nil
	}
	return &ResolvedQuota{
		UserID:     p.UserID,
		Tier:       tier,
		MatchedBy:  a.MatchedBy(),
		Assignment: a,
	}, nil
}
