package quota

import (
	"context"
	"time"
)

// Store is the policy store contract: targeted point and indexed lookups
// only, no full scans on the hot path. Implementations must apply the
// priority-descending, id-ascending ordering documented on each method.
type Store interface {
	// Tiers
	CreateTier(ctx context.Context, t *Tier) error
	GetTier(ctx context.Context, id string) (*Tier, error)
	ListTiers(ctx context.Context) ([]*Tier, error)
	UpdateTier(ctx context.Context, t *Tier) error
	// DeleteTier fails with ErrTierReferenced while assignments point at it.
	DeleteTier(ctx context.Context, id string) error

	// Assignments
	CreateAssignment(ctx context.Context, a *Assignment) error
	GetAssignment(ctx context.Context, id string) (*Assignment, error)
	UpdateAssignment(ctx context.Context, a *Assignment) error
	DeleteAssignment(ctx context.Context, id string) error
	// DirectUserAssignment returns the single enabled direct_user assignment
	// for a user, or ErrAssignmentNotFound. Uniqueness is the store's job.
	DirectUserAssignment(ctx context.Context, userID string) (*Assignment, error)
	// RoleAssignments returns enabled assignments of the given role kind
	// (app_role or jwt_role) whose subject equals role, priority descending,
	// id ascending.
	RoleAssignments(ctx context.Context, kind AssignmentKind, role string) ([]*Assignment, error)
	// KindAssignments returns all enabled assignments of a kind
	// (email_domain, default_tier), priority descending, id ascending.
	KindAssignments(ctx context.Context, kind AssignmentKind) ([]*Assignment, error)

	// Overrides
	CreateOverride(ctx context.Context, o *Override) error
	GetOverride(ctx context.Context, id string) (*Override, error)
	ListOverrides(ctx context.Context, userID string) ([]*Override, error)
	DeleteOverride(ctx context.Context, id string) error
	// ActiveOverride returns the override for userID whose validity window
	// contains at, or ErrOverrideNotFound. With several active, the most
	// recently created wins.
	ActiveOverride(ctx context.Context, userID string, at time.Time) (*Override, error)
}
