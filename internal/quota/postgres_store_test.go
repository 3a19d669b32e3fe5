package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/colinmxs/spendgate/internal/testutil"
)

func TestPostgresStore_Tiers(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	tier := validTier("tier_pg")
	if err := store.CreateTier(ctx, tier); err != nil {
		t.Fatalf("CreateTier failed: %v", err)
	}

	if err := store.CreateTier(ctx, tier); !errors.Is(err, ErrDuplicateTier) {
		t.Errorf("Expected ErrDuplicateTier, got %v", err)
	}

	got, err := store.GetTier(ctx, "tier_pg")
	if err != nil {
		t.Fatalf("GetTier failed: %v", err)
	}
	if got.MonthlyLimit != "100.000000" {
		t.Errorf("monthlyLimit = %s, want 100.000000", got.MonthlyLimit)
	}
	if got.SoftLimitPct != 80 {
		t.Errorf("softLimitPct = %d, want 80", got.SoftLimitPct)
	}

	got.Name = "Renamed"
	got.MonthlyLimit = "250.500000"
	if err := store.UpdateTier(ctx, got); err != nil {
		t.Fatalf("UpdateTier failed: %v", err)
	}
	got, err = store.GetTier(ctx, "tier_pg")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Renamed" || got.MonthlyLimit != "250.500000" {
		t.Errorf("Update not persisted: %+v", got)
	}

	tiers, err := store.ListTiers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tiers) != 1 {
		t.Errorf("Expected 1 tier, got %d", len(tiers))
	}

	if err := store.DeleteTier(ctx, "tier_pg"); err != nil {
		t.Fatalf("DeleteTier failed: %v", err)
	}
	if _, err := store.GetTier(ctx, "tier_pg"); !errors.Is(err, ErrTierNotFound) {
		t.Errorf("Expected ErrTierNotFound after delete, got %v", err)
	}
}

func TestPostgresStore_Assignments(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.CreateTier(ctx, validTier("tier_pg")); err != nil {
		t.Fatal(err)
	}

	a, err := NewDirectUserAssignment("tier_pg", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	a.ID = "asg_1"
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if err := store.CreateAssignment(ctx, a); err != nil {
		t.Fatalf("CreateAssignment failed: %v", err)
	}

	// Unknown tier maps to ErrUnknownTier via the FK violation.
	bad, _ := NewDirectUserAssignment("no_such_tier", "user-2")
	bad.ID = "asg_bad"
	bad.CreatedAt = now
	bad.UpdatedAt = now
	if err := store.CreateAssignment(ctx, bad); !errors.Is(err, ErrUnknownTier) {
		t.Errorf("Expected ErrUnknownTier, got %v", err)
	}

	// A second enabled direct assignment for the same user hits the partial
	// unique index.
	dup, _ := NewDirectUserAssignment("tier_pg", "user-1")
	dup.ID = "asg_dup"
	dup.CreatedAt = now
	dup.UpdatedAt = now
	if err := store.CreateAssignment(ctx, dup); !errors.Is(err, ErrDuplicateDirect) {
		t.Errorf("Expected ErrDuplicateDirect, got %v", err)
	}

	got, err := store.DirectUserAssignment(ctx, "user-1")
	if err != nil {
		t.Fatalf("DirectUserAssignment failed: %v", err)
	}
	if got.ID != "asg_1" || got.Priority != 300 {
		t.Errorf("Unexpected assignment: %+v", got)
	}

	if _, err := store.DirectUserAssignment(ctx, "nobody"); !errors.Is(err, ErrAssignmentNotFound) {
		t.Errorf("Expected ErrAssignmentNotFound, got %v", err)
	}

	// Role and kind queries only see enabled rows.
	role, _ := NewJWTRoleAssignment("tier_pg", "premium")
	role.ID = "asg_role"
	role.CreatedAt = now
	role.UpdatedAt = now
	if err := store.CreateAssignment(ctx, role); err != nil {
		t.Fatal(err)
	}
	disabled, _ := NewJWTRoleAssignment("tier_pg", "premium")
	disabled.ID = "asg_role_off"
	disabled.Enabled = false
	disabled.CreatedAt = now
	disabled.UpdatedAt = now
	if err := store.CreateAssignment(ctx, disabled); err != nil {
		t.Fatal(err)
	}

	roles, err := store.RoleAssignments(ctx, KindJWTRole, "premium")
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 1 || roles[0].ID != "asg_role" {
		t.Errorf("RoleAssignments = %+v", roles)
	}

	kinds, err := store.KindAssignments(ctx, KindDirectUser)
	if err != nil {
		t.Fatal(err)
	}
	if len(kinds) != 1 {
		t.Errorf("KindAssignments count = %d", len(kinds))
	}

	// Referenced tier cannot be deleted.
	if err := store.DeleteTier(ctx, "tier_pg"); !errors.Is(err, ErrTierReferenced) {
		t.Errorf("Expected ErrTierReferenced, got %v", err)
	}

	if err := store.DeleteAssignment(ctx, "asg_1"); err != nil {
		t.Fatalf("DeleteAssignment failed: %v", err)
	}
	if _, err := store.GetAssignment(ctx, "asg_1"); !errors.Is(err, ErrAssignmentNotFound) {
		t.Errorf("Expected ErrAssignmentNotFound after delete, got %v", err)
	}
}

func TestPostgresStore_Overrides(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	o := &Override{
		ID:           "ovr_pg",
		UserID:       "user-1",
		Type:         OverrideCustomLimit,
		MonthlyLimit: "75.000000",
		ValidFrom:    now.Add(-time.Hour),
		ValidUntil:   now.Add(time.Hour),
		Reason:       "incident credit",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.CreateOverride(ctx, o); err != nil {
		t.Fatalf("CreateOverride failed: %v", err)
	}

	active, err := store.ActiveOverride(ctx, "user-1", now)
	if err != nil {
		t.Fatalf("ActiveOverride failed: %v", err)
	}
	if active.ID != "ovr_pg" || active.MonthlyLimit != "75.000000" {
		t.Errorf("Unexpected override: %+v", active)
	}

	// Outside the validity window there is no active override.
	if _, err := store.ActiveOverride(ctx, "user-1", now.Add(2*time.Hour)); !errors.Is(err, ErrOverrideNotFound) {
		t.Errorf("Expected ErrOverrideNotFound outside window, got %v", err)
	}

	list, err := store.ListOverrides(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Reason != "incident credit" {
		t.Errorf("ListOverrides = %+v", list)
	}

	if err := store.DeleteOverride(ctx, "ovr_pg"); err != nil {
		t.Fatalf("DeleteOverride failed: %v", err)
	}
	if _, err := store.GetOverride(ctx, "ovr_pg"); !errors.Is(err, ErrOverrideNotFound) {
		t.Errorf("Expected ErrOverrideNotFound after delete, got %v", err)
	}
}

func TestPostgresStore_OpenEndedOverrideActive(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	assertOpenEndedOverrideActive(t, NewPostgresStore(db))
}

func TestPostgresStore_ResolverIntegration(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.CreateTier(ctx, validTier("tier_domain")); err != nil {
		t.Fatal(err)
	}
	a, err := NewEmailDomainAssignment("tier_domain", "*.example.com")
	if err != nil {
		t.Fatal(err)
	}
	a.ID = "asg_domain"
	a.CreatedAt = now
	a.UpdatedAt = now
	if err := store.CreateAssignment(ctx, a); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(store)
	rq, err := r.Resolve(ctx, Principal{UserID: "user-1", Email: "eng@mail.example.com"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if rq == nil || rq.Tier.ID != "tier_domain" {
		t.Fatalf("Expected tier_domain, got %+v", rq)
	}
	if rq.MatchedBy != "email_domain:*.example.com" {
		t.Errorf("matchedBy = %s", rq.MatchedBy)
	}
}
