package quota

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_OpenEndedOverrideActive(t *testing.T) {
	assertOpenEndedOverrideActive(t, NewMemoryStore())
}

// assertOpenEndedOverrideActive checks that a zero validity bound means
// open-ended in every Store implementation: no ValidFrom is active
// immediately, no ValidUntil never expires, and the zero bounds survive a
// round trip.
func assertOpenEndedOverrideActive(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	forever := &Override{
		ID:        "ovr_forever",
		UserID:    "user-open",
		Type:      OverrideUnlimited,
		Reason:    "founding customer",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateOverride(ctx, forever); err != nil {
		t.Fatalf("CreateOverride failed: %v", err)
	}

	for _, at := range []time.Time{
		now,
		now.AddDate(-1, 0, 0),
		now.AddDate(10, 0, 0),
	} {
		active, err := store.ActiveOverride(ctx, "user-open", at)
		if err != nil {
			t.Fatalf("ActiveOverride at %v failed: %v", at, err)
		}
		if active.ID != "ovr_forever" {
			t.Errorf("ActiveOverride at %v = %s, want ovr_forever", at, active.ID)
		}
	}

	got, err := store.GetOverride(ctx, "ovr_forever")
	if err != nil {
		t.Fatalf("GetOverride failed: %v", err)
	}
	if !got.ValidFrom.IsZero() || !got.ValidUntil.IsZero() {
		t.Errorf("Open-ended bounds did not round-trip as zero: from=%v until=%v", got.ValidFrom, got.ValidUntil)
	}

	// A set ValidFrom with no ValidUntil starts fixed but never expires.
	halfOpen := &Override{
		ID:           "ovr_halfopen",
		UserID:       "user-half",
		Type:         OverrideCustomLimit,
		MonthlyLimit: "250.000000",
		ValidFrom:    now.Add(time.Hour),
		Reason:       "ramp-up",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.CreateOverride(ctx, halfOpen); err != nil {
		t.Fatalf("CreateOverride failed: %v", err)
	}

	if _, err := store.ActiveOverride(ctx, "user-half", now); !errors.Is(err, ErrOverrideNotFound) {
		t.Errorf("Expected ErrOverrideNotFound before ValidFrom, got %v", err)
	}
	active, err := store.ActiveOverride(ctx, "user-half", now.AddDate(10, 0, 0))
	if err != nil {
		t.Fatalf("ActiveOverride after ValidFrom failed: %v", err)
	}
	if active.ID != "ovr_halfopen" {
		t.Errorf("ActiveOverride = %s, want ovr_halfopen", active.ID)
	}
}
