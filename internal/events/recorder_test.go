package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/colinmxs/spendgate/internal/quota"
)

func info(userID string) quota.EventInfo {
	return quota.EventInfo{
		UserID:         userID,
		TierID:         "tier_std",
		TierName:       "Standard",
		QuotaLimit:     "100.000000",
		PercentageUsed: 85.0,
		MatchedBy:      "direct_user",
		Period:         "2026-08",
	}
}

func countByType(t *testing.T, store Store, userID string, et EventType) int {
	t.Helper()
	events, err := store.ListByUser(context.Background(), userID, 100)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	n := 0
	for _, e := range events {
		if e.EventType == et {
			n++
		}
	}
	return n
}

func TestRecorderBlocksNeverDeduped(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r.RecordBlock(ctx, info("user-1"))
	}

	if got := countByType(t, store, "user-1", TypeBlock); got != 3 {
		t.Errorf("Expected 3 block events, got %d", got)
	}
}

func TestRecorderWarningDedup(t *testing.T) {
	store := NewMemoryStore()
	clock := time.Now().UTC()
	r := NewRecorder(store,
		WithWarnWindow(time.Hour),
		WithRecorderClock(func() time.Time { return clock }),
	)
	ctx := context.Background()

	r.RecordWarningIfNeeded(ctx, info("user-1"), "80%")
	r.RecordWarningIfNeeded(ctx, info("user-1"), "80%")
	if got := countByType(t, store, "user-1", TypeWarning); got != 1 {
		t.Errorf("Expected 1 warning inside window, got %d", got)
	}

	// A different threshold is a different dedup key.
	r.RecordWarningIfNeeded(ctx, info("user-1"), "90%")
	if got := countByType(t, store, "user-1", TypeWarning); got != 2 {
		t.Errorf("Crossing into 90%% must record, got %d", got)
	}

	// A different user is independent.
	r.RecordWarningIfNeeded(ctx, info("user-2"), "80%")
	if got := countByType(t, store, "user-2", TypeWarning); got != 1 {
		t.Errorf("Expected 1 warning for user-2, got %d", got)
	}

	// Past the window the same threshold records again.
	clock = clock.Add(61 * time.Minute)
	r.RecordWarningIfNeeded(ctx, info("user-1"), "80%")
	if got := countByType(t, store, "user-1", TypeWarning); got != 3 {
		t.Errorf("Expected fresh warning after window, got %d", got)
	}
}

func TestRecorderWarningSkipsNone(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store)
	ctx := context.Background()

	r.RecordWarningIfNeeded(ctx, info("user-1"), "")
	r.RecordWarningIfNeeded(ctx, info("user-1"), "none")

	if got := countByType(t, store, "user-1", TypeWarning); got != 0 {
		t.Errorf("Expected no warning events, got %d", got)
	}
}

func TestRecorderOverrideDedup(t *testing.T) {
	store := NewMemoryStore()
	clock := time.Now().UTC()
	r := NewRecorder(store,
		WithRecorderClock(func() time.Time { return clock }),
	)
	ctx := context.Background()

	r.RecordOverrideApplied(ctx, info("user-1"))
	r.RecordOverrideApplied(ctx, info("user-1"))
	if got := countByType(t, store, "user-1", TypeOverrideApplied); got != 1 {
		t.Errorf("Expected 1 override event inside window, got %d", got)
	}

	clock = clock.Add(DefaultOverrideWindow + time.Minute)
	r.RecordOverrideApplied(ctx, info("user-1"))
	if got := countByType(t, store, "user-1", TypeOverrideApplied); got != 2 {
		t.Errorf("Expected fresh override event after window, got %d", got)
	}
}

func TestRecorderDedupSurvivesRestart(t *testing.T) {
	store := NewMemoryStore()
	clock := time.Now().UTC()
	ctx := context.Background()

	r1 := NewRecorder(store, WithRecorderClock(func() time.Time { return clock }))
	r1.RecordWarningIfNeeded(ctx, info("user-1"), "80%")

	// A fresh recorder has an empty local cache but finds the stored event.
	r2 := NewRecorder(store, WithRecorderClock(func() time.Time { return clock }))
	r2.RecordWarningIfNeeded(ctx, info("user-1"), "80%")

	if got := countByType(t, store, "user-1", TypeWarning); got != 1 {
		t.Errorf("Store-backed dedup failed, got %d events", got)
	}
}

// failingEventStore breaks every operation.
type failingEventStore struct{}

func (f *failingEventStore) Append(context.Context, *Event) error { return errors.New("store down") }

func (f *failingEventStore) Get(context.Context, string) (*Event, error) {
	return nil, errors.New("store down")
}

func (f *failingEventStore) ListByUser(context.Context, string, int) ([]*Event, error) {
	return nil, errors.New("store down")
}

func (f *failingEventStore) ListByUserBefore(context.Context, string, time.Time, string, int) ([]*Event, error) {
	return nil, errors.New("store down")
}

func (f *failingEventStore) ListByType(context.Context, EventType, int) ([]*Event, error) {
	return nil, errors.New("store down")
}

func (f *failingEventStore) LastOfType(context.Context, string, EventType, string) (*Event, error) {
	return nil, errors.New("store down")
}

func TestRecorderSwallowsStoreFailures(t *testing.T) {
	r := NewRecorder(&failingEventStore{})
	ctx := context.Background()

	// None of these may panic or propagate the error.
	r.RecordBlock(ctx, info("user-1"))
	r.RecordWarningIfNeeded(ctx, info("user-1"), "80%")
	r.RecordOverrideApplied(ctx, info("user-1"))
	r.RecordReset(ctx, info("user-1"))
}

func TestRecorderEventContents(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store)
	ctx := context.Background()

	in := info("user-1")
	in.CurrentUsage = "85.000000"
	in.AssignmentID = "asg_1"
	in.SessionID = "sess_1"
	r.RecordWarningIfNeeded(ctx, in, "80%")

	events, err := store.ListByUser(ctx, "user-1", 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("Expected 1 event: %v, %d", err, len(events))
	}

	e := events[0]
	if e.EventType != TypeWarning || e.Threshold != "80%" {
		t.Errorf("Unexpected event: %+v", e)
	}
	if e.CurrentUsage != "85.000000" || e.QuotaLimit != "100.000000" {
		t.Errorf("Amounts not carried: %+v", e)
	}
	if e.Metadata["matched_by"] != "direct_user" {
		t.Errorf("metadata matched_by = %q", e.Metadata["matched_by"])
	}
	if e.Metadata["assignment_id"] != "asg_1" {
		t.Errorf("metadata assignment_id = %q", e.Metadata["assignment_id"])
	}
	if e.Metadata["period"] != "2026-08" {
		t.Errorf("metadata period = %q", e.Metadata["period"])
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Errorf("Event missing id or timestamp: %+v", e)
	}
}
