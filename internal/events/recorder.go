package events

import (
	"context"
	"sync"
	"time"

	"github.com/colinmxs/spendgate/internal/idgen"
	"github.com/colinmxs/spendgate/internal/logging"
	"github.com/colinmxs/spendgate/internal/metrics"
	"github.com/colinmxs/spendgate/internal/quota"
	"github.com/colinmxs/spendgate/internal/traces"
)

const (
	// DefaultWarnWindow suppresses repeat warnings for the same user and
	// threshold inside this window.
	DefaultWarnWindow = 60 * time.Minute
	// DefaultOverrideWindow suppresses repeat override_applied events for
	// the same user inside this window.
	DefaultOverrideWindow = time.Hour
)

// Recorder writes audit events, applying deduplication windows. Recording is
// best-effort: failures are logged and swallowed so a broken audit store can
// never fail a quota check.
//
// Block and reset events are always recorded; only warnings and
// override_applied are deduplicated.
type Recorder struct {
	store          Store
	warnWindow     time.Duration
	overrideWindow time.Duration
	now            func() time.Time

	// lastSeen caches the most recent dedup-relevant event per key so the
	// hot path usually skips the store lookup. Keys are
	// "userID|type|threshold".
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithWarnWindow overrides the warning dedup window.
func WithWarnWindow(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.warnWindow = d
		}
	}
}

// WithOverrideWindow overrides the override_applied dedup window.
func WithOverrideWindow(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.overrideWindow = d
		}
	}
}

// WithRecorderClock injects a deterministic clock for tests.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder backed by store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:          store,
		warnWindow:     DefaultWarnWindow,
		overrideWindow: DefaultOverrideWindow,
		now:            time.Now,
		lastSeen:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordBlock records a block event. Blocks are never deduplicated: every
// denied request leaves a trace.
func (r *Recorder) RecordBlock(ctx context.Context, info quota.EventInfo) {
	r.append(ctx, r.build(TypeBlock, info, ""))
}

// RecordWarningIfNeeded records a warning unless one at the same threshold
// was recorded for this user inside the warn window. Crossing into a higher
// threshold is a different key, so an 80% warning does not suppress the
// later 90% one.
func (r *Recorder) RecordWarningIfNeeded(ctx context.Context, info quota.EventInfo, threshold string) {
	if threshold == "" || threshold == "none" {
		return
	}
	if r.deduped(ctx, info.UserID, TypeWarning, threshold, r.warnWindow) {
		metrics.EventsDedupedTotal.WithLabelValues(string(TypeWarning)).Inc()
		return
	}
	r.append(ctx, r.build(TypeWarning, info, threshold))
}

// RecordOverrideApplied records that an override resolved a user's tier, at
// most once per user per override window.
func (r *Recorder) RecordOverrideApplied(ctx context.Context, info quota.EventInfo) {
	if r.deduped(ctx, info.UserID, TypeOverrideApplied, "", r.overrideWindow) {
		metrics.EventsDedupedTotal.WithLabelValues(string(TypeOverrideApplied)).Inc()
		return
	}
	r.append(ctx, r.build(TypeOverrideApplied, info, ""))
}

// RecordReset records an administrative usage reset.
func (r *Recorder) RecordReset(ctx context.Context, info quota.EventInfo) {
	r.append(ctx, r.build(TypeReset, info, ""))
}

// deduped reports whether an event with this key already exists inside the
// window, consulting the local cache first and the store on a cache miss.
func (r *Recorder) deduped(ctx context.Context, userID string, t EventType, threshold string, window time.Duration) bool {
	key := userID + "|" + string(t) + "|" + threshold
	cutoff := r.now().Add(-window)

	r.mu.Lock()
	if last, ok := r.lastSeen[key]; ok && last.After(cutoff) {
		r.mu.Unlock()
		return true
	}
	r.mu.Unlock()

	last, err := r.store.LastOfType(ctx, userID, t, threshold)
	if err != nil {
		logging.L(ctx).Warn("event dedup lookup failed, recording anyway",
			"user_id", userID, "event_type", string(t), "error", err)
		return false
	}
	if last == nil || !last.CreatedAt.After(cutoff) {
		return false
	}

	r.mu.Lock()
	r.lastSeen[key] = last.CreatedAt
	r.mu.Unlock()
	return true
}

func (r *Recorder) build(t EventType, info quota.EventInfo, threshold string) *Event {
	meta := map[string]string{}
	if info.MatchedBy != "" {
		meta["matched_by"] = info.MatchedBy
	}
	if info.AssignmentID != "" {
		meta["assignment_id"] = info.AssignmentID
	}
	if info.OverrideID != "" {
		meta["override_id"] = info.OverrideID
	}
	if info.Email != "" {
		meta["email"] = info.Email
	}
	if info.SessionID != "" {
		meta["session_id"] = info.SessionID
	}
	if info.Period != "" {
		meta["period"] = info.Period
	}
	if len(meta) == 0 {
		meta = nil
	}

	return &Event{
		ID:             idgen.WithPrefix("evt_"),
		UserID:         info.UserID,
		EventType:      t,
		TierID:         info.TierID,
		TierName:       info.TierName,
		CurrentUsage:   info.CurrentUsage,
		QuotaLimit:     info.QuotaLimit,
		PercentageUsed: info.PercentageUsed,
		Threshold:      threshold,
		Metadata:       meta,
		CreatedAt:      r.now().UTC(),
	}
}

func (r *Recorder) append(ctx context.Context, e *Event) {
	ctx, span := traces.StartSpan(ctx, "events.append",
		traces.UserID(e.UserID), traces.EventType(string(e.EventType)))
	defer span.End()

	if err := r.store.Append(ctx, e); err != nil {
		logging.L(ctx).Error("failed to record audit event",
			"event_type", string(e.EventType), "user_id", e.UserID, "error", err)
		return
	}
	metrics.QuotaEventsTotal.WithLabelValues(string(e.EventType)).Inc()

	r.mu.Lock()
	r.lastSeen[e.UserID+"|"+string(e.EventType)+"|"+e.Threshold] = e.CreatedAt
	r.mu.Unlock()
}

var _ quota.EventRecorder = (*Recorder)(nil)
