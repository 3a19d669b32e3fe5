// Package events provides the append-only audit trail for quota decisions.
//
// Events are dedup-aware: repeated warnings for the same user and threshold
// inside the dedup window produce a single record, while block events are
// always recorded.
package events

import (
	"context"
	"errors"
	"time"
)

var ErrEventNotFound = errors.New("events: not found")

// EventType identifies what happened.
type EventType string

const (
	TypeBlock           EventType = "quota_block"
	TypeWarning         EventType = "quota_warning"
	TypeReset           EventType = "quota_reset"
	TypeOverrideApplied EventType = "override_applied"
)

// Event is a single audit record. Monetary fields are canonical decimal
// strings with 6 fractional digits.
type Event struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	EventType      EventType         `json:"eventType"`
	TierID         string            `json:"tierId,omitempty"`
	TierName       string            `json:"tierName,omitempty"`
	CurrentUsage   string            `json:"currentUsage,omitempty"`
	QuotaLimit     string            `json:"quotaLimit,omitempty"`
	PercentageUsed float64           `json:"percentageUsed,omitempty"`
	Threshold      string            `json:"threshold,omitempty"` // warnings only, e.g. "80%"
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, e *Event) error
	Get(ctx context.Context, id string) (*Event, error)
	// ListByUser returns a user's events, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Event, error)
	// ListByUserBefore returns a user's events strictly older than the
	// (before, beforeID) position, newest first. Backs cursor pagination.
	ListByUserBefore(ctx context.Context, userID string, before time.Time, beforeID string, limit int) ([]*Event, error)
	// ListByType returns events of one type across users, newest first.
	ListByType(ctx context.Context, t EventType, limit int) ([]*Event, error)
	// LastOfType returns the user's most recent event of the given type,
	// or (nil, nil) if none exists. A non-empty threshold narrows the
	// search to events recorded at that threshold.
	LastOfType(ctx context.Context, userID string, t EventType, threshold string) (*Event, error)
}
