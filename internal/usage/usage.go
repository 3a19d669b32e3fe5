// Package usage tracks accumulated spend per user and accounting period.
//
// Periods are the strings produced by quota.PeriodString: "2026-08" for
// monthly accounting, "2026-08-26" for daily. Costs are canonical decimal
// strings persisted exactly; aggregation happens in smallest units so sums
// never drift.
package usage

import (
	"context"
	"errors"
	"math/big"
	"time"
)

var (
	ErrUnavailable = errors.New("usage: source unavailable")
	ErrInvalidCost = errors.New("usage: invalid cost amount")
)

// Record is a single spend entry.
type Record struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Period      string    `json:"period"`
	Cost        string    `json:"cost"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists and aggregates usage. TotalCost satisfies the checker's
// read path; Record and Reset serve the ingestion and admin surfaces.
type Store interface {
	// TotalCost returns the user's accumulated cost for the period in
	// smallest units. Unknown user/period pairs return zero, not an error.
	TotalCost(ctx context.Context, userID, period string) (*big.Int, error)
	Record(ctx context.Context, rec *Record) error
	// Reset deletes the user's usage for the period. An empty period
	// clears all periods.
	Reset(ctx context.Context, userID, period string) error
}
