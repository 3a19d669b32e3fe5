package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists audit events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed event store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const eventCols = `id, user_id, event_type, tier_id, tier_name,
	       current_usage::TEXT, quota_limit::TEXT, percentage_used, threshold, metadata, created_at`

func (p *PostgresStore) Append(ctx context.Context, e *Event) error {
	var meta []byte
	if len(e.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO quota_events (
			id, user_id, event_type, tier_id, tier_name,
			current_usage, quota_limit, percentage_used, threshold, metadata, created_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), NULLIF($5, ''),
			NULLIF($6, '')::NUMERIC(20,6), NULLIF($7, '')::NUMERIC(20,6), $8, NULLIF($9, ''), $10, $11
		)`,
		e.ID, e.UserID, string(e.EventType), e.TierID, e.TierName,
		e.CurrentUsage, e.QuotaLimit, e.PercentageUsed, e.Threshold, meta, e.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Event, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+eventCols+` FROM quota_events WHERE id = $1`, id)

	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	return e, err
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+eventCols+`
		FROM quota_events
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

func (p *PostgresStore) ListByUserBefore(ctx context.Context, userID string, before time.Time, beforeID string, limit int) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+eventCols+`
		FROM quota_events
		WHERE user_id = $1 AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`, userID, before, beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

func (p *PostgresStore) ListByType(ctx context.Context, t EventType, limit int) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+eventCols+`
		FROM quota_events
		WHERE event_type = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, string(t), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

func (p *PostgresStore) LastOfType(ctx context.Context, userID string, t EventType, threshold string) (*Event, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+eventCols+`
		FROM quota_events
		WHERE user_id = $1 AND event_type = $2
		  AND ($3 = '' OR threshold = $3)
		ORDER BY created_at DESC
		LIMIT 1`, userID, string(t), threshold)

	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// --- scanners ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(sc scanner) (*Event, error) {
	e := &Event{}
	var (
		eventType string
		tierID    sql.NullString
		tierName  sql.NullString
		usage     sql.NullString
		limit     sql.NullString
		pct       sql.NullFloat64
		threshold sql.NullString
		meta      []byte
	)

	err := sc.Scan(
		&e.ID, &e.UserID, &eventType, &tierID, &tierName,
		&usage, &limit, &pct, &threshold, &meta, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.EventType = EventType(eventType)
	e.TierID = tierID.String
	e.TierName = tierName.String
	e.CurrentUsage = usage.String
	e.QuotaLimit = limit.String
	e.PercentageUsed = pct.Float64
	e.Threshold = threshold.String
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return e, nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var result []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
