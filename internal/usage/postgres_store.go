package usage

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/colinmxs/spendgate/internal/money"
)

// PostgresStore persists usage records in PostgreSQL. Totals are computed
// with SUM over NUMERIC(20,6), cast to TEXT on the way out and re-parsed so
// no float ever touches an amount.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed usage store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) TotalCost(ctx context.Context, userID, period string) (*big.Int, error) {
	var total string
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost), 0)::TEXT
		FROM usage_records
		WHERE user_id = $1 AND period = $2`, userID, period).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("sum usage: %w", err)
	}

	amount, ok := money.Parse(total)
	if !ok {
		return nil, fmt.Errorf("sum usage: unparseable total %q", total)
	}
	return amount, nil
}

func (p *PostgresStore) Record(ctx context.Context, rec *Record) error {
	if _, ok := money.Parse(rec.Cost); !ok {
		return ErrInvalidCost
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, user_id, period, cost, description, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,6), NULLIF($5, ''), $6)`,
		rec.ID, rec.UserID, rec.Period, rec.Cost, rec.Description, rec.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Reset(ctx context.Context, userID, period string) error {
	if period != "" {
		_, err := p.db.ExecContext(ctx,
			`DELETE FROM usage_records WHERE user_id = $1 AND period = $2`, userID, period)
		return err
	}
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM usage_records WHERE user_id = $1`, userID)
	return err
}

var _ Store = (*PostgresStore)(nil)
