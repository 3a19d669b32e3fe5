package quota

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/colinmxs/spendgate/internal/money"
)

// PostgresStore persists tiers, assignments, and overrides in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed policy store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func pqCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

// --- Tiers ---

func (p *PostgresStore) CreateTier(ctx context.Context, t *Tier) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tiers (id, name, monthly_limit, daily_limit, period_type, soft_limit_pct, action_on_limit, enabled, created_by, created_at, updated_at)
		VALUES ($1, $2, $3::NUMERIC(20,6), NULLIF($4, '')::NUMERIC(20,6), $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.Name, t.MonthlyLimit, t.DailyLimit, t.PeriodType, t.SoftLimitPct,
		t.ActionOnLimit, t.Enabled, t.CreatedBy, t.CreatedAt, t.UpdatedAt,
	)
	if pqCode(err, "23505") {
		return ErrDuplicateTier
	}
	return err
}

func (p *PostgresStore) GetTier(ctx context.Context, id string) (*Tier, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, monthly_limit::TEXT, COALESCE(daily_limit::TEXT, ''), period_type, soft_limit_pct, action_on_limit, enabled, COALESCE(created_by, ''), created_at, updated_at
		FROM tiers WHERE id = $1`, id)
	return scanTier(row)
}

func (p *PostgresStore) ListTiers(ctx context.Context) ([]*Tier, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, monthly_limit::TEXT, COALESCE(daily_limit::TEXT, ''), period_type, soft_limit_pct, action_on_limit, enabled, COALESCE(created_by, ''), created_at, updated_at
		FROM tiers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Tier
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (p *PostgresStore) UpdateTier(ctx context.Context, t *Tier) error {
	if err := t.Validate(); err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE tiers
		SET name = $1, monthly_limit = $2::NUMERIC(20,6), daily_limit = NULLIF($3, '')::NUMERIC(20,6),
		    period_type = $4, soft_limit_pct = $5, action_on_limit = $6, enabled = $7, updated_at = $8
		WHERE id = $9`,
		t.Name, t.MonthlyLimit, t.DailyLimit, t.PeriodType, t.SoftLimitPct,
		t.ActionOnLimit, t.Enabled, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrTierNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteTier(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM tiers WHERE id = $1`, id)
	if pqCode(err, "23503") {
		return ErrTierReferenced
	}
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrTierNotFound
	}
	return nil
}

// --- Assignments ---

const assignmentCols = `id, tier_id, kind, subject, priority, enabled, COALESCE(created_by, ''), created_at, updated_at`

func (p *PostgresStore) CreateAssignment(ctx context.Context, a *Assignment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO assignments (id, tier_id, kind, subject, priority, enabled, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.TierID, a.Kind, a.Subject, a.Priority, a.Enabled, a.CreatedBy, a.CreatedAt, a.UpdatedAt,
	)
	if pqCode(err, "23503") {
		return ErrUnknownTier
	}
	if pqCode(err, "23505") {
		return ErrDuplicateDirect
	}
	return err
}

func (p *PostgresStore) GetAssignment(ctx context.Context, id string) (*Assignment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+assignmentCols+` FROM assignments WHERE id = $1`, id)
	return scanAssignment(row)
}

func (p *PostgresStore) UpdateAssignment(ctx context.Context, a *Assignment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE assignments
		SET tier_id = $1, kind = $2, subject = $3, priority = $4, enabled = $5, updated_at = $6
		WHERE id = $7`,
		a.TierID, a.Kind, a.Subject, a.Priority, a.Enabled, a.UpdatedAt, a.ID,
	)
	if pqCode(err, "23503") {
		return ErrUnknownTier
	}
	if pqCode(err, "23505") {
		return ErrDuplicateDirect
	}
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteAssignment(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM assignments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

func (p *PostgresStore) DirectUserAssignment(ctx context.Context, userID string) (*Assignment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+assignmentCols+` FROM assignments
		WHERE kind = 'direct_user' AND subject = $1 AND enabled
		LIMIT 1`, userID)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssignmentNotFound
	}
	return a, err
}

func (p *PostgresStore) RoleAssignments(ctx context.Context, kind AssignmentKind, role string) ([]*Assignment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+assignmentCols+` FROM assignments
		WHERE kind = $1 AND subject = $2 AND enabled
		ORDER BY priority DESC, id ASC`, kind, role)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanAssignments(rows)
}

func (p *PostgresStore) KindAssignments(ctx context.Context, kind AssignmentKind) ([]*Assignment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+assignmentCols+` FROM assignments
		WHERE kind = $1 AND enabled
		ORDER BY priority DESC, id ASC`, kind)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanAssignments(rows)
}

// --- Overrides ---

const overrideCols = `id, user_id, override_type, COALESCE(monthly_limit::TEXT, ''), COALESCE(daily_limit::TEXT, ''), valid_from, valid_until, COALESCE(reason, ''), COALESCE(created_by, ''), created_at, updated_at`

func (p *PostgresStore) CreateOverride(ctx context.Context, o *Override) error {
	if err := o.Validate(); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO overrides (id, user_id, override_type, monthly_limit, daily_limit, valid_from, valid_until, reason, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, '')::NUMERIC(20,6), NULLIF($5, '')::NUMERIC(20,6), $6, $7, $8, $9, $10, $11)`,
		o.ID, o.UserID, o.Type, o.MonthlyLimit, o.DailyLimit,
		nullableTime(o.ValidFrom), nullableTime(o.ValidUntil), o.Reason, o.CreatedBy, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

// nullableTime maps the zero time to NULL so open-ended override windows
// round-trip: a NULL bound matches Override.ActiveAt's zero-value handling.
func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (p *PostgresStore) GetOverride(ctx context.Context, id string) (*Override, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+overrideCols+` FROM overrides WHERE id = $1`, id)
	o, err := scanOverride(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOverrideNotFound
	}
	return o, err
}

func (p *PostgresStore) ListOverrides(ctx context.Context, userID string) ([]*Override, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+overrideCols+` FROM overrides
		WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (p *PostgresStore) DeleteOverride(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM overrides WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrOverrideNotFound
	}
	return nil
}

func (p *PostgresStore) ActiveOverride(ctx context.Context, userID string, at time.Time) (*Override, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+overrideCols+` FROM overrides
		WHERE user_id = $1
		  AND (valid_from IS NULL OR valid_from <= $2)
		  AND (valid_until IS NULL OR valid_until > $2)
		ORDER BY created_at DESC LIMIT 1`, userID, at)
	o, err := scanOverride(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOverrideNotFound
	}
	return o, err
}

// --- scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTier(row rowScanner) (*Tier, error) {
	t := &Tier{}
	err := row.Scan(&t.ID, &t.Name, &t.MonthlyLimit, &t.DailyLimit, &t.PeriodType,
		&t.SoftLimitPct, &t.ActionOnLimit, &t.Enabled, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTierNotFound
	}
	if err != nil {
		return nil, err
	}
	t.MonthlyLimit = canonical(t.MonthlyLimit)
	t.DailyLimit = canonicalOrEmpty(t.DailyLimit)
	return t, nil
}

func scanAssignment(row rowScanner) (*Assignment, error) {
	a := &Assignment{}
	err := row.Scan(&a.ID, &a.TierID, &a.Kind, &a.Subject, &a.Priority, &a.Enabled,
		&a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanAssignments(rows *sql.Rows) ([]*Assignment, error) {
	var result []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func scanOverride(row rowScanner) (*Override, error) {
	o := &Override{}
	var validFrom, validUntil sql.NullTime
	err := row.Scan(&o.ID, &o.UserID, &o.Type, &o.MonthlyLimit, &o.DailyLimit,
		&validFrom, &validUntil, &o.Reason, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.ValidFrom = validFrom.Time
	o.ValidUntil = validUntil.Time
	o.MonthlyLimit = canonicalOrEmpty(o.MonthlyLimit)
	o.DailyLimit = canonicalOrEmpty(o.DailyLimit)
	return o, nil
}

// canonical normalizes a NUMERIC text representation through money parsing
// so stored "500" and "500.000000" compare equal upstream.
func canonical(s string) string {
	amt, ok := money.Parse(s)
	if !ok {
		return s
	}
	return money.Format(amt)
}

func canonicalOrEmpty(s string) string {
	if s == "" {
		return ""
	}
	return canonical(s)
}

var _ Store = (*PostgresStore)(nil)
