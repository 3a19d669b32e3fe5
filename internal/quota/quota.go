// Package quota provides tier-based spend quota resolution and enforcement.
//
// A Tier is a named quota configuration (limits, period, action on breach).
// Assignments bind tiers to classes of principals through a priority
// waterfall; Overrides are time-bounded per-user exceptions that bypass
// assignment matching entirely. The Resolver computes which tier applies to
// a principal and the Checker turns the resolved tier plus current usage
// into an allow/warn/block decision.
package quota

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/colinmxs/spendgate/internal/money"
)

// Errors
var (
	ErrTierNotFound       = errors.New("quota: tier not found")
	ErrDuplicateTier      = errors.New("quota: tier id already exists")
	ErrTierReferenced     = errors.New("quota: tier is referenced by assignments")
	ErrAssignmentNotFound = errors.New("quota: assignment not found")
	ErrDuplicateDirect    = errors.New("quota: user already has an enabled direct assignment")
	ErrOverrideNotFound   = errors.New("quota: override not found")
	ErrUnknownTier        = errors.New("quota: assignment references unknown tier")
)

// DefaultUnlimitedDollars is the "practically infinite" sentinel: any limit
// at or above this many dollars is treated as unlimited.
const DefaultUnlimitedDollars = 999999

// PeriodType selects the accounting window a tier's limit applies to.
type PeriodType string

const (
	PeriodMonthly PeriodType = "monthly"
	PeriodDaily   PeriodType = "daily"
)

// LimitAction is what happens when usage reaches the hard limit.
type LimitAction string

const (
	ActionBlock LimitAction = "block"
	ActionWarn  LimitAction = "warn"
)

// DefaultSoftLimitPct is the warning threshold applied when a tier does not
// set its own.
const DefaultSoftLimitPct = 80

// Tier is a named quota configuration.
type Tier struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	MonthlyLimit  string      `json:"monthlyLimit"`         // canonical money string, required
	DailyLimit    string      `json:"dailyLimit,omitempty"` // optional
	PeriodType    PeriodType  `json:"periodType"`
	SoftLimitPct  int         `json:"softLimitPct"` // 0-100
	ActionOnLimit LimitAction `json:"actionOnLimit"`
	Enabled       bool        `json:"enabled"`
	CreatedBy     string      `json:"createdBy,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// Validate checks the tier's configuration. Limits must parse and be
// strictly positive when present.
func (t *Tier) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("quota: tier id is required")
	}
	if t.Name == "" {
		return fmt.Errorf("quota: tier name is required")
	}
	ml, ok := money.Parse(t.MonthlyLimit)
	if !ok || ml.Sign() <= 0 {
		return fmt.Errorf("quota: tier %s: monthlyLimit must be a positive amount", t.ID)
	}
	if t.DailyLimit != "" {
		dl, ok := money.Parse(t.DailyLimit)
		if !ok || dl.Sign() <= 0 {
			return fmt.Errorf("quota: tier %s: dailyLimit must be a positive amount", t.ID)
		}
	}
	switch t.PeriodType {
	case PeriodMonthly, PeriodDaily:
	default:
		return fmt.Errorf("quota: tier %s: periodType must be %q or %q", t.ID, PeriodMonthly, PeriodDaily)
	}
	if t.SoftLimitPct < 0 || t.SoftLimitPct > 100 {
		return fmt.Errorf("quota: tier %s: softLimitPct must be 0-100", t.ID)
	}
	switch t.ActionOnLimit {
	case ActionBlock, ActionWarn:
	default:
		return fmt.Errorf("quota: tier %s: actionOnLimit must be %q or %q", t.ID, ActionBlock, ActionWarn)
	}
	return nil
}

// Limit returns the applicable limit in smallest units: the daily limit when
// the tier accounts daily and one is set, else the monthly limit.
func (t *Tier) Limit() *big.Int {
	if t.PeriodType == PeriodDaily && t.DailyLimit != "" {
		if dl, ok := money.Parse(t.DailyLimit); ok {
			return dl
		}
	}
	ml, _ := money.Parse(t.MonthlyLimit)
	if ml == nil {
		ml = big.NewInt(0)
	}
	return ml
}

// AssignmentKind discriminates what an assignment's Subject means.
type AssignmentKind string

const (
	KindDirectUser  AssignmentKind = "direct_user"  // Subject is a user id
	KindAppRole     AssignmentKind = "app_role"     // Subject is an application role id
	KindJWTRole     AssignmentKind = "jwt_role"     // Subject is a raw token role claim
	KindEmailDomain AssignmentKind = "email_domain" // Subject is a domain pattern
	KindDefaultTier AssignmentKind = "default_tier" // Subject is empty
)

// DefaultPriority returns the conventional waterfall priority for a kind.
// Higher wins.
func DefaultPriority(kind AssignmentKind) int {
	switch kind {
	case KindDirectUser:
		return 300
	case KindAppRole:
		return 250
	case KindJWTRole:
		return 200
	case KindEmailDomain:
		return 150
	case KindDefaultTier:
		return 100
	default:
		return 0
	}
}

// Assignment binds a tier to a matching rule. The meaning of Subject is
// fixed by Kind; construct assignments through the New*Assignment helpers so
// a kind/subject mismatch is unrepresentable.
type Assignment struct {
	ID        string         `json:"id"`
	TierID    string         `json:"tierId"`
	Kind      AssignmentKind `json:"kind"`
	Subject   string         `json:"subject,omitempty"`
	Priority  int            `json:"priority"` // higher wins
	Enabled   bool           `json:"enabled"`
	CreatedBy string         `json:"createdBy,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func newAssignment(tierID string, kind AssignmentKind, subject string) (*Assignment, error) {
	if tierID == "" {
		return nil, fmt.Errorf("quota: assignment requires a tier id")
	}
	if kind == KindDefaultTier {
		if subject != "" {
			return nil, fmt.Errorf("quota: default_tier assignment must not carry a subject")
		}
	} else if subject == "" {
		return nil, fmt.Errorf("quota: %s assignment requires a subject", kind)
	}
	return &Assignment{
		TierID:   tierID,
		Kind:     kind,
		Subject:  subject,
		Priority: DefaultPriority(kind),
		Enabled:  true,
	}, nil
}

// NewDirectUserAssignment binds a tier directly to one user.
func NewDirectUserAssignment(tierID, userID string) (*Assignment, error) {
	return newAssignment(tierID, KindDirectUser, userID)
}

// NewAppRoleAssignment binds a tier to an application role id.
func NewAppRoleAssignment(tierID, roleID string) (*Assignment, error) {
	return newAssignment(tierID, KindAppRole, roleID)
}

// NewJWTRoleAssignment binds a tier to a raw token role claim.
func NewJWTRoleAssignment(tierID, role string) (*Assignment, error) {
	return newAssignment(tierID, KindJWTRole, role)
}

// NewEmailDomainAssignment binds a tier to an email-domain pattern.
func NewEmailDomainAssignment(tierID, pattern string) (*Assignment, error) {
	return newAssignment(tierID, KindEmailDomain, pattern)
}

// NewDefaultTierAssignment marks a tier as the fallback for unmatched users.
func NewDefaultTierAssignment(tierID string) (*Assignment, error) {
	return newAssignment(tierID, KindDefaultTier, "")
}

// Validate re-checks the kind/subject pairing. It guards assignments decoded
// from JSON or SQL rather than built through the constructors; a mismatch is
// a hard configuration error.
func (a *Assignment) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("quota: assignment id is required")
	}
	if a.TierID == "" {
		return fmt.Errorf("quota: assignment %s: tier id is required", a.ID)
	}
	switch a.Kind {
	case KindDefaultTier:
		if a.Subject != "" {
			return fmt.Errorf("quota: assignment %s: default_tier must not carry a subject", a.ID)
		}
	case KindDirectUser, KindAppRole, KindJWTRole, KindEmailDomain:
		if a.Subject == "" {
			return fmt.Errorf("quota: assignment %s: %s requires a subject", a.ID, a.Kind)
		}
	default:
		return fmt.Errorf("quota: assignment %s: unknown kind %q", a.ID, a.Kind)
	}
	return nil
}

// MatchedBy is the human-readable provenance string for this assignment.
func (a *Assignment) MatchedBy() string {
	switch a.Kind {
	case KindDirectUser:
		return "direct_user"
	case KindAppRole:
		return "app_role:" + a.Subject
	case KindJWTRole:
		return "jwt_role:" + a.Subject
	case KindEmailDomain:
		return "email_domain:" + a.Subject
	case KindDefaultTier:
		return "default_tier"
	default:
		return string(a.Kind)
	}
}

// SortByPriority orders assignments by priority descending; ties break on
// assignment id ascending so memory and postgres stores agree.
func SortByPriority(assignments []*Assignment) {
	sort.Slice(assignments, func(i, j int) bool {
		if assignments[i].Priority != assignments[j].Priority {
			return assignments[i].Priority > assignments[j].Priority
		}
		return assignments[i].ID < assignments[j].ID
	})
}

// OverrideType selects how an override replaces the matched tier's limits.
type OverrideType string

const (
	OverrideCustomLimit OverrideType = "custom_limit"
	OverrideUnlimited   OverrideType = "unlimited"
)

// Override is a time-bounded, per-user exception that bypasses assignment
// matching. It is the highest-priority source in the waterfall.
type Override struct {
	ID           string       `json:"id"`
	UserID       string       `json:"userId"`
	Type         OverrideType `json:"type"`
	MonthlyLimit string       `json:"monthlyLimit,omitempty"` // required for custom_limit
	DailyLimit   string       `json:"dailyLimit,omitempty"`
	ValidFrom    time.Time    `json:"validFrom"`
	ValidUntil   time.Time    `json:"validUntil"`
	Reason       string       `json:"reason,omitempty"`
	CreatedBy    string       `json:"createdBy,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Validate checks override configuration.
func (o *Override) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("quota: override id is required")
	}
	if o.UserID == "" {
		return fmt.Errorf("quota: override %s: user id is required", o.ID)
	}
	switch o.Type {
	case OverrideCustomLimit:
		ml, ok := money.Parse(o.MonthlyLimit)
		if !ok || ml.Sign() <= 0 {
			return fmt.Errorf("quota: override %s: custom_limit requires a positive monthlyLimit", o.ID)
		}
		if o.DailyLimit != "" {
			dl, ok := money.Parse(o.DailyLimit)
			if !ok || dl.Sign() <= 0 {
				return fmt.Errorf("quota: override %s: dailyLimit must be a positive amount", o.ID)
			}
		}
	case OverrideUnlimited:
	default:
		return fmt.Errorf("quota: override %s: type must be %q or %q", o.ID, OverrideCustomLimit, OverrideUnlimited)
	}
	if !o.ValidUntil.IsZero() && !o.ValidFrom.IsZero() && !o.ValidUntil.After(o.ValidFrom) {
		return fmt.Errorf("quota: override %s: validUntil must be after validFrom", o.ID)
	}
	return nil
}

// ActiveAt reports whether the override's validity window contains t.
func (o *Override) ActiveAt(t time.Time) bool {
	if !o.ValidFrom.IsZero() && t.Before(o.ValidFrom) {
		return false
	}
	if !o.ValidUntil.IsZero() && !t.Before(o.ValidUntil) {
		return false
	}
	return true
}

// SynthesizedTier converts the override into a transient tier so downstream
// handling is uniform. The tier id is "override_" + override id.
func (o *Override) SynthesizedTier() *Tier {
	t := &Tier{
		ID:            "override_" + o.ID,
		Name:          "Override",
		PeriodType:    PeriodMonthly,
		SoftLimitPct:  DefaultSoftLimitPct,
		ActionOnLimit: ActionBlock,
		Enabled:       true,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.Reason != "" {
		t.Name = "Override: " + o.Reason
	}
	switch o.Type {
	case OverrideUnlimited:
		t.MonthlyLimit = money.Format(money.FromDollars(DefaultUnlimitedDollars))
	default:
		t.MonthlyLimit = o.MonthlyLimit
		t.DailyLimit = o.DailyLimit
		if o.DailyLimit != "" {
			t.PeriodType = PeriodDaily
		}
	}
	return t
}

// Principal is the authenticated caller a quota decision applies to.
type Principal struct {
	UserID    string   `json:"userId"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`    // raw token role claims
	AppRoles  []string `json:"appRoles,omitempty"` // application roles, may come from the identity service
	SessionID string   `json:"sessionId,omitempty"`
}

// EmailDomain returns the lower-cased domain part of the principal's email,
// or "" when no domain is present.
func (p Principal) EmailDomain() string {
	at := strings.LastIndex(p.Email, "@")
	if at < 0 || at == len(p.Email)-1 {
		return ""
	}
	return strings.ToLower(p.Email[at+1:])
}

// ResolvedQuota is the outcome of the resolution waterfall.
type ResolvedQuota struct {
	UserID     string      `json:"userId"`
	Tier       *Tier       `json:"tier"`
	MatchedBy  string      `json:"matchedBy"`
	Assignment *Assignment `json:"assignment,omitempty"` // absent for overrides
	Override   *Override   `json:"override,omitempty"`
}

// PeriodString formats the accounting period for a point in time, always in
// UTC: "2026-08" for monthly tiers, "2026-08-26" for daily ones.
func PeriodString(pt PeriodType, now time.Time) string {
	now = now.UTC()
	if pt == PeriodDaily {
		return now.Format("2006-01-02")
	}
	return now.Format("2006-01")
}
