package quota

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/colinmxs/spendgate/internal/logging"
	"github.com/colinmxs/spendgate/internal/metrics"
	"github.com/colinmxs/spendgate/internal/money"
	"github.com/colinmxs/spendgate/internal/traces"
)

// DecisionStatus enumerates the checker's terminal states.
type DecisionStatus string

const (
	StatusAllowedUnlimited   DecisionStatus = "allowed_unlimited"
	StatusAllowedWithinLimit DecisionStatus = "allowed_within_limit"
	StatusAllowedWarning     DecisionStatus = "allowed_warning"
	StatusAllowedLimitWarn   DecisionStatus = "allowed_limit_warn" // at/over limit, tier action is warn
	StatusBlocked            DecisionStatus = "blocked"
)

// WarningNone is the warning level of a decision comfortably under its
// soft limit.
const WarningNone = "none"

// Decision is the produced interface of the engine: the outcome of a single
// quota check.
type Decision struct {
	Allowed        bool           `json:"allowed"`
	Status         DecisionStatus `json:"status"`
	Message        string         `json:"message"`
	Tier           *Tier          `json:"tier,omitempty"`
	MatchedBy      string         `json:"matchedBy,omitempty"`
	Period         string         `json:"period,omitempty"`
	CurrentUsage   string         `json:"currentUsage"`
	QuotaLimit     string         `json:"quotaLimit,omitempty"`
	PercentageUsed float64        `json:"percentageUsed"`
	Remaining      string         `json:"remaining,omitempty"`
	WarningLevel   string         `json:"warningLevel"`
}

// UsageSource returns a principal's accumulated cost for a period, in
// smallest money units. Period strings follow PeriodString.
type UsageSource interface {
	TotalCost(ctx context.Context, userID, period string) (*big.Int, error)
}

// EventInfo carries the audit context shared by every event the checker
// records.
type EventInfo struct {
	UserID         string
	TierID         string
	TierName       string
	CurrentUsage   string
	QuotaLimit     string
	PercentageUsed float64
	MatchedBy      string
	AssignmentID   string
	OverrideID     string
	Email          string
	Roles          []string
	SessionID      string
	Period         string
}

// EventRecorder persists audit events. Implementations are best-effort:
// they log failures and never return them, so recording cannot fail a check.
type EventRecorder interface {
	RecordBlock(ctx context.Context, info EventInfo)
	RecordWarningIfNeeded(ctx context.Context, info EventInfo, threshold string)
	RecordOverrideApplied(ctx context.Context, info EventInfo)
	RecordReset(ctx context.Context, info EventInfo)
}

// DecisionSink receives noteworthy decisions (blocks, warnings) for live
// streaming. Implementations must not block.
type DecisionSink interface {
	PublishDecision(userID string, d *Decision)
}

// Checker orchestrates the resolver and usage source into an
// allow/warn/block decision. Quota subsystem failures degrade to "allow
// traffic, log loudly": the only deny outcome is a correctly computed
// hard-limit breach.
type Checker struct {
	resolver  *Resolver
	usage     UsageSource
	recorder  EventRecorder
	sink      DecisionSink
	unlimited *big.Int
	now       func() time.Time
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithDecisionSink streams block/warning decisions to a live feed.
func WithDecisionSink(sink DecisionSink) CheckerOption {
	return func(c *Checker) { c.sink = sink }
}

// WithUnlimitedSentinel overrides the dollar amount treated as unlimited.
func WithUnlimitedSentinel(dollars int64) CheckerOption {
	return func(c *Checker) {
		if dollars > 0 {
			c.unlimited = money.FromDollars(dollars)
		}
	}
}

// WithCheckerClock injects a deterministic clock for tests.
func WithCheckerClock(now func() time.Time) CheckerOption {
	return func(c *Checker) { c.now = now }
}

// NewChecker creates a checker. recorder may not be nil; pass a no-op
// recorder if audit is not wanted.
func NewChecker(resolver *Resolver, usage UsageSource, recorder EventRecorder, opts ...CheckerOption) *Checker {
	c := &Checker{
		resolver:  resolver,
		usage:     usage,
		recorder:  recorder,
		unlimited: money.FromDollars(DefaultUnlimitedDollars),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check produces the quota decision for a principal.
func (c *Checker) Check(ctx context.Context, p Principal) *Decision {
	ctx, span := traces.StartSpan(ctx, "quota.check", traces.UserID(p.UserID))
	defer span.End()

	timer := metrics.NewCheckTimer()
	d := c.check(ctx, p)
	timer.Done()

	span.SetAttributes(traces.Outcome(string(d.Status)), traces.Period(d.Period))
	metrics.QuotaChecksTotal.WithLabelValues(string(d.Status)).Inc()

	if c.sink != nil && (d.Status == StatusBlocked || d.WarningLevel != WarningNone) {
		c.sink.PublishDecision(p.UserID, d)
	}
	return d
}

func (c *Checker) check(ctx context.Context, p Principal) *Decision {
	// 1. Resolve. No quota configured is not an error; neither is a broken
	// policy store on the read path.
	rq, err := c.resolver.Resolve(ctx, p)
	if err != nil {
		logging.L(ctx).Error("quota resolution failed, failing open",
			"user_id", p.UserID, "error", err)
		return c.allowUnresolved("quota resolution unavailable")
	}
	if rq == nil {
		return c.allowUnresolved("no quota configured")
	}

	tier := rq.Tier
	info := EventInfo{
		UserID:    p.UserID,
		TierID:    tier.ID,
		TierName:  tier.Name,
		MatchedBy: rq.MatchedBy,
		Email:     p.Email,
		Roles:     p.Roles,
		SessionID: p.SessionID,
	}
	if rq.Assignment != nil {
		info.AssignmentID = rq.Assignment.ID
	}
	if rq.Override != nil {
		info.OverrideID = rq.Override.ID
	}

	// 2. Unlimited sentinel short-circuits before any usage lookup.
	limit := tier.Limit()
	if limit.Cmp(c.unlimited) >= 0 {
		if rq.Override != nil {
			c.recorder.RecordOverrideApplied(ctx, info)
		}
		return &Decision{
			Allowed:        true,
			Status:         StatusAllowedUnlimited,
			Message:        "unlimited quota",
			Tier:           tier,
			MatchedBy:      rq.MatchedBy,
			CurrentUsage:   money.Format(nil),
			PercentageUsed: 0,
			WarningLevel:   WarningNone,
		}
	}

	// 3-4. Period usage; any failure (including timeouts) fails open.
	period := PeriodString(tier.PeriodType, c.now())
	info.Period = period
	usage, err := c.usage.TotalCost(ctx, p.UserID, period)
	if err != nil {
		logging.L(ctx).Error("usage lookup failed, failing open",
			"user_id", p.UserID, "period", period, "error", err)
		metrics.UsageSourceFailuresTotal.Inc()
		d := c.allowUnresolved("usage unavailable, quota not enforced")
		d.Tier = tier
		d.MatchedBy = rq.MatchedBy
		d.Period = period
		return d
	}
	if usage == nil {
		usage = big.NewInt(0)
	}

	// 5-6. Exact percentage and remaining budget.
	pctHundredths := money.BasisHundredths(usage, limit)
	info.CurrentUsage = money.Format(usage)
	info.QuotaLimit = money.Format(limit)
	info.PercentageUsed = money.PercentFloat(pctHundredths)

	d := &Decision{
		Tier:           tier,
		MatchedBy:      rq.MatchedBy,
		Period:         period,
		CurrentUsage:   money.Format(usage),
		QuotaLimit:     money.Format(limit),
		PercentageUsed: money.PercentFloat(pctHundredths),
		Remaining:      money.Format(money.Remaining(limit, usage)),
	}

	// 7. Warning level: 90% first, then the tier's own soft limit.
	warning := WarningNone
	if money.AtLeastPercent(usage, limit, 90) {
		warning = "90%"
	} else if tier.SoftLimitPct > 0 && money.AtLeastPercent(usage, limit, int64(tier.SoftLimitPct)) {
		warning = fmt.Sprintf("%d%%", tier.SoftLimitPct)
	}
	d.WarningLevel = warning

	if rq.Override != nil {
		c.recorder.RecordOverrideApplied(ctx, info)
	}

	// 8. Hard limit.
	if usage.Cmp(limit) >= 0 {
		if tier.ActionOnLimit == ActionBlock {
			c.recorder.RecordBlock(ctx, info)
			d.Allowed = false
			d.Status = StatusBlocked
			d.Message = fmt.Sprintf("quota exceeded: %s of %s used", d.CurrentUsage, d.QuotaLimit)
			d.Remaining = money.Format(nil)
			return d
		}
		// Tier is configured to warn through the limit, not stop traffic.
		c.recorder.RecordWarningIfNeeded(ctx, info, warning)
		d.Allowed = true
		d.Status = StatusAllowedLimitWarn
		d.Message = fmt.Sprintf("quota limit reached (%s), action is warn", d.QuotaLimit)
		return d
	}

	// 9. Allowed, possibly with a warning.
	d.Allowed = true
	if warning != WarningNone {
		c.recorder.RecordWarningIfNeeded(ctx, info, warning)
		d.Status = StatusAllowedWarning
		d.Message = fmt.Sprintf("approaching quota: %.2f%% used", d.PercentageUsed)
	} else {
		d.Status = StatusAllowedWithinLimit
		d.Message = "within quota"
	}
	return d
}

// allowUnresolved is the fail-open decision: allowed, zero usage reported.
func (c *Checker) allowUnresolved(msg string) *Decision {
	return &Decision{
		Allowed:        true,
		Status:         StatusAllowedWithinLimit,
		Message:        msg,
		CurrentUsage:   money.Format(nil),
		PercentageUsed: 0,
		WarningLevel:   WarningNone,
	}
}
