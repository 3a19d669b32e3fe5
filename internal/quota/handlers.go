package quota

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/colinmxs/spendgate/internal/idgen"
)

// Handler provides HTTP endpoints for quota checks and administration.
type Handler struct {
	store    Store
	resolver *Resolver
	checker  *Checker
	// principalFrom extracts the authenticated principal from the request;
	// wired by the server so this package stays off the auth middleware.
	principalFrom func(c *gin.Context) (*Principal, bool)
	// onConfigChange, when set, runs after every successful mutation so the
	// server can stream config changes to subscribers.
	onConfigChange func(kind, id string)
}

// NewHandler creates a new quota handler.
func NewHandler(store Store, resolver *Resolver, checker *Checker, principalFrom func(c *gin.Context) (*Principal, bool)) *Handler {
	return &Handler{
		store:         store,
		resolver:      resolver,
		checker:       checker,
		principalFrom: principalFrom,
	}
}

// OnConfigChange registers a callback invoked after each successful tier,
// assignment, or override mutation.
func (h *Handler) OnConfigChange(fn func(kind, id string)) {
	h.onConfigChange = fn
}

func (h *Handler) configChanged(kind, id string) {
	if h.onConfigChange != nil {
		h.onConfigChange(kind, id)
	}
}

// RegisterCheckRoutes sets up the enforcement surface (authenticated group).
func (h *Handler) RegisterCheckRoutes(r *gin.RouterGroup) {
	r.POST("/check", h.Check)
	r.GET("/quota", h.GetQuota)
}

// RegisterAdminRoutes sets up quota administration routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/tiers", h.CreateTier)
	r.GET("/tiers", h.ListTiers)
	r.GET("/tiers/:id", h.GetTier)
	r.PUT("/tiers/:id", h.UpdateTier)
	r.DELETE("/tiers/:id", h.DeleteTier)

	r.POST("/assignments", h.CreateAssignment)
	r.GET("/assignments", h.ListAssignments)
	r.GET("/assignments/:id", h.GetAssignment)
	r.PUT("/assignments/:id", h.UpdateAssignment)
	r.DELETE("/assignments/:id", h.DeleteAssignment)

	r.POST("/overrides", h.CreateOverride)
	r.GET("/users/:userId/overrides", h.ListOverrides)
	r.GET("/overrides/:id", h.GetOverride)
	r.DELETE("/overrides/:id", h.DeleteOverride)

	r.POST("/cache/invalidate", h.InvalidateCache)
}

// Check handles POST /v1/check
func (h *Handler) Check(c *gin.Context) {
	p, ok := h.principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Bearer token required",
		})
		return
	}

	decision := h.checker.Check(c.Request.Context(), *p)
	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusTooManyRequests
	}
	c.JSON(status, gin.H{"decision": decision})
}

// GetQuota handles GET /v1/quota — resolution only, no usage lookup.
func (h *Handler) GetQuota(c *gin.Context) {
	p, ok := h.principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Bearer token required",
		})
		return
	}

	rq, err := h.resolver.Resolve(c.Request.Context(), *p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	if rq == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No quota configured for this user",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"quota": rq})
}

// --- tiers ---

type tierRequest struct {
	Name          string `json:"name" binding:"required"`
	MonthlyLimit  string `json:"monthlyLimit" binding:"required"`
	DailyLimit    string `json:"dailyLimit"`
	PeriodType    string `json:"periodType"`
	SoftLimitPct  *int   `json:"softLimitPct"`
	ActionOnLimit string `json:"actionOnLimit"`
	Enabled       *bool  `json:"enabled"`
	CreatedBy     string `json:"createdBy"`
}

func (r *tierRequest) toTier(id string, now time.Time) *Tier {
	t := &Tier{
		ID:            id,
		Name:          r.Name,
		MonthlyLimit:  r.MonthlyLimit,
		DailyLimit:    r.DailyLimit,
		PeriodType:    PeriodType(r.PeriodType),
		SoftLimitPct:  DefaultSoftLimitPct,
		ActionOnLimit: ActionBlock,
		Enabled:       true,
		CreatedBy:     r.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if t.PeriodType == "" {
		t.PeriodType = PeriodMonthly
	}
	if r.SoftLimitPct != nil {
		t.SoftLimitPct = *r.SoftLimitPct
	}
	if r.ActionOnLimit != "" {
		t.ActionOnLimit = LimitAction(r.ActionOnLimit)
	}
	if r.Enabled != nil {
		t.Enabled = *r.Enabled
	}
	return t
}

// CreateTier handles POST /v1/admin/tiers
func (h *Handler) CreateTier(c *gin.Context) {
	var req tierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	tier := req.toTier(idgen.WithPrefix("tier_"), time.Now().UTC())
	if err := tier.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.store.CreateTier(c.Request.Context(), tier); err != nil {
		if errors.Is(err, ErrDuplicateTier) {
			conflict(c, "Tier already exists")
			return
		}
		internalError(c, err)
		return
	}

	h.resolver.InvalidateAll()
	h.configChanged("tier", tier.ID)
	c.JSON(http.StatusCreated, gin.H{"tier": tier})
}

// ListTiers handles GET /v1/admin/tiers
func (h *Handler) ListTiers(c *gin.Context) {
	tiers, err := h.store.ListTiers(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tiers": tiers, "count": len(tiers)})
}

// GetTier handles GET /v1/admin/tiers/:id
func (h *Handler) GetTier(c *gin.Context) {
	tier, err := h.store.GetTier(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTierNotFound) {
			notFound(c, "Tier not found")
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tier": tier})
}

// UpdateTier handles PUT /v1/admin/tiers/:id
func (h *Handler) UpdateTier(c *gin.Context) {
	var req tierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	id := c.Param("id")
	existing, err := h.store.GetTier(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTierNotFound) {
			notFound(c, "Tier not found")
			return
		}
		internalError(c, err)
		return
	}

	tier := req.toTier(id, time.Now().UTC())
	tier.CreatedAt = existing.CreatedAt
	if tier.CreatedBy == "" {
		tier.CreatedBy = existing.CreatedBy
	}
	if err := tier.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.store.UpdateTier(c.Request.Context(), tier); err != nil {
		internalError(c, err)
		return
	}

	h.resolver.InvalidateAll()
	h.configChanged("tier", tier.ID)
	c.JSON(http.StatusOK, gin.H{"tier": tier})
}

// DeleteTier handles DELETE /v1/admin/tiers/:id
func (h *Handler) DeleteTier(c *gin.Context) {
	err := h.store.DeleteTier(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrTierNotFound):
			notFound(c, "Tier not found")
		case errors.Is(err, ErrTierReferenced):
			conflict(c, "Tier is referenced by assignments; delete them first")
		default:
			internalError(c, err)
		}
		return
	}

	h.resolver.InvalidateAll()
	h.configChanged("tier", c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// --- assignments ---

type assignmentRequest struct {
	TierID    string `json:"tierId" binding:"required"`
	Kind      string `json:"kind" binding:"required"`
	Subject   string `json:"subject"`
	Priority  *int   `json:"priority"`
	Enabled   *bool  `json:"enabled"`
	CreatedBy string `json:"createdBy"`
}

// CreateAssignment handles POST /v1/admin/assignments
func (h *Handler) CreateAssignment(c *gin.Context) {
	var req assignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	a, err := newAssignment(req.TierID, AssignmentKind(req.Kind), req.Subject)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	a.ID = idgen.WithPrefix("asg_")
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.CreatedBy = req.CreatedBy
	if req.Priority != nil {
		a.Priority = *req.Priority
	}
	if req.Enabled != nil {
		a.Enabled = *req.Enabled
	}
	if err := a.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.store.CreateAssignment(c.Request.Context(), a); err != nil {
		switch {
		case errors.Is(err, ErrUnknownTier):
			badRequest(c, "Assignment references an unknown tier")
		case errors.Is(err, ErrDuplicateDirect):
			conflict(c, "User already has an enabled direct assignment")
		default:
			internalError(c, err)
		}
		return
	}

	h.invalidateFor(a)
	h.configChanged("assignment", a.ID)
	c.JSON(http.StatusCreated, gin.H{"assignment": a})
}

// ListAssignments handles GET /v1/admin/assignments?kind=email_domain
func (h *Handler) ListAssignments(c *gin.Context) {
	kind := AssignmentKind(c.Query("kind"))
	if kind == "" {
		badRequest(c, "kind query parameter is required")
		return
	}

	assignments, err := h.store.KindAssignments(c.Request.Context(), kind)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": assignments, "count": len(assignments)})
}

// GetAssignment handles GET /v1/admin/assignments/:id
func (h *Handler) GetAssignment(c *gin.Context) {
	a, err := h.store.GetAssignment(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrAssignmentNotFound) {
			notFound(c, "Assignment not found")
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignment": a})
}

// UpdateAssignment handles PUT /v1/admin/assignments/:id
func (h *Handler) UpdateAssignment(c *gin.Context) {
	var req assignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	id := c.Param("id")
	existing, err := h.store.GetAssignment(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrAssignmentNotFound) {
			notFound(c, "Assignment not found")
			return
		}
		internalError(c, err)
		return
	}

	a := &Assignment{
		ID:        id,
		TierID:    req.TierID,
		Kind:      AssignmentKind(req.Kind),
		Subject:   req.Subject,
		Priority:  existing.Priority,
		Enabled:   existing.Enabled,
		CreatedBy: existing.CreatedBy,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
	if req.Priority != nil {
		a.Priority = *req.Priority
	}
	if req.Enabled != nil {
		a.Enabled = *req.Enabled
	}
	if err := a.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.store.UpdateAssignment(c.Request.Context(), a); err != nil {
		switch {
		case errors.Is(err, ErrUnknownTier):
			badRequest(c, "Assignment references an unknown tier")
		case errors.Is(err, ErrDuplicateDirect):
			conflict(c, "User already has an enabled direct assignment")
		default:
			internalError(c, err)
		}
		return
	}

	// The old rule may have matched different users than the new one.
	h.invalidateFor(existing)
	h.invalidateFor(a)
	h.configChanged("assignment", a.ID)
	c.JSON(http.StatusOK, gin.H{"assignment": a})
}

// DeleteAssignment handles DELETE /v1/admin/assignments/:id
func (h *Handler) DeleteAssignment(c *gin.Context) {
	id := c.Param("id")
	existing, err := h.store.GetAssignment(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrAssignmentNotFound) {
			notFound(c, "Assignment not found")
			return
		}
		internalError(c, err)
		return
	}

	if err := h.store.DeleteAssignment(c.Request.Context(), id); err != nil {
		internalError(c, err)
		return
	}

	h.invalidateFor(existing)
	h.configChanged("assignment", existing.ID)
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// invalidateFor drops exactly the cache entries an assignment change can
// affect: one user for direct assignments, everyone for rule changes.
func (h *Handler) invalidateFor(a *Assignment) {
	if a.Kind == KindDirectUser {
		h.resolver.Invalidate(a.Subject)
		return
	}
	h.resolver.InvalidateAll()
}

// --- overrides ---

type overrideRequest struct {
	UserID       string    `json:"userId" binding:"required"`
	Type         string    `json:"type" binding:"required"`
	MonthlyLimit string    `json:"monthlyLimit"`
	DailyLimit   string    `json:"dailyLimit"`
	ValidFrom    time.Time `json:"validFrom"`
	ValidUntil   time.Time `json:"validUntil"`
	Reason       string    `json:"reason"`
	CreatedBy    string    `json:"createdBy"`
}

// CreateOverride handles POST /v1/admin/overrides
func (h *Handler) CreateOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	now := time.Now().UTC()
	o := &Override{
		ID:           idgen.WithPrefix("ovr_"),
		UserID:       req.UserID,
		Type:         OverrideType(req.Type),
		MonthlyLimit: req.MonthlyLimit,
		DailyLimit:   req.DailyLimit,
		ValidFrom:    req.ValidFrom,
		ValidUntil:   req.ValidUntil,
		Reason:       req.Reason,
		CreatedBy:    req.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.store.CreateOverride(c.Request.Context(), o); err != nil {
		internalError(c, err)
		return
	}

	h.resolver.Invalidate(o.UserID)
	h.configChanged("override", o.ID)
	c.JSON(http.StatusCreated, gin.H{"override": o})
}

// ListOverrides handles GET /v1/admin/users/:userId/overrides
func (h *Handler) ListOverrides(c *gin.Context) {
	overrides, err := h.store.ListOverrides(c.Request.Context(), c.Param("userId"))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"overrides": overrides, "count": len(overrides)})
}

// GetOverride handles GET /v1/admin/overrides/:id
func (h *Handler) GetOverride(c *gin.Context) {
	o, err := h.store.GetOverride(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrOverrideNotFound) {
			notFound(c, "Override not found")
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"override": o})
}

// DeleteOverride handles DELETE /v1/admin/overrides/:id
func (h *Handler) DeleteOverride(c *gin.Context) {
	o, err := h.store.GetOverride(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrOverrideNotFound) {
			notFound(c, "Override not found")
			return
		}
		internalError(c, err)
		return
	}

	if err := h.store.DeleteOverride(c.Request.Context(), o.ID); err != nil {
		internalError(c, err)
		return
	}

	h.resolver.Invalidate(o.UserID)
	h.configChanged("override", o.ID)
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// --- cache ---

type invalidateRequest struct {
	UserID string `json:"userId"`
}

// InvalidateCache handles POST /v1/admin/cache/invalidate
// An empty body or empty userId clears the whole cache.
func (h *Handler) InvalidateCache(c *gin.Context) {
	var req invalidateRequest
	_ = c.ShouldBindJSON(&req)

	if req.UserID != "" {
		h.resolver.Invalidate(req.UserID)
	} else {
		h.resolver.InvalidateAll()
	}

	c.JSON(http.StatusOK, gin.H{"invalidated": true, "userId": req.UserID})
}

// --- shared responses ---

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": msg})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": msg})
}

func conflict(c *gin.Context, msg string) {
	c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": msg})
}

func internalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
}
