package usage

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/colinmxs/spendgate/internal/idgen"
	"github.com/colinmxs/spendgate/internal/money"
	"github.com/colinmxs/spendgate/internal/validation"
)

// Handler provides HTTP endpoints for recording and inspecting usage.
type Handler struct {
	store Store
	// onReset runs after a successful reset (audit event, cache drop).
	onReset func(c *gin.Context, userID, period string)
}

// NewHandler creates a new usage handler. onReset may be nil.
func NewHandler(store Store, onReset func(c *gin.Context, userID, period string)) *Handler {
	return &Handler{store: store, onReset: onReset}
}

// RegisterRoutes sets up usage ingestion routes (authenticated group).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/usage", h.RecordUsage)
}

// RegisterAdminRoutes sets up admin usage routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/users/:userId/usage", h.GetUsage)
	r.POST("/users/:userId/usage/reset", h.ResetUsage)
}

type recordRequest struct {
	UserID      string `json:"userId" binding:"required"`
	Period      string `json:"period" binding:"required"`
	Cost        string `json:"cost" binding:"required"`
	Description string `json:"description"`
}

// RecordUsage handles POST /v1/usage
func (h *Handler) RecordUsage(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if _, ok := money.Parse(req.Cost); !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "cost must be a non-negative decimal amount",
		})
		return
	}
	if !validation.IsValidPeriod(req.Period) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "period must be YYYY-MM or YYYY-MM-DD",
		})
		return
	}

	rec := &Record{
		ID:          idgen.WithPrefix("usg_"),
		UserID:      req.UserID,
		Period:      req.Period,
		Cost:        req.Cost,
		Description: validation.SanitizeString(req.Description, validation.MaxStringLength),
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.Record(c.Request.Context(), rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"record": rec})
}

// GetUsage handles GET /v1/admin/users/:userId/usage?period=2026-08
func (h *Handler) GetUsage(c *gin.Context) {
	userID := c.Param("userId")
	period := c.Query("period")
	if period == "" {
		period = time.Now().UTC().Format("2006-01")
	} else if !validation.IsValidPeriod(period) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "period must be YYYY-MM or YYYY-MM-DD",
		})
		return
	}

	total, err := h.store.TotalCost(c.Request.Context(), userID, period)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":    userID,
		"period":    period,
		"totalCost": money.Format(total),
	})
}

// ResetUsage handles POST /v1/admin/users/:userId/usage/reset?period=2026-08
// An absent period clears every period for the user.
func (h *Handler) ResetUsage(c *gin.Context) {
	userID := c.Param("userId")
	period := c.Query("period")

	if err := h.store.Reset(c.Request.Context(), userID, period); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	if h.onReset != nil {
		h.onReset(c, userID, period)
	}

	c.JSON(http.StatusOK, gin.H{
		"userId": userID,
		"period": period,
		"reset":  true,
	})
}
