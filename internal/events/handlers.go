package events

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/colinmxs/spendgate/internal/pagination"
)

// Handler provides HTTP endpoints for reading the audit trail.
type Handler struct {
	store Store
}

// NewHandler creates a new events handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up audit trail routes (admin-only group).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/events/:id", h.GetEvent)
	r.GET("/events", h.ListEvents)
	r.GET("/users/:userId/events", h.ListUserEvents)
}

// GetEvent handles GET /v1/admin/events/:id
func (h *Handler) GetEvent(c *gin.Context) {
	id := c.Param("id")

	event, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Event not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"event": event})
}

// ListEvents handles GET /v1/admin/events?type=quota_block&limit=50
func (h *Handler) ListEvents(c *gin.Context) {
	t := EventType(c.Query("type"))
	if t == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "type query parameter is required",
		})
		return
	}

	events, err := h.store.ListByType(c.Request.Context(), t, parseLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// ListUserEvents handles GET /v1/admin/users/:userId/events?cursor=&limit=
// Pages are keyed by an opaque cursor over (created_at, id).
func (h *Handler) ListUserEvents(c *gin.Context) {
	userID := c.Param("userId")
	limit := parseLimit(c)

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid cursor",
		})
		return
	}

	// Fetch one extra row to learn whether another page exists.
	var events []*Event
	if cursor != nil {
		events, err = h.store.ListByUserBefore(c.Request.Context(), userID, cursor.CreatedAt, cursor.ID, limit+1)
	} else {
		events, err = h.store.ListByUser(c.Request.Context(), userID, limit+1)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	events, next, hasMore := pagination.ComputePage(events, limit, func(e *Event) (time.Time, string) {
		return e.CreatedAt, e.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"events":     events,
		"count":      len(events),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

func parseLimit(c *gin.Context) int {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}
	return limit
}
