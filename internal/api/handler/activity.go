package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maya/rewear/internal/domain"
	"github.com/maya/rewear/internal/repository"
)

type activityQuerier interface {
	Query(ctx context.Context, q repository.ActivityQuery) ([]domain.AIActivityLog, error)
}

// ActivityHandler exposes the AI audit trail.
type ActivityHandler struct {
	activity activityQuerier
}

// NewActivityHandler creates a new activity handler.
func NewActivityHandler(activity activityQuerier) *ActivityHandler {
	return &ActivityHandler{activity: activity}
}

// Query handles GET /api/v1/activity with optional user_id, kind, from, to
// (RFC 3339) and limit filters.
func (h *ActivityHandler) Query(c *gin.Context) {
	q := repository.ActivityQuery{
		UserID: c.Query("user_id"),
		Kind:   domain.ActivityKind(c.Query("kind")),
	}

	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
		q.From = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
		q.To = t
	}
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		q.Limit = parsed
	}

	entries, err := h.activity.Query(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
	})
}
