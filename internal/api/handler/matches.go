package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

type matchStateStore interface {
	MarkRead(ctx context.Context, id string) error
	MarkClicked(ctx context.Context, id string) error
}

// MatchHandler handles notification-state transitions reported by the client.
type MatchHandler struct {
	matches matchStateStore
}

// NewMatchHandler creates a new match handler.
func NewMatchHandler(matches matchStateStore) *MatchHandler {
	return &MatchHandler{matches: matches}
}

// MarkRead handles POST /api/v1/matches/:id/read. Only sent matches can move
// to read.
func (h *MatchHandler) MarkRead(c *gin.Context) {
	if err := h.matches.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkClicked handles POST /api/v1/matches/:id/clicked. Clicking implies
// reading, so the read timestamp is backfilled when absent.
func (h *MatchHandler) MarkClicked(c *gin.Context) {
	if err := h.matches.MarkClicked(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
