package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/maya/rewear/internal/service"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	activity *service.ActivityLogger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(activity *service.ActivityLogger) *HealthHandler {
	return &HealthHandler{activity: activity}
}

// Health returns the health status of the service plus the activity-logger
// counters, which surface silent drops and sink failures.
func (h *HealthHandler) Health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.activity != nil {
		resp["activity"] = h.activity.Counters()
	}
	c.JSON(http.StatusOK, resp)
}
