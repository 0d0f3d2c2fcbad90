package handler

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/maya/rewear/internal/domain"
	"github.com/maya/rewear/internal/service"
)

type matchLister interface {
	ListByAlert(ctx context.Context, alertID string, limit int) ([]domain.SearchAlertMatch, error)
}

// AlertHandler handles search-alert endpoints.
type AlertHandler struct {
	alerts  *service.AlertService
	matches matchLister
}

// NewAlertHandler creates a new alert handler.
func NewAlertHandler(alerts *service.AlertService, matches matchLister) *AlertHandler {
	return &AlertHandler{
		alerts:  alerts,
		matches: matches,
	}
}

// createAlertRequest mirrors service.CreateAlertInput with a base64 reference
// image, since the mobile client speaks JSON end to end.
type createAlertRequest struct {
	UserID      string           `json:"user_id" binding:"required"`
	Description string           `json:"description" binding:"required"`
	MatchMode   domain.MatchMode `json:"match_mode"`

	SimilarityThreshold *float64 `json:"similarity_threshold"`

	MaxPrice     *float64              `json:"max_price"`
	Category     string                `json:"category"`
	ConditionMin domain.ConditionGrade `json:"condition_min"`
	Size         string                `json:"size"`

	TextEmbedding  []float32 `json:"text_embedding"`
	ImageEmbedding []float32 `json:"image_embedding"`
	ReferenceImage string    `json:"reference_image"` // base64

	NotificationEnabled *bool `json:"notification_enabled"`
}

// Create handles POST /api/v1/alerts.
func (h *AlertHandler) Create(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	var refImage []byte
	if req.ReferenceImage != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ReferenceImage)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reference_image is not valid base64"})
			return
		}
		refImage = decoded
	}

	notify := true
	if req.NotificationEnabled != nil {
		notify = *req.NotificationEnabled
	}

	alert, err := h.alerts.Create(c.Request.Context(), &service.CreateAlertInput{
		UserID:              req.UserID,
		Description:         req.Description,
		MatchMode:           req.MatchMode,
		SimilarityThreshold: req.SimilarityThreshold,
		MaxPrice:            req.MaxPrice,
		Category:            req.Category,
		ConditionMin:        req.ConditionMin,
		Size:                req.Size,
		TextEmbedding:       req.TextEmbedding,
		ImageEmbedding:      req.ImageEmbedding,
		ReferenceImage:      refImage,
		NotificationEnabled: notify,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, alert)
}

// updateAlertRequest carries partial alert changes; absent fields are left
// untouched.
type updateAlertRequest struct {
	Description *string           `json:"description"`
	MatchMode   *domain.MatchMode `json:"match_mode"`

	SimilarityThreshold *float64 `json:"similarity_threshold"`

	MaxPrice     *float64               `json:"max_price"`
	ClearPrice   bool                   `json:"clear_max_price"`
	Category     *string                `json:"category"`
	ConditionMin *domain.ConditionGrade `json:"condition_min"`
	Size         *string                `json:"size"`

	ReferenceImage string `json:"reference_image"` // base64

	NotificationEnabled *bool `json:"notification_enabled"`
	IsActive            *bool `json:"is_active"`
}

// Update handles PUT /api/v1/alerts/:id.
func (h *AlertHandler) Update(c *gin.Context) {
	var req updateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	var refImage []byte
	if req.ReferenceImage != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ReferenceImage)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reference_image is not valid base64"})
			return
		}
		refImage = decoded
	}

	input := &service.UpdateAlertInput{
		Description:         req.Description,
		MatchMode:           req.MatchMode,
		SimilarityThreshold: req.SimilarityThreshold,
		Category:            req.Category,
		ConditionMin:        req.ConditionMin,
		Size:                req.Size,
		ReferenceImage:      refImage,
		NotificationEnabled: req.NotificationEnabled,
		IsActive:            req.IsActive,
	}
	if req.MaxPrice != nil || req.ClearPrice {
		input.MaxPriceSet = true
		if !req.ClearPrice {
			input.MaxPrice = req.MaxPrice
		}
	}

	alert, err := h.alerts.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, alert)
}

// Deactivate handles DELETE /api/v1/alerts/:id. Matches and activity history
// are kept.
func (h *AlertHandler) Deactivate(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return
	}

	if err := h.alerts.Deactivate(c.Request.Context(), userID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Get handles GET /api/v1/alerts/:id.
func (h *AlertHandler) Get(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return
	}

	alert, err := h.alerts.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// List handles GET /api/v1/alerts?user_id=.
func (h *AlertHandler) List(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return
	}

	alerts, err := h.alerts.ListForUser(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

// Matches handles GET /api/v1/alerts/:id/matches, ranked by score then
// garment freshness.
func (h *AlertHandler) Matches(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	matches, err := h.matches.ListByAlert(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"matches": matches,
		"total":   len(matches),
	})
}
