package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/maya/rewear/internal/domain"
	"github.com/maya/rewear/internal/service"
)

type garmentUpserter interface {
	Upsert(ctx context.Context, garment *domain.Garment) error
}

// EmbeddingHandler receives vectors from the external attribute pipeline.
type EmbeddingHandler struct {
	embeddings *service.EmbeddingService
	garments   garmentUpserter
}

// NewEmbeddingHandler creates a new embedding ingest handler.
func NewEmbeddingHandler(embeddings *service.EmbeddingService, garments garmentUpserter) *EmbeddingHandler {
	return &EmbeddingHandler{
		embeddings: embeddings,
		garments:   garments,
	}
}

// ingestRequest is one pipeline delivery: the vector, and optionally the
// garment attributes so listings flow in alongside their embeddings.
type ingestRequest struct {
	Garment *domain.Garment `json:"garment,omitempty"`

	GarmentID       string    `json:"garment_id" binding:"required"`
	ImageOrdinal    int       `json:"image_ordinal"`
	Vector          []float32 `json:"vector" binding:"required"`
	IsPrimary       bool      `json:"is_primary"`
	ModelVersion    string    `json:"model_version" binding:"required"`
	BlurScore       float64   `json:"blur_score"`
	BrightnessScore float64   `json:"brightness_score"`
}

// Ingest handles POST /api/v1/embeddings.
func (h *EmbeddingHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	ctx := c.Request.Context()

	if req.Garment != nil {
		if req.Garment.ID == "" {
			req.Garment.ID = req.GarmentID
		}
		if err := h.garments.Upsert(ctx, req.Garment); err != nil {
			writeError(c, err)
			return
		}
	}

	emb := &domain.GarmentEmbedding{
		GarmentID:       req.GarmentID,
		ImageOrdinal:    req.ImageOrdinal,
		Vector:          req.Vector,
		IsPrimary:       req.IsPrimary,
		ModelVersion:    req.ModelVersion,
		BlurScore:       req.BlurScore,
		BrightnessScore: req.BrightnessScore,
	}
	if err := h.embeddings.Ingest(ctx, emb); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"garment_id":    req.GarmentID,
		"image_ordinal": req.ImageOrdinal,
	})
}

// DeleteGarment handles DELETE /api/v1/embeddings/:garment_id, removing a
// deleted listing's vectors and index entries.
func (h *EmbeddingHandler) DeleteGarment(c *gin.Context) {
	garmentID := c.Param("garment_id")
	if err := h.embeddings.RemoveGarment(c.Request.Context(), garmentID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
