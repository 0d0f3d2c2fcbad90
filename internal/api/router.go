package api

import (
	"github.com/gin-gonic/gin"
	"github.com/maya/rewear/internal/api/handler"
	"github.com/maya/rewear/internal/api/middleware"
	"github.com/maya/rewear/internal/repository"
	"github.com/maya/rewear/internal/service"
)

// Deps collects everything the HTTP surface needs.
type Deps struct {
	Embeddings *service.EmbeddingService
	Alerts     *service.AlertService
	Activity   *service.ActivityLogger

	Garments     *repository.GarmentRepository
	Matches      *repository.MatchRepository
	ActivityRepo *repository.ActivityRepository

	CORS middleware.CORSConfig
}

// SetupRouter configures the Gin router with all routes.
func SetupRouter(deps *Deps, mode string) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(deps.CORS))

	healthHandler := handler.NewHealthHandler(deps.Activity)
	embeddingHandler := handler.NewEmbeddingHandler(deps.Embeddings, deps.Garments)
	alertHandler := handler.NewAlertHandler(deps.Alerts, deps.Matches)
	matchHandler := handler.NewMatchHandler(deps.Matches)
	activityHandler := handler.NewActivityHandler(deps.ActivityRepo)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// Embedding ingest from the attribute pipeline
		v1.POST("/embeddings", embeddingHandler.Ingest)
		v1.DELETE("/embeddings/:garment_id", embeddingHandler.DeleteGarment)

		// Search alerts
		v1.POST("/alerts", alertHandler.Create)
		v1.GET("/alerts", alertHandler.List)
		v1.GET("/alerts/:id", alertHandler.Get)
		v1.PUT("/alerts/:id", alertHandler.Update)
		v1.DELETE("/alerts/:id", alertHandler.Deactivate)
		v1.GET("/alerts/:id/matches", alertHandler.Matches)

		// Notification state reported back by the client
		v1.POST("/matches/:id/read", matchHandler.MarkRead)
		v1.POST("/matches/:id/clicked", matchHandler.MarkClicked)

		// AI audit trail
		v1.GET("/activity", activityHandler.Query)
	}

	return r
}
