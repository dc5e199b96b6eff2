package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger(logger))

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		batches := v1.Group("/batches")
		{
			batches.POST("", handler.CreateBatch)
			batches.GET("", handler.ListBatches)
			batches.GET("/:id", handler.GetBatch)
			batches.POST("/:id/run", handler.RunBatch)
			batches.POST("/:id/cancel", handler.CancelBatch)
			batches.GET("/:id/export", handler.ExportBatch)
			batches.POST("/:id/items/:index/analyze", handler.AnalyzeItem)
		}
	}

	return router
}
