package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"scholargate/internal/api/handlers"
	"scholargate/internal/api/middleware"
	"scholargate/internal/services"
	"scholargate/internal/upstream"
)

// NewRouter wires the gateway's thin HTTP shell (spec §6): the Paper
// Service's read/search/batch/cache-maintenance surface, the raw
// upstream pass-through proxy, and health. The HTTP surface itself is
// out of the core - the core only needs a caller.
func NewRouter(
	paperService services.PaperServiceInterface,
	healthService services.HealthServiceInterface,
	upstreamClient *upstream.Client,
	logger *slog.Logger,
) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CorsMiddleware(middleware.DefaultCorsConfig()))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.StructuredLoggingMiddleware(logger))
	router.Use(gin.Recovery())

	healthHandler := handlers.NewHealthHandler(healthService, logger)
	healthHandler.RegisterRoutes(router)

	paperHandler := handlers.NewPaperHandler(paperService, logger)
	paper := router.Group("/paper")
	{
		paper.GET("/search", paperHandler.Search)
		paper.POST("/batch", paperHandler.GetPapersBatch)
		paper.GET("/:id", paperHandler.GetPaper)
		paper.GET("/:id/citations", paperHandler.GetCitations)
		paper.GET("/:id/references", paperHandler.GetReferences)
		paper.DELETE("/:id/cache", paperHandler.ClearCache)
		paper.POST("/:id/cache/warm", paperHandler.WarmCache)
	}

	proxyHandler := handlers.NewProxyHandler(upstreamClient, logger)
	proxyHandler.RegisterRoutes(router)

	router.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"service": "scholargate",
			"status":  "running",
			"health":  "/health",
		})
	})

	return router
}
