package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"scholargate/internal/services"
)

// HealthHandler serves the gateway's liveness and detailed health
// endpoints (spec §6: GET /health, GET /health/detailed).
type HealthHandler struct {
	healthService services.HealthServiceInterface
	logger        *slog.Logger
	startTime     time.Time
}

func NewHealthHandler(healthService services.HealthServiceInterface, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		healthService: healthService,
		logger:        logger,
		startTime:     time.Now(),
	}
}

// CheckResult is the outcome of one dependency's health probe.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Health handles GET /health: a cheap liveness probe that never touches
// a backing store.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	})
}

// Detailed handles GET /health/detailed: probes every backing tier and
// reports an aggregate status alongside each dependency's result.
func (h *HealthHandler) Detailed(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	checks := map[string]CheckResult{
		"database":  toResult(h.healthService.DatabaseHealth(ctx)),
		"messaging": toResult(h.healthService.MessagingHealth(ctx)),
		"upstream":  toResult(h.healthService.UpstreamHealth(ctx)),
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if checks["database"].Status != "healthy" {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else if checks["messaging"].Status != "healthy" || checks["upstream"].Status != "healthy" {
		status = "degraded"
	}

	info, err := h.healthService.GetSystemInfo(ctx)
	if err != nil {
		h.logger.Warn("system info unavailable", slog.String("error", err.Error()))
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"checks":    checks,
		"system":    info,
	})
}

func toResult(err error) CheckResult {
	if err != nil {
		return CheckResult{Status: "unhealthy", Error: err.Error()}
	}
	return CheckResult{Status: "healthy"}
}

// RegisterRoutes registers the health endpoints.
func (h *HealthHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/health/detailed", h.Detailed)
}
