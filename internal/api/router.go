package api

import (
	"github.com/gin-gonic/gin"

	"github.com/craftywatch/hibernate/internal/middleware"
)

// SetupRouter wires the watcher's small HTTP surface: the endpoints
// consumed by the external health collaborator (spec.md §6) plus the
// dashboard's live status stream.
func SetupRouter(
	healthHandler *HealthHandler,
	statusHandler *StatusHandler,
	metricsHandler *MetricsHandler,
	dashboard *DashboardWebSocket,
	debug bool,
) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.RequestLogger())

	router.GET("/health", healthHandler.HealthCheck)
	router.HEAD("/health", healthHandler.HealthCheck)

	router.GET("/status", statusHandler.GetStatus)
	router.GET("/status/stream", dashboard.HandleConnection)

	router.GET("/metrics", metricsHandler.ServeMetrics)

	return router
}
