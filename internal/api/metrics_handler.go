package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler serves the Prometheus text exposition format at GET
// /metrics, backed by the collectors registered in internal/metrics.
type MetricsHandler struct {
	handler gin.HandlerFunc
}

// NewMetricsHandler wraps promhttp's default-registry handler for gin.
func NewMetricsHandler() *MetricsHandler {
	h := promhttp.Handler()
	return &MetricsHandler{
		handler: func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) },
	}
}

// ServeMetrics handles GET /metrics.
func (h *MetricsHandler) ServeMetrics(c *gin.Context) {
	h.handler(c)
}
