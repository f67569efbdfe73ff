package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/craftywatch/hibernate/internal/monitor"
)

// StatusHandler serves GET /status: a snapshot of every managed server's
// machine state, per spec.md §6.
type StatusHandler struct {
	monitor *monitor.Monitor
}

func NewStatusHandler(mon *monitor.Monitor) *StatusHandler {
	return &StatusHandler{monitor: mon}
}

// GetStatus handles GET /status.
func (h *StatusHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"servers": h.monitor.Status()})
}
