package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opentreehole/treehole/internal/monitoring"
)

// HealthHandler serves liveness and readiness reports.
type HealthHandler struct {
	manager *monitoring.HealthManager
}

func NewHealthHandler(manager *monitoring.HealthManager) *HealthHandler {
	if manager == nil {
		manager = monitoring.NewHealthManager()
	}
	return &HealthHandler{manager: manager}
}

// Summary GET /health
func (h *HealthHandler) Summary(c *gin.Context) {
	report := h.manager.EvaluateReadiness(requestContext(c))
	c.JSON(reportStatus(report), gin.H{
		"success":    report.Success,
		"status":     report.Status,
		"checked_at": time.Now().UTC(),
	})
}

// Live GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	writeHealthReport(c, h.manager.EvaluateLiveness(requestContext(c)))
}

// Ready GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	writeHealthReport(c, h.manager.EvaluateReadiness(requestContext(c)))
}

func writeHealthReport(c *gin.Context, report monitoring.HealthReport) {
	c.JSON(reportStatus(report), gin.H{
		"success":    report.Success,
		"status":     report.Status,
		"checks":     report.Checks,
		"checked_at": time.Now().UTC(),
	})
}

// Degraded dependencies still serve traffic; only down fails the probe.
func reportStatus(report monitoring.HealthReport) int {
	if report.Status == monitoring.StatusDown {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
