package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/carecoord/internal/monitoring"
	"github.com/charlesng35/carecoord/pkg/response"
)

// Health runs the readiness probes. Any probe not up answers 503 with the full report.
func Health(manager *monitoring.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			response.Success(c, http.StatusOK, monitoring.Report{Status: monitoring.StatusUp, Checks: []monitoring.Result{}})
			return
		}
		report := manager.Evaluate(requestContext(c))
		code := http.StatusOK
		if !report.Healthy() {
			code = http.StatusServiceUnavailable
		}
		response.Success(c, code, report)
	}
}
