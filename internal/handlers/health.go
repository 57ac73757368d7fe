package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/santaserver/santaserver/internal/monitoring"
	"github.com/santaserver/santaserver/pkg/logger"
	"github.com/santaserver/santaserver/pkg/response"
)

const serviceName = "santaserver"

// Health reports liveness and answers 503 when a required dependency is down.
func Health(health *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := health.Evaluate(requestContext(c))
		if !report.Healthy {
			logFailedChecks(report)
			response.JSON(c, http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": serviceName,
			})
			return
		}
		response.JSON(c, http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
		})
	}
}

// Readiness returns the per-dependency probe report.
func Readiness(health *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := health.Evaluate(requestContext(c))
		status := http.StatusOK
		if !report.Healthy {
			logFailedChecks(report)
			status = http.StatusServiceUnavailable
		}
		response.JSON(c, status, gin.H{
			"service": serviceName,
			"status":  report.Status,
			"checks":  report.Checks,
		})
	}
}

func logFailedChecks(report monitoring.HealthReport) {
	log := logger.WithModule("health")
	for _, check := range report.Checks {
		if check.Status != monitoring.StatusUp {
			log.Warn("health probe failed",
				zap.String("component", check.Component),
				zap.String("status", string(check.Status)),
				zap.String("details", check.Details),
			)
		}
	}
}
