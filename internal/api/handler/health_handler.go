package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health handles GET /health
// Every registered dependency must answer within two seconds
func Health(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(deps.HealthChecks))
		for name, checker := range deps.HealthChecks {
			if err := checker.HealthCheck(ctx); err != nil {
				deps.Logger.Warn("Health check failed",
					slog.String("dependency", name),
					slog.String("error", err.Error()))
				checks[name] = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "healthy"
		}

		overall := "healthy"
		if status != http.StatusOK {
			overall = "unhealthy"
		}

		c.JSON(status, gin.H{
			"status":  overall,
			"service": deps.ServiceName,
			"checks":  checks,
		})
	}
}
