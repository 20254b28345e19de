package obs

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck probes one dependency by name (store, broker).
type HealthCheck struct {
	Name  string
	Probe func() error
}

// HealthHandlers exposes endpoints for liveness and readiness checks.
// Readiness runs every registered check and names the first failing
// component, so a not-ready instance is attributable at a glance.
type HealthHandlers struct {
	Checks []HealthCheck
}

func (h HealthHandlers) Livez(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h HealthHandlers) Readyz(c *gin.Context) {
	for _, check := range h.Checks {
		if check.Probe == nil {
			continue
		}
		if err := check.Probe(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not ready",
				"component": check.Name,
				"error":     err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
