package handler

import (
	"net/http"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/admission-gateway/internal/healthcheck"
	"github.com/gin-gonic/gin"
)

// Handles system-related endpoints
type SystemHandler struct {
	checker  *healthcheck.Checker
	breakers map[string]*circuitbreaker.CircuitBreaker
	started  time.Time
}

func NewSystemHandler(checker *healthcheck.Checker, breakers map[string]*circuitbreaker.CircuitBreaker) *SystemHandler {
	return &SystemHandler{
		checker:  checker,
		breakers: breakers,
		started:  time.Now(),
	}
}

// Health reports the last probe results. Anything short of healthy is a 503
// because admission fails closed without its stores.
func (h *SystemHandler) Health(c *gin.Context) {
	overall := h.checker.OverallHealth()

	statusCode := http.StatusOK
	if overall != healthcheck.Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overall.String(),
		"service":   "admission-gateway",
		"uptime":    time.Since(h.started).Seconds(),
		"timestamp": time.Now().Unix(),
		"checks":    h.checker.GetAllStatus(),
	})
}

// Returns the status of all circuit breakers
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	statuses := make(map[string]circuitbreaker.Snapshot, len(h.breakers))
	for name, cb := range h.breakers {
		statuses[name] = cb.Snapshot()
	}

	c.JSON(http.StatusOK, statuses)
}

// Manually resets a circuit breaker
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	name := c.Param("name")

	cb, exists := h.breakers[name]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Circuit breaker not found",
		})
		return
	}

	cb.Reset()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"breaker": name,
	})
}
