package handler

import (
	"net/http"

	"github.com/aman-churiwal/admission-gateway/internal/middleware"
	"github.com/gin-gonic/gin"
)

// Whoami is the protected endpoint behind the admission pipeline. It echoes
// what the pipeline resolved for the caller.
func Whoami(c *gin.Context) {
	req, ok := middleware.GetAdmission(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Admission context missing",
		})
		return
	}

	tenantID, _ := req.TenantID()
	plan, _ := req.Plan()

	c.JSON(http.StatusOK, gin.H{
		"tenant_id": tenantID,
		"plan":      plan,
		"usage": gin.H{
			"burst_remaining": req.Usage.BurstRemaining,
			"sustained_count": req.Usage.SustainedCount,
			"quota_used":      req.Usage.QuotaUsed,
			"period":          req.Usage.Period,
			"over_quota":      req.Usage.OverQuota,
		},
	})
}
