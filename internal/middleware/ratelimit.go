package middleware

import (
	"strconv"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/gin-gonic/gin"
)

// setUsageHeaders exposes the limiter state observed for this request. Only
// limiters that actually ran contribute headers.
func setUsageHeaders(c *gin.Context, usage admission.Usage) {
	if usage.BurstLimit > 0 {
		c.Header("X-RateLimit-Limit", strconv.FormatInt(usage.BurstLimit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(usage.BurstRemaining, 10))
	}

	if usage.Period != "" {
		c.Header("X-Quota-Limit", strconv.FormatInt(usage.QuotaLimit, 10))
		c.Header("X-Quota-Used", strconv.FormatInt(usage.QuotaUsed, 10))
	}
}

func abortWithRejection(c *gin.Context, rej *admission.Rejection) {
	if rej.RetryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(int64(rej.RetryAfter/time.Second), 10))
	}

	body := gin.H{
		"error": rej.Message,
		"code":  rej.Code,
	}
	for k, v := range rej.Details {
		body[k] = v
	}

	c.AbortWithStatusJSON(rej.Status, body)
}
