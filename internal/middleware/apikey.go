package middleware

import (
	"context"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/gin-gonic/gin"
)

const (
	AdmissionKey = "admission"
	TenantIDKey  = "tenant_id"
)

// Admitter runs the admission pipeline for one credential.
type Admitter interface {
	Admit(ctx context.Context, credential string) (*admission.Request, error)
}

// Admission reads the API key from header and lets the request through only
// if every admission stage accepts it.
func Admission(pipeline Admitter, header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := pipeline.Admit(c.Request.Context(), c.GetHeader(header))

		if req != nil {
			if tenantID, ok := req.TenantID(); ok {
				c.Set(TenantIDKey, tenantID.String())
			}
			setUsageHeaders(c, req.Usage)
		}

		if err != nil {
			abortWithRejection(c, admission.AsRejection(err))
			return
		}

		c.Set(AdmissionKey, req)
		c.Next()
	}
}

// GetAdmission returns the admitted request context, if the admission
// middleware ran.
func GetAdmission(c *gin.Context) (*admission.Request, bool) {
	v, exists := c.Get(AdmissionKey)
	if !exists {
		return nil, false
	}
	req, ok := v.(*admission.Request)
	return req, ok
}
