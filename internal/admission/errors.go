package admission

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies why a request was not admitted.
type Code string

const (
	CodeMissingCredential  Code = "missing_credential"
	CodeInvalidCredential  Code = "invalid_credential"
	CodeMissingTenant      Code = "missing_tenant"
	CodePlanNotFound       Code = "plan_not_found"
	CodeMissingContext     Code = "missing_context"
	CodeBurstLimitExceeded Code = "burst_limit_exceeded"
	CodeRateLimitExceeded  Code = "sustained_rate_limit_exceeded"
	CodeQuotaExceeded      Code = "quota_exceeded"
	CodeResolverFailure    Code = "resolver_failure"
	CodeStoreFailure       Code = "store_failure"
)

// Rejection is the single error type returned by pipeline stages. Limit
// rejections are expected outcomes; codes mapped to a 5xx status are faults.
type Rejection struct {
	Code       Code
	Status     int
	Message    string
	Details    map[string]interface{}
	RetryAfter time.Duration

	// cause is kept for logs only and never sent to the client
	cause error
}

func (r *Rejection) Error() string {
	if r.cause != nil {
		return fmt.Sprintf("%s: %s: %v", r.Code, r.Message, r.cause)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

func (r *Rejection) Unwrap() error {
	return r.cause
}

// Fault reports whether the rejection stems from an internal problem rather
// than from the caller exceeding a limit.
func (r *Rejection) Fault() bool {
	return r.Status >= http.StatusInternalServerError
}

// AsRejection extracts the Rejection from err. Errors that are not
// rejections are reported as store failures so callers always fail closed.
func AsRejection(err error) *Rejection {
	if err == nil {
		return nil
	}

	var rej *Rejection
	if errors.As(err, &rej) {
		return rej
	}

	return storeFailure("admission failure", err)
}

func missingCredential() *Rejection {
	return &Rejection{
		Code:    CodeMissingCredential,
		Status:  http.StatusUnauthorized,
		Message: "API key missing in header",
	}
}

func invalidCredential() *Rejection {
	return &Rejection{
		Code:    CodeInvalidCredential,
		Status:  http.StatusUnauthorized,
		Message: "Invalid API key",
	}
}

func missingTenant() *Rejection {
	return &Rejection{
		Code:    CodeMissingTenant,
		Status:  http.StatusInternalServerError,
		Message: "Tenant missing from request context",
	}
}

func planNotFound() *Rejection {
	return &Rejection{
		Code:    CodePlanNotFound,
		Status:  http.StatusNotFound,
		Message: "No plan details found for the tenant",
	}
}

func missingContext(stage string) *Rejection {
	return &Rejection{
		Code:    CodeMissingContext,
		Status:  http.StatusInternalServerError,
		Message: fmt.Sprintf("%s context missing", stage),
	}
}

func burstLimitExceeded(remaining int64, retryAfter time.Duration) *Rejection {
	return &Rejection{
		Code:       CodeBurstLimitExceeded,
		Status:     http.StatusTooManyRequests,
		Message:    "Burst limit exceeded",
		Details:    map[string]interface{}{"remaining": remaining},
		RetryAfter: retryAfter,
	}
}

func rateLimitExceeded(limit, current int64, window time.Duration, retryAfter time.Duration) *Rejection {
	return &Rejection{
		Code:    CodeRateLimitExceeded,
		Status:  http.StatusTooManyRequests,
		Message: "Rate limit exceeded",
		Details: map[string]interface{}{
			"limit":   limit,
			"window":  fmt.Sprintf("%ds", int64(window/time.Second)),
			"current": current,
		},
		RetryAfter: retryAfter,
	}
}

func quotaExceeded(limit, used int64, period string, retryAfter time.Duration) *Rejection {
	return &Rejection{
		Code:    CodeQuotaExceeded,
		Status:  http.StatusTooManyRequests,
		Message: "Monthly quota exceeded",
		Details: map[string]interface{}{
			"limit":  limit,
			"used":   used,
			"period": period,
		},
		RetryAfter: retryAfter,
	}
}

func resolverFailure(message string, cause error) *Rejection {
	return &Rejection{
		Code:    CodeResolverFailure,
		Status:  http.StatusInternalServerError,
		Message: message,
		cause:   cause,
	}
}

func storeFailure(message string, cause error) *Rejection {
	return &Rejection{
		Code:    CodeStoreFailure,
		Status:  http.StatusInternalServerError,
		Message: message,
		cause:   cause,
	}
}
