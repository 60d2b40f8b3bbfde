package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAdmitter struct {
	req        *admission.Request
	err        error
	credential string
}

func (s *stubAdmitter) Admit(_ context.Context, credential string) (*admission.Request, error) {
	s.credential = credential
	return s.req, s.err
}

func admittedRequest(t *testing.T, tenantID uuid.UUID) *admission.Request {
	t.Helper()

	req := admission.NewRequest("gw_live_abc")
	require.NoError(t, req.SetTenant(tenantID))
	req.Usage = admission.Usage{
		BurstLimit:     10,
		BurstRemaining: 7,
		QuotaLimit:     1000,
		QuotaUsed:      42,
		Period:         "2026-10",
	}
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdmissionPassesAdmittedRequest(t *testing.T) {
	tenantID := uuid.New()
	admitter := &stubAdmitter{req: admittedRequest(t, tenantID)}

	r := gin.New()
	r.Use(Admission(admitter, "X-API-Key"))
	r.GET("/", func(c *gin.Context) {
		req, ok := GetAdmission(c)
		require.True(t, ok)
		assert.Equal(t, "gw_live_abc", req.Credential())
		assert.Equal(t, tenantID.String(), c.GetString(TenantIDKey))
		c.Status(http.StatusNoContent)
	})

	httpReq := httptest.NewRequest(http.MethodGet, "/", nil)
	httpReq.Header.Set("X-API-Key", "gw_live_abc")
	w := serve(r, httpReq)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "gw_live_abc", admitter.credential)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "7", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1000", w.Header().Get("X-Quota-Limit"))
	assert.Equal(t, "42", w.Header().Get("X-Quota-Used"))
}

func TestAdmissionRejects(t *testing.T) {
	tests := []struct {
		name       string
		req        *admission.Request
		err        error
		wantStatus int
		wantCode   string
		wantRetry  string
		wantBody   map[string]interface{}
	}{
		{
			name: "rate limited",
			req:  admittedRequest(t, uuid.New()),
			err: &admission.Rejection{
				Code:       admission.CodeRateLimitExceeded,
				Status:     http.StatusTooManyRequests,
				Message:    "Rate limit exceeded",
				Details:    map[string]interface{}{"limit": 100, "window": "60s", "current": 101},
				RetryAfter: 17 * time.Second,
			},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "sustained_rate_limit_exceeded",
			wantRetry:  "17",
			wantBody:   map[string]interface{}{"limit": float64(100), "window": "60s", "current": float64(101)},
		},
		{
			name: "unauthenticated",
			err: &admission.Rejection{
				Code:    admission.CodeMissingCredential,
				Status:  http.StatusUnauthorized,
				Message: "API key missing in header",
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "missing_credential",
		},
		{
			name:       "plain error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "store_failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached := false
			r := gin.New()
			r.Use(Admission(&stubAdmitter{req: tt.req, err: tt.err}, "X-API-Key"))
			r.GET("/", func(c *gin.Context) { reached = true })

			w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.False(t, reached)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantRetry, w.Header().Get("Retry-After"))

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body["code"])
			assert.NotEmpty(t, body["error"])
			for k, v := range tt.wantBody {
				assert.Equal(t, v, body[k], k)
			}
		})
	}
}

func TestUsageHeadersOnlyForStagesThatRan(t *testing.T) {
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		setUsageHeaders(c, admission.Usage{})
		c.Status(http.StatusOK)
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	assert.Empty(t, w.Header().Get("X-Quota-Used"))
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "caller-supplied")
	w = serve(r, req)
	assert.Equal(t, "caller-supplied", w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 200))
	w = serve(r, req)
	assert.NotEqual(t, strings.Repeat("x", 200), w.Header().Get(RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	r := gin.New()
	r.Use(Recovery(zap.New(core)))
	r.GET("/", func(c *gin.Context) { panic("kaboom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, w.Body.String())
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestLoggerIncludesTenant(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(RequestID(), Logger(zap.New(core)))
	r.GET("/", func(c *gin.Context) {
		c.Set(TenantIDKey, "tenant-1")
		c.Status(http.StatusOK)
	})
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/fail", nil))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, "tenant-1", entries[0].ContextMap()["tenant_id"])
	assert.NotEmpty(t, entries[0].ContextMap()["request_id"])
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.NotContains(t, entries[1].ContextMap(), "tenant_id")
}

type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (*service.Claims, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return &service.Claims{UserID: "u-1", Email: "ops@example.com", Role: "admin"}, nil
}

func TestRequireAuth(t *testing.T) {
	r := gin.New()
	r.Use(RequireAuth(stubValidator{}))
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("email"))
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"invalid token", "Bearer bad", http.StatusUnauthorized},
		{"valid token", "Bearer good", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			w := serve(r, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "ops@example.com", w.Body.String())
			}
		})
	}
}

type httpObservation struct {
	method, route string
	status        int
}

type recordingHTTPObserver struct {
	seen []httpObservation
}

func (o *recordingHTTPObserver) ObserveHTTP(method, route string, status int, _ time.Duration) {
	o.seen = append(o.seen, httpObservation{method, route, status})
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	obs := &recordingHTTPObserver{}

	r := gin.New()
	r.Use(Recovery(zaptest.NewLogger(t)), Metrics(obs))
	r.GET("/tenants/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, httptest.NewRequest(http.MethodGet, "/tenants/123", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, []httpObservation{
		{http.MethodGet, "/tenants/:id", http.StatusOK},
		{http.MethodGet, "unmatched", http.StatusNotFound},
	}, obs.seen)
}
