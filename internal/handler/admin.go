package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/aman-churiwal/admission-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, error)
}

type UsageReader interface {
	TenantUsage(ctx context.Context, tenantID uuid.UUID) (*service.TenantUsage, error)
}

// AdminHandler serves the operator API
type AdminHandler struct {
	auth  Authenticator
	usage UsageReader
	log   *zap.Logger
}

func NewAdminHandler(auth Authenticator, usage UsageReader, log *zap.Logger) *AdminHandler {
	return &AdminHandler{
		auth:  auth,
		usage: usage,
		log:   log,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *AdminHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	token, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid email or password",
		})
		return
	}
	if err != nil {
		h.log.Error("admin login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Login failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
	})
}

// TenantUsage returns the tenant's current limiter state
func (h *AdminHandler) TenantUsage(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid tenant ID",
		})
		return
	}

	usage, err := h.usage.TenantUsage(c.Request.Context(), tenantID)
	if errors.Is(err, service.ErrTenantNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Tenant not found",
		})
		return
	}
	if err != nil {
		h.log.Error("usage lookup failed", zap.String("tenant_id", tenantID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read tenant usage",
		})
		return
	}

	c.JSON(http.StatusOK, usage)
}
