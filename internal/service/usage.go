package service

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/repository"
	"github.com/google/uuid"
)

var ErrTenantNotFound = errors.New("tenant not found")

// TenantUsage is a read-only view of a tenant's limiter state.
type TenantUsage struct {
	TenantID  uuid.UUID              `json:"tenant_id"`
	Name      string                 `json:"name"`
	Status    string                 `json:"status"`
	Active    bool                   `json:"active"`
	Plan      *admission.Plan        `json:"plan,omitempty"`
	Burst     *ratelimit.BucketState `json:"burst,omitempty"`
	Sustained *ratelimit.WindowState `json:"sustained,omitempty"`
	Quota     QuotaView              `json:"quota"`
}

type QuotaView struct {
	Period    string    `json:"period"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit,omitempty"`
	Remaining int64     `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// UsageService answers operator questions about a tenant's consumption. It
// never mutates limiter state.
type UsageService struct {
	tenants   *repository.TenantRepository
	inspector *ratelimit.Inspector
	now       func() time.Time
}

func NewUsageService(tenants *repository.TenantRepository, inspector *ratelimit.Inspector) *UsageService {
	return &UsageService{
		tenants:   tenants,
		inspector: inspector,
		now:       time.Now,
	}
}

func (s *UsageService) TenantUsage(ctx context.Context, tenantID uuid.UUID) (*TenantUsage, error) {
	tenant, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, ErrTenantNotFound
	}

	usage := &TenantUsage{
		TenantID: tenant.ID,
		Name:     tenant.Name,
		Status:   tenant.Status,
		Active:   tenant.Status == models.StatusActive,
	}

	record, err := s.tenants.FindActivePlan(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		plan := admission.PlanFromModel(record)
		usage.Plan = &plan
	}

	key := tenantID.String()
	if usage.Burst, err = s.inspector.Bucket(ctx, key); err != nil {
		return nil, err
	}
	if usage.Sustained, err = s.inspector.Window(ctx, key); err != nil {
		return nil, err
	}

	quota, err := s.inspector.Quota(ctx, key, s.now())
	if err != nil {
		return nil, err
	}
	usage.Quota = QuotaView{
		Period:   quota.Period,
		Used:     quota.Used,
		ResetsAt: quota.ResetAt,
	}
	if usage.Plan != nil {
		usage.Quota.Limit = usage.Plan.MonthlyQuota
		usage.Quota.Remaining = max(usage.Plan.MonthlyQuota-quota.Used, 0)
	}

	return usage, nil
}
