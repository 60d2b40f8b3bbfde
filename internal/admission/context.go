package admission

import (
	"errors"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/google/uuid"
)

var errTenantAlreadySet = errors.New("tenant already set on request")

// Plan is the snapshot of a tenant's plan that the limiters work from. It is
// also the value stored in the plan cache.
type Plan struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Burst        int64     `json:"burst"`
	Rate         int64     `json:"rate"`
	MonthlyQuota int64     `json:"monthly_quota"`
	Enforcement  string    `json:"enforcement"`
}

// PlanFromModel converts a directory record into a snapshot.
func PlanFromModel(p *models.Plan) Plan {
	return Plan{
		ID:           p.ID,
		Name:         p.Name,
		Burst:        int64(p.BurstRPS),
		Rate:         int64(p.SustainedRPM),
		MonthlyQuota: p.MonthlyQuota,
		Enforcement:  normalizeEnforcement(p.EnforcementType),
	}
}

// SoftEnforced reports whether the plan admits requests past its quota.
func (p Plan) SoftEnforced() bool {
	return p.Enforcement == models.EnforcementSoft
}

// Anything other than an explicit soft policy is enforced hard.
func normalizeEnforcement(mode string) string {
	if mode == models.EnforcementSoft {
		return models.EnforcementSoft
	}
	return models.EnforcementHard
}

// Usage is what the limiters observed while admitting the request.
type Usage struct {
	BurstLimit     int64
	BurstRemaining int64
	SustainedLimit int64
	SustainedCount int64
	QuotaLimit     int64
	QuotaUsed      int64
	Period         string
	OverQuota      bool
}

// Request is the per-request admission context. It is built up by the stages
// in order and owned by the single in-flight request.
type Request struct {
	credential string

	tenantID  uuid.UUID
	tenantSet bool
	plan      *Plan

	Usage Usage
}

func NewRequest(credential string) *Request {
	return &Request{credential: credential}
}

func (r *Request) Credential() string {
	return r.credential
}

// TenantID returns the resolved tenant, if any.
func (r *Request) TenantID() (uuid.UUID, bool) {
	return r.tenantID, r.tenantSet
}

// SetTenant records the resolved tenant. It can only be called once.
func (r *Request) SetTenant(id uuid.UUID) error {
	if r.tenantSet {
		return errTenantAlreadySet
	}
	r.tenantID = id
	r.tenantSet = true
	return nil
}

// Plan returns a copy of the resolved plan snapshot, if any.
func (r *Request) Plan() (Plan, bool) {
	if r.plan == nil {
		return Plan{}, false
	}
	return *r.plan, true
}

func (r *Request) SetPlan(p Plan) {
	r.plan = &p
}

// limiterContext returns the tenant and plan every limiter requires.
func (r *Request) limiterContext(stage string) (string, Plan, error) {
	id, ok := r.TenantID()
	if !ok {
		return "", Plan{}, missingContext(stage)
	}
	plan, ok := r.Plan()
	if !ok {
		return "", Plan{}, missingContext(stage)
	}
	return id.String(), plan, nil
}
