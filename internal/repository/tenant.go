package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TenantRepository struct {
	db *storage.Postgres
}

func NewTenantRepository(db *storage.Postgres) *TenantRepository {
	return &TenantRepository{db: db}
}

// FindActivePlan joins an active tenant with its plan. It returns nil, nil
// when the tenant is unknown, inactive or has no plan.
func (r *TenantRepository) FindActivePlan(ctx context.Context, tenantID uuid.UUID) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.DB.WithContext(ctx).
		Table("tenants AS t").
		Select("p.id, p.name, p.burst_rps, p.sustained_rpm, p.monthly_quota, p.enforcement_type").
		Joins("JOIN plans AS p ON p.id = t.plan_id").
		Where("t.id = ? AND t.status = ?", tenantID, models.StatusActive).
		Take(&plan).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("plan lookup: %w", err)
	}

	return &plan, nil
}

func (r *TenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&tenant).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	return &tenant, err
}
