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

type APIKeyRepository struct {
	db *storage.Postgres
}

func NewAPIKeyRepository(db *storage.Postgres) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// FindTenantByKeyHash returns the tenant owning the active key with the given
// digest. found is false when no active key matches.
func (r *APIKeyRepository) FindTenantByKeyHash(ctx context.Context, hash string) (uuid.UUID, bool, error) {
	var apiKey models.APIKey
	err := r.db.DB.WithContext(ctx).
		Select("tenant_id").
		Where("key_hash = ? AND status = ?", hash, models.StatusActive).
		Take(&apiKey).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("api key lookup: %w", err)
	}

	return apiKey.TenantID, true, nil
}
