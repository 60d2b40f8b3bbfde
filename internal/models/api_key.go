package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// APIKey is a credential issued to a tenant. Only the SHA-256 hex digest of
// the key is stored.
type APIKey struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	KeyHash   string    `gorm:"uniqueIndex;not null" json:"-"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Name      string    `json:"name"`
	Status    string    `gorm:"default:'active';index" json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *APIKey) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (APIKey) TableName() string {
	return "api_keys"
}
