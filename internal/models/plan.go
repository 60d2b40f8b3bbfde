package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	EnforcementHard = "hard"
	EnforcementSoft = "soft"
)

type Plan struct {
	ID              uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Name            string    `gorm:"uniqueIndex;not null" json:"name"`
	BurstRPS        int       `gorm:"column:burst_rps;not null" json:"burst_rps"`
	SustainedRPM    int       `gorm:"column:sustained_rpm;not null" json:"sustained_rpm"`
	MonthlyQuota    int64     `gorm:"column:monthly_quota;not null" json:"monthly_quota"`
	EnforcementType string    `gorm:"column:enforcement_type;default:'hard'" json:"enforcement_type"` // "hard" "soft"
}

func (p *Plan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (Plan) TableName() string {
	return "plans"
}
