package model

import (
	"time"

	"keystone/internal/domain/entity"

	"github.com/google/uuid"
)

// UserModel mirrors the 'users' table. IDs are generated by the application.
type UserModel struct {
	ID                 uuid.UUID           `gorm:"type:uuid;primaryKey"`
	Email              string              `gorm:"type:varchar(320);not null"`
	EmailVerified      bool                `gorm:"not null;default:false"`
	Name               string              `gorm:"type:varchar(255)"`
	AvatarURL          string              `gorm:"type:text"`
	SubscriptionTier   string              `gorm:"type:varchar(20);not null"`
	SubscriptionStatus string              `gorm:"type:varchar(20);not null"`
	TrialEndsAt        *time.Time
	Settings           entity.UserSettings `gorm:"type:jsonb;serializer:json;not null"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time `gorm:"index"`
}

// TableName explicitly sets the table name for GORM.
func (UserModel) TableName() string {
	return "users"
}
