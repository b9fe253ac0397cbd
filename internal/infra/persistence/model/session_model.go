package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionModel mirrors the 'sessions' table. Rows are revoked, never deleted.
type SessionModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID           uuid.UUID `gorm:"type:uuid;not null;index"`
	DeviceID         string    `gorm:"type:varchar(255);not null"`
	RefreshTokenHash string    `gorm:"type:char(64);not null"`
	FamilyID         uuid.UUID `gorm:"type:uuid;not null;index"`
	ExpiresAt        time.Time `gorm:"not null"`
	RevokedAt        *time.Time
	RevokedReason    string `gorm:"type:varchar(32)"`
	LastActiveAt     time.Time
	DeviceName       string `gorm:"type:varchar(255)"`
	Platform         string `gorm:"type:varchar(32)"`
	AppVersion       string `gorm:"type:varchar(32)"`
	UserAgent        string `gorm:"type:text"`
	IPAddress        string `gorm:"type:varchar(64)"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName explicitly sets the table name for GORM.
func (SessionModel) TableName() string {
	return "sessions"
}
