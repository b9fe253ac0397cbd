package model

import (
	"time"

	"github.com/google/uuid"
)

// IdentityLinkModel mirrors the 'identity_links' table.
type IdentityLinkModel struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID                uuid.UUID `gorm:"type:uuid;not null;index"`
	Provider              string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_identity_provider_subject"`
	ProviderSubject       string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_identity_provider_subject"`
	Email                 string    `gorm:"type:varchar(320)"`
	EncryptedRefreshToken string    `gorm:"type:text"`
	CreatedAt             time.Time
	LastUsedAt            time.Time
}

// TableName explicitly sets the table name for GORM.
func (IdentityLinkModel) TableName() string {
	return "identity_links"
}
