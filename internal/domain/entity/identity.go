package entity

import (
	"time"

	"github.com/google/uuid"
)

// ProviderType names an external identity provider.
type ProviderType string

const (
	// ProviderTypeGoogle is Sign in with Google.
	ProviderTypeGoogle ProviderType = "google"
	// ProviderTypeApple is Sign in with Apple.
	ProviderTypeApple ProviderType = "apple"
)

// String returns the string representation of the ProviderType.
func (p ProviderType) String() string {
	return string(p)
}

// IsValid checks if the ProviderType is a supported value.
func (p ProviderType) IsValid() bool {
	switch p {
	case ProviderTypeGoogle, ProviderTypeApple:
		return true
	default:
		return false
	}
}

// IdentityLink binds one provider identity, the (Provider, ProviderSubject)
// pair, to exactly one User.
type IdentityLink struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Provider        ProviderType
	ProviderSubject string // The provider's 'sub' claim.
	Email           string // Email reported by the provider when the link was made.
	// EncryptedRefreshToken is the provider-issued refresh token, sealed at rest.
	// Empty for providers that never hand one out.
	EncryptedRefreshToken string
	CreatedAt             time.Time
	LastUsedAt            time.Time
}
