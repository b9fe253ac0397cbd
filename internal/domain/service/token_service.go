package service

import (
	"time"

	"keystone/internal/domain/entity"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token use markers. They are part of the signed claims so a refresh token
// can never be accepted where an access token is expected, even with a shared key.
const (
	TokenUseAccess  = "access"
	TokenUseRefresh = "refresh"
)

// AccessClaims is the fixed claim set of an access token.
type AccessClaims struct {
	Email    string                  `json:"email"`
	Tier     entity.SubscriptionTier `json:"tier"`
	TokenUse string                  `json:"token_use"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *AccessClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// RefreshClaims is the fixed claim set of a refresh token.
type RefreshClaims struct {
	SessionID uuid.UUID `json:"sid"`
	DeviceID  string    `json:"did"`
	FamilyID  uuid.UUID `json:"fid"`
	TokenUse  string    `json:"token_use"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *RefreshClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// RefreshBinding is what a refresh token is bound to.
type RefreshBinding struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	DeviceID  string
	FamilyID  uuid.UUID
}

// TokenService issues and verifies the service's own access and refresh tokens.
// Verification failures are ErrTokenExpired or ErrInvalidToken.
type TokenService interface {
	// IssueAccessToken returns a signed access token and its lifetime in seconds.
	IssueAccessToken(userID uuid.UUID, email string, tier entity.SubscriptionTier) (token string, expiresIn int64, err error)

	// IssueRefreshToken returns a signed refresh token bound to the session and its expiry.
	IssueRefreshToken(binding RefreshBinding) (token string, expiresAt time.Time, err error)

	VerifyAccessToken(token string) (*AccessClaims, error)
	VerifyRefreshToken(token string) (*RefreshClaims, error)

	// HashToken returns the storage form of a raw refresh token.
	HashToken(raw string) string
}
