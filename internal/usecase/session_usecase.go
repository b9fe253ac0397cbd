// Package usecase contains the application-specific business rules.
package usecase

import (
	"context"
	"time"

	"keystone/internal/domain/entity"

	"github.com/google/uuid"
)

// CreatedSession is a freshly opened session and its refresh token.
// RefreshToken is the only copy of the raw token the server ever holds.
type CreatedSession struct {
	Session          *entity.Session
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RotateOutput is the token pair minted by a successful rotation.
type RotateOutput struct {
	User             *entity.User
	Session          *entity.Session
	AccessToken      string
	ExpiresIn        int64
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// SessionUsecase manages session lifecycles and refresh token rotation.
type SessionUsecase interface {
	// CreateSession opens a session in a new token family.
	CreateSession(ctx context.Context, userID uuid.UUID, device entity.DeviceInfo) (*CreatedSession, error)

	// Rotate exchanges a refresh token for a new pair. A superseded token
	// revokes its whole family and fails with ErrRefreshTokenReused.
	Rotate(ctx context.Context, rawRefreshToken string) (*RotateOutput, error)

	// Revoke, RevokeAllForUser, RevokeAllForDevice and RevokeFamily are idempotent
	// and return how many sessions they revoked.
	Revoke(ctx context.Context, sessionID uuid.UUID, reason string) (int64, error)
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string) (int64, error)
	RevokeAllForDevice(ctx context.Context, userID uuid.UUID, deviceID string, reason string) (int64, error)
	RevokeFamily(ctx context.Context, familyID uuid.UUID, reason string) (int64, error)

	// ListActive returns live sessions, most recently active first.
	ListActive(ctx context.Context, userID uuid.UUID) ([]*entity.Session, error)
}
