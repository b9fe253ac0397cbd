package usecase

import (
	"context"

	"keystone/internal/domain/entity"

	"github.com/google/uuid"
)

// --- Input DTOs ---

// AuthenticateInput is a provider sign-in request.
type AuthenticateInput struct {
	Provider entity.ProviderType
	IDToken  string
	// AuthorizationCode is redeemed for provider tokens when the provider supports it.
	AuthorizationCode string
	// Apple sends the name only to the client, and only on first sign-in.
	GivenName  string
	FamilyName string
	Device     entity.DeviceInfo
}

// RefreshInput is a token refresh request.
type RefreshInput struct {
	RefreshToken string
	DeviceID     string
}

// LogoutInput selects what to sign out. AllDevices wins over SessionID,
// which wins over DeviceID. An empty input does nothing.
type LogoutInput struct {
	SessionID  *uuid.UUID
	DeviceID   string
	AllDevices bool
}

// --- Output DTOs ---

// AuthBundle is returned by Authenticate and Refresh.
type AuthBundle struct {
	User         *entity.User
	SessionID    uuid.UUID
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	IsNewUser    bool
}

// LogoutOutput reports how many sessions were revoked.
type LogoutOutput struct {
	Revoked int64
}

// AuthUsecase is the contract the HTTP handlers depend on.
type AuthUsecase interface {
	Authenticate(ctx context.Context, input *AuthenticateInput) (*AuthBundle, error)
	Refresh(ctx context.Context, input *RefreshInput) (*AuthBundle, error)
	Logout(ctx context.Context, userID uuid.UUID, input *LogoutInput) (*LogoutOutput, error)
	ListActiveSessions(ctx context.Context, userID uuid.UUID) ([]*entity.SessionInfo, error)
	RevokeSession(ctx context.Context, userID, sessionID uuid.UUID) error
	DeleteAccount(ctx context.Context, userID uuid.UUID) error
}
