// Package handler contains the HTTP handlers for the application.
package handler

import (
	"net/http"
	"time"

	"keystone/internal/delivery/api/response"
	deliverycontext "keystone/internal/delivery/context"
	"keystone/internal/domain/entity"
	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/usecase"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const tokenTypeBearer = "Bearer"

// DeviceRequest describes the calling device.
type DeviceRequest struct {
	DeviceID   string `json:"device_id" validate:"required,max=128"`
	DeviceName string `json:"device_name" validate:"max=128"`
	Platform   string `json:"platform" validate:"omitempty,oneof=ios android web"`
	AppVersion string `json:"app_version" validate:"max=32"`
}

// GoogleSignInRequest is the body of POST /auth/google.
type GoogleSignInRequest struct {
	IDToken string        `json:"id_token" validate:"required"`
	Device  DeviceRequest `json:"device"`
}

// AppleSignInRequest is the body of POST /auth/apple. At least one of the ID
// token and the authorization code must be present.
type AppleSignInRequest struct {
	IDToken           string        `json:"id_token" validate:"required_without=AuthorizationCode"`
	AuthorizationCode string        `json:"authorization_code"`
	GivenName         string        `json:"given_name" validate:"max=128"`
	FamilyName        string        `json:"family_name" validate:"max=128"`
	Device            DeviceRequest `json:"device"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	DeviceID     string `json:"device_id" validate:"required,max=128"`
}

// LogoutRequest selects the sessions to end. all_devices wins over
// session_id, which wins over device_id.
type LogoutRequest struct {
	SessionID  string `json:"session_id" validate:"omitempty,uuid"`
	DeviceID   string `json:"device_id" validate:"max=128"`
	AllDevices bool   `json:"all_devices"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID                 uuid.UUID  `json:"id"`
	Email              string     `json:"email"`
	EmailVerified      bool       `json:"email_verified"`
	Name               string     `json:"name"`
	AvatarURL          string     `json:"avatar_url,omitempty"`
	SubscriptionTier   string     `json:"subscription_tier"`
	SubscriptionStatus string     `json:"subscription_status,omitempty"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// AuthResponse is returned by every endpoint that opens or rotates a session.
type AuthResponse struct {
	User         *UserResponse `json:"user"`
	SessionID    uuid.UUID     `json:"session_id"`
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	IsNewUser    bool          `json:"is_new_user"`
}

type LogoutResponse struct {
	Revoked int64 `json:"revoked"`
}

// AuthHandler serves sign-in, refresh and sign-out.
type AuthHandler struct {
	uc usecase.AuthUsecase
}

// NewAuthHandler is the constructor for AuthHandler, injected by Fx.
func NewAuthHandler(uc usecase.AuthUsecase) *AuthHandler {
	return &AuthHandler{uc: uc}
}

// SignInWithGoogle exchanges a Google ID token for a session.
func (h *AuthHandler) SignInWithGoogle(c echo.Context) error {
	var req GoogleSignInRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	bundle, err := h.uc.Authenticate(c.Request().Context(), &usecase.AuthenticateInput{
		Provider: entity.ProviderTypeGoogle,
		IDToken:  req.IDToken,
		Device:   deviceInfo(c, req.Device),
	})
	if err != nil {
		return err
	}

	return response.Success(c, signInStatus(bundle), newAuthResponse(bundle))
}

// SignInWithApple exchanges an Apple ID token, authorization code or both for a session.
func (h *AuthHandler) SignInWithApple(c echo.Context) error {
	var req AppleSignInRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	bundle, err := h.uc.Authenticate(c.Request().Context(), &usecase.AuthenticateInput{
		Provider:          entity.ProviderTypeApple,
		IDToken:           req.IDToken,
		AuthorizationCode: req.AuthorizationCode,
		GivenName:         req.GivenName,
		FamilyName:        req.FamilyName,
		Device:            deviceInfo(c, req.Device),
	})
	if err != nil {
		return err
	}

	return response.Success(c, signInStatus(bundle), newAuthResponse(bundle))
}

// Refresh rotates a refresh token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req RefreshRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	bundle, err := h.uc.Refresh(c.Request().Context(), &usecase.RefreshInput{
		RefreshToken: req.RefreshToken,
		DeviceID:     req.DeviceID,
	})
	if err != nil {
		return err
	}

	return response.Success(c, http.StatusOK, newAuthResponse(bundle))
}

// Logout revokes the caller's sessions selected by the body.
func (h *AuthHandler) Logout(c echo.Context) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}

	var req LogoutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	input := &usecase.LogoutInput{DeviceID: req.DeviceID, AllDevices: req.AllDevices}
	if req.SessionID != "" {
		sessionID, err := uuid.Parse(req.SessionID)
		if err != nil {
			return domainerrors.ErrValidationFailed.WithDetails("session_id must be a valid UUID")
		}
		input.SessionID = &sessionID
	}

	out, err := h.uc.Logout(c.Request().Context(), principal.UserID, input)
	if err != nil {
		return err
	}

	return response.Success(c, http.StatusOK, &LogoutResponse{Revoked: out.Revoked})
}

// DeleteAccount tombstones the caller's account and ends all of its sessions.
func (h *AuthHandler) DeleteAccount(c echo.Context) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}

	if err := h.uc.DeleteAccount(c.Request().Context(), principal.UserID); err != nil {
		return err
	}

	return response.NoContent(c)
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return domainerrors.ErrValidationFailed.WithDetails("malformed request body")
	}

	return c.Validate(req)
}

func requirePrincipal(c echo.Context) (*deliverycontext.Principal, error) {
	principal, ok := deliverycontext.GetPrincipal(c)
	if !ok {
		return nil, domainerrors.ErrUnauthorized
	}

	return principal, nil
}

func deviceInfo(c echo.Context, req DeviceRequest) entity.DeviceInfo {
	return entity.DeviceInfo{
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
		Platform:   req.Platform,
		AppVersion: req.AppVersion,
		UserAgent:  c.Request().UserAgent(),
		IPAddress:  c.RealIP(),
	}
}

func signInStatus(bundle *usecase.AuthBundle) int {
	if bundle.IsNewUser {
		return http.StatusCreated
	}

	return http.StatusOK
}

func newAuthResponse(bundle *usecase.AuthBundle) *AuthResponse {
	return &AuthResponse{
		User:         newUserResponse(bundle.User),
		SessionID:    bundle.SessionID,
		AccessToken:  bundle.AccessToken,
		RefreshToken: bundle.RefreshToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    bundle.ExpiresIn,
		IsNewUser:    bundle.IsNewUser,
	}
}

func newUserResponse(u *entity.User) *UserResponse {
	if u == nil {
		return nil
	}

	return &UserResponse{
		ID:                 u.ID,
		Email:              u.Email,
		EmailVerified:      u.EmailVerified,
		Name:               u.Name,
		AvatarURL:          u.AvatarURL,
		SubscriptionTier:   string(u.SubscriptionTier),
		SubscriptionStatus: string(u.SubscriptionStatus),
		TrialEndsAt:        u.TrialEndsAt,
		CreatedAt:          u.CreatedAt,
	}
}
