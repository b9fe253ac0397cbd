// Package impl contains the implementation of the application's business logic.
package impl

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"
	"time"

	"keystone/config"
	deliverycontext "keystone/internal/delivery/context"
	"keystone/internal/domain/entity"
	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/domain/repository"
	"keystone/internal/domain/service"
	"keystone/internal/errors"
	"keystone/internal/usecase"

	"github.com/google/uuid"
	"go.uber.org/fx"
)

// sessionService implements the SessionUsecase interface.
type sessionService struct {
	repos        repository.RepositoryFactory
	tokenService service.TokenService
	publisher    service.EventPublisher
	metrics      service.AuthMetrics
	sessionTTL   time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// SessionServiceParams holds dependencies for SessionService, injected by Fx.
type SessionServiceParams struct {
	fx.In

	Repos        repository.RepositoryFactory
	TokenService service.TokenService
	Publisher    service.EventPublisher
	Metrics      service.AuthMetrics
	Config       *config.Config
	Logger       *slog.Logger
}

// NewSessionService is the constructor for sessionService.
func NewSessionService(params SessionServiceParams) (usecase.SessionUsecase, error) {
	return newSessionService(params)
}

func newSessionService(params SessionServiceParams) (*sessionService, error) {
	sessionTTL, err := config.ParseDuration(params.Config.Auth.SessionTTL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid session TTL")
	}

	return &sessionService{
		repos:        params.Repos,
		tokenService: params.TokenService,
		publisher:    params.Publisher,
		metrics:      params.Metrics,
		sessionTTL:   sessionTTL,
		logger:       params.Logger,
		now:          time.Now,
	}, nil
}

// log returns a request-scoped logger if available, otherwise falls back to the service's logger.
func (srv *sessionService) log(ctx context.Context) *slog.Logger {
	return deliverycontext.GetLoggerOrDefault(ctx, srv.logger)
}

// CreateSession opens a session in a fresh token family.
func (srv *sessionService) CreateSession(ctx context.Context, userID uuid.UUID, device entity.DeviceInfo) (*usecase.CreatedSession, error) {
	device.DeviceID = strings.TrimSpace(device.DeviceID)
	if device.DeviceID == "" {
		return nil, domainerrors.ErrValidationFailed.WithDetails("deviceId is required")
	}

	now := srv.now().UTC()
	session := &entity.Session{
		ID:           uuid.New(),
		UserID:       userID,
		DeviceID:     device.DeviceID,
		FamilyID:     uuid.New(),
		ExpiresAt:    now.Add(srv.sessionTTL),
		LastActiveAt: now,
		Device:       device,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	refreshToken, refreshExpiresAt, err := srv.tokenService.IssueRefreshToken(service.RefreshBinding{
		UserID:    userID,
		SessionID: session.ID,
		DeviceID:  session.DeviceID,
		FamilyID:  session.FamilyID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to issue refresh token")
	}
	session.RefreshTokenHash = srv.tokenService.HashToken(refreshToken)

	if err := srv.repos.SessionRepo().Create(ctx, session); err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}

	srv.log(ctx).Info("Session created",
		slog.String("user_id", userID.String()),
		slog.String("session_id", session.ID.String()),
		slog.String("device_id", session.DeviceID),
	)

	return &usecase.CreatedSession{
		Session:          session,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// Rotate exchanges a refresh token for a new access and refresh pair.
//
// Only the holder of the latest token of a session may rotate it. Presenting
// any older token of the family, or losing a concurrent rotation race, revokes
// the whole family.
func (srv *sessionService) Rotate(ctx context.Context, rawRefreshToken string) (*usecase.RotateOutput, error) {
	out, err := srv.rotate(ctx, rawRefreshToken)
	if err != nil {
		srv.metrics.RecordRefresh(service.OutcomeFailure)

		return nil, err
	}
	srv.metrics.RecordRefresh(service.OutcomeSuccess)

	return out, nil
}

func (srv *sessionService) rotate(ctx context.Context, rawRefreshToken string) (*usecase.RotateOutput, error) {
	claims, err := srv.tokenService.VerifyRefreshToken(rawRefreshToken)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, domainerrors.ErrInvalidToken.WrapMessage("malformed subject")
	}

	sessionRepo := srv.repos.SessionRepo()

	session, err := sessionRepo.FindByID(ctx, claims.SessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, domainerrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find session")
	}

	if session.DeviceID != claims.DeviceID {
		srv.log(ctx).Warn("Refresh token presented for another device",
			slog.String("session_id", session.ID.String()),
		)

		return nil, domainerrors.ErrDeviceMismatch
	}
	if session.FamilyID != claims.FamilyID || session.UserID != userID {
		return nil, domainerrors.ErrInvalidToken.WrapMessage("token does not match session")
	}

	now := srv.now().UTC()

	if session.IsRevoked() {
		return nil, domainerrors.ErrSessionRevoked
	}
	if session.IsExpired(now) {
		srv.revokeQuietly(ctx, session.ID, entity.RevokeReasonExpired)

		return nil, domainerrors.ErrSessionRevoked
	}

	presentedHash := srv.tokenService.HashToken(rawRefreshToken)
	if subtle.ConstantTimeCompare([]byte(presentedHash), []byte(session.RefreshTokenHash)) != 1 {
		return nil, srv.handleReuse(ctx, session)
	}

	user, err := srv.repos.UserRepo().FindByID(ctx, userID)
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		srv.revokeQuietly(ctx, session.ID, entity.RevokeReasonOwnerMissing)

		return nil, domainerrors.ErrSessionRevoked
	case err != nil:
		return nil, errors.Wrap(err, "failed to find session owner")
	case user.IsDeleted():
		srv.revokeQuietly(ctx, session.ID, entity.RevokeReasonAccountDeleted)

		return nil, domainerrors.ErrSessionRevoked
	}

	refreshToken, refreshExpiresAt, err := srv.tokenService.IssueRefreshToken(service.RefreshBinding{
		UserID:    user.ID,
		SessionID: session.ID,
		DeviceID:  session.DeviceID,
		FamilyID:  session.FamilyID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to issue refresh token")
	}
	accessToken, expiresIn, err := srv.tokenService.IssueAccessToken(user.ID, user.Email, user.SubscriptionTier)
	if err != nil {
		return nil, errors.Wrap(err, "failed to issue access token")
	}

	params := repository.RotateParams{
		SessionID:    session.ID,
		ExpectedHash: session.RefreshTokenHash,
		NewHash:      srv.tokenService.HashToken(refreshToken),
		ExpiresAt:    now.Add(srv.sessionTTL),
		LastActiveAt: now,
	}
	err = sessionRepo.RotateRefreshHash(ctx, params)
	if errors.Is(err, repository.ErrRefreshHashMismatch) {
		return nil, srv.handleLostRace(ctx, session.ID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to rotate session")
	}

	session.RefreshTokenHash = params.NewHash
	session.ExpiresAt = params.ExpiresAt
	session.LastActiveAt = now
	session.UpdatedAt = now

	srv.log(ctx).Debug("Session rotated",
		slog.String("user_id", user.ID.String()),
		slog.String("session_id", session.ID.String()),
	)

	return &usecase.RotateOutput{
		User:             user,
		Session:          session,
		AccessToken:      accessToken,
		ExpiresIn:        expiresIn,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// handleLostRace resolves a failed compare-and-swap. Another rotation or a
// revocation got there first; the token in hand is stale either way.
func (srv *sessionService) handleLostRace(ctx context.Context, sessionID uuid.UUID) error {
	current, err := srv.repos.SessionRepo().FindByID(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "failed to reload session")
	}
	if current.IsRevoked() {
		return domainerrors.ErrSessionRevoked
	}

	return srv.handleReuse(ctx, current)
}

// handleReuse revokes the family of a session whose superseded refresh token was presented.
func (srv *sessionService) handleReuse(ctx context.Context, session *entity.Session) error {
	revoked, err := srv.repos.SessionRepo().RevokeFamily(ctx, session.FamilyID, entity.RevokeReasonReuseDetected, srv.now().UTC())
	if err != nil {
		return errors.Wrap(err, "failed to revoke token family")
	}

	srv.metrics.RecordReuseDetected()
	srv.metrics.RecordSessionsRevoked(entity.RevokeReasonReuseDetected, revoked)

	srv.log(ctx).Warn("Refresh token reuse detected, token family revoked",
		slog.String("user_id", session.UserID.String()),
		slog.String("session_id", session.ID.String()),
		slog.String("family_id", session.FamilyID.String()),
		slog.Int64("revoked", revoked),
	)

	publishSecurityEvent(ctx, srv.publisher, srv.log(ctx), srv.now().UTC(), &service.SecurityEvent{
		Type:      service.SecurityEventRefreshReuse,
		UserID:    session.UserID.String(),
		SessionID: session.ID.String(),
		FamilyID:  session.FamilyID.String(),
		DeviceID:  session.DeviceID,
		Revoked:   revoked,
	})

	return domainerrors.ErrRefreshTokenReused
}

// revokeQuietly revokes a session on the refresh path, where the caller is
// already being rejected and a storage failure must not change the answer.
func (srv *sessionService) revokeQuietly(ctx context.Context, sessionID uuid.UUID, reason string) {
	if _, err := srv.Revoke(ctx, sessionID, reason); err != nil {
		srv.log(ctx).Error("Failed to revoke session",
			slog.String("session_id", sessionID.String()),
			slog.String("reason", reason),
			slog.Any("error", err),
		)
	}
}

// Revoke revokes one session.
func (srv *sessionService) Revoke(ctx context.Context, sessionID uuid.UUID, reason string) (int64, error) {
	revoked, err := srv.repos.SessionRepo().Revoke(ctx, sessionID, reason, srv.now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to revoke session")
	}
	srv.metrics.RecordSessionsRevoked(reason, revoked)

	return revoked, nil
}

// RevokeAllForUser revokes every session of the user.
func (srv *sessionService) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string) (int64, error) {
	revoked, err := srv.repos.SessionRepo().RevokeByUser(ctx, userID, reason, srv.now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to revoke user sessions")
	}
	srv.metrics.RecordSessionsRevoked(reason, revoked)

	return revoked, nil
}

// RevokeAllForDevice revokes every session of the user on one device.
func (srv *sessionService) RevokeAllForDevice(ctx context.Context, userID uuid.UUID, deviceID string, reason string) (int64, error) {
	revoked, err := srv.repos.SessionRepo().RevokeByUserDevice(ctx, userID, deviceID, reason, srv.now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to revoke device sessions")
	}
	srv.metrics.RecordSessionsRevoked(reason, revoked)

	return revoked, nil
}

// RevokeFamily revokes every session of a token family.
func (srv *sessionService) RevokeFamily(ctx context.Context, familyID uuid.UUID, reason string) (int64, error) {
	revoked, err := srv.repos.SessionRepo().RevokeFamily(ctx, familyID, reason, srv.now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to revoke token family")
	}
	srv.metrics.RecordSessionsRevoked(reason, revoked)

	return revoked, nil
}

// ListActive returns the user's live sessions, most recently active first.
func (srv *sessionService) ListActive(ctx context.Context, userID uuid.UUID) ([]*entity.Session, error) {
	sessions, err := srv.repos.SessionRepo().ListActiveByUserID(ctx, userID, srv.now().UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}

	return sessions, nil
}
