package impl

import (
	"context"
	"log/slog"

	deliverycontext "keystone/internal/delivery/context"
	"keystone/internal/domain/entity"
	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/domain/service"
	"keystone/internal/errors"
	"keystone/internal/usecase"

	"github.com/google/uuid"
	"go.uber.org/fx"
)

type securityEventService struct {
	sessions usecase.SessionUsecase
	logger   *slog.Logger
}

// SecurityEventServiceParams holds dependencies for SecurityEventService, injected by Fx.
type SecurityEventServiceParams struct {
	fx.In

	Sessions usecase.SessionUsecase
	Logger   *slog.Logger
}

// NewSecurityEventService creates the consumer of published security events.
//
// The API revokes sessions before it publishes, so for most events this is an
// audit trail. Account deletion is the exception: a sign-in that resolved the
// user just before the tombstone was written can still open a session, and
// the sweep here closes it.
func NewSecurityEventService(params SecurityEventServiceParams) usecase.SecurityEventUsecase {
	return &securityEventService{
		sessions: params.Sessions,
		logger:   params.Logger,
	}
}

func (s *securityEventService) HandleSecurityEvent(ctx context.Context, event *service.SecurityEvent) error {
	logger := deliverycontext.GetLoggerOrDefault(ctx, s.logger).With(
		slog.String("event_id", event.EventID),
		slog.String("type", event.Type),
		slog.String("user_id", event.UserID),
	)

	switch event.Type {
	case service.SecurityEventAccountDeleted:
		userID, err := parseEventID("user_id", event.UserID)
		if err != nil {
			return err
		}

		revoked, err := s.sessions.RevokeAllForUser(ctx, userID, entity.RevokeReasonAccountDeleted)
		if err != nil {
			return errors.Wrap(err, "sweep sessions of deleted account")
		}
		if revoked > 0 {
			logger.WarnContext(ctx, "Revoked sessions opened during account deletion", slog.Int64("revoked", revoked))
		}
		logger.InfoContext(ctx, "Account deletion audited", slog.Int64("revoked_at_delete", event.Revoked))

	case service.SecurityEventRefreshReuse:
		familyID, err := parseEventID("family_id", event.FamilyID)
		if err != nil {
			return err
		}

		revoked, err := s.sessions.RevokeFamily(ctx, familyID, entity.RevokeReasonReuseDetected)
		if err != nil {
			return errors.Wrap(err, "revoke reused token family")
		}
		logger.WarnContext(ctx, "Refresh token reuse",
			slog.String("family_id", event.FamilyID),
			slog.String("device_id", event.DeviceID),
			slog.Int64("revoked_at_detection", event.Revoked),
			slog.Int64("revoked_now", revoked),
		)

	case service.SecurityEventNewAccount:
		logger.InfoContext(ctx, "Account created", slog.String("provider", event.Attributes["provider"]))

	default:
		logger.WarnContext(ctx, "Ignoring unknown security event")
	}

	return nil
}

func parseEventID(field, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, domainerrors.ErrValidationFailed.WithDetails(field + " must be a valid UUID")
	}

	return id, nil
}
