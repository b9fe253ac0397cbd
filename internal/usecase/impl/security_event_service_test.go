package impl

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"keystone/internal/domain/entity"
	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/domain/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSecurityEventService(env *testEnv) *securityEventService {
	return NewSecurityEventService(SecurityEventServiceParams{
		Sessions: env.sessions,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}).(*securityEventService)
}

func TestSecurityEventService_AccountDeletedSweepsLateSessions(t *testing.T) {
	env := newTestEnv(t)
	svc := newSecurityEventService(env)
	user := env.seedUser(t, "late@example.com")
	late := createSession(t, env, user.ID, "phone-1")

	event := &service.SecurityEvent{
		EventID: uuid.NewString(),
		Type:    service.SecurityEventAccountDeleted,
		UserID:  user.ID.String(),
	}
	require.NoError(t, svc.HandleSecurityEvent(context.Background(), event))

	stored := env.session(t, late.Session.ID)
	assert.True(t, stored.IsRevoked())
	assert.Equal(t, entity.RevokeReasonAccountDeleted, stored.RevokedReason)

	// Redelivery is harmless.
	require.NoError(t, svc.HandleSecurityEvent(context.Background(), event))
}

func TestSecurityEventService_ReuseRevokesFamily(t *testing.T) {
	env := newTestEnv(t)
	svc := newSecurityEventService(env)
	user := env.seedUser(t, "reuse@example.com")
	target := createSession(t, env, user.ID, "phone-1")
	bystander := createSession(t, env, user.ID, "tablet-1")

	require.NoError(t, svc.HandleSecurityEvent(context.Background(), &service.SecurityEvent{
		EventID:  uuid.NewString(),
		Type:     service.SecurityEventRefreshReuse,
		UserID:   user.ID.String(),
		FamilyID: target.Session.FamilyID.String(),
		DeviceID: "phone-1",
	}))

	assert.Equal(t, entity.RevokeReasonReuseDetected, env.session(t, target.Session.ID).RevokedReason)
	assert.False(t, env.session(t, bystander.Session.ID).IsRevoked())
}

func TestSecurityEventService_Rejections(t *testing.T) {
	env := newTestEnv(t)
	svc := newSecurityEventService(env)

	err := svc.HandleSecurityEvent(context.Background(), &service.SecurityEvent{
		Type:   service.SecurityEventAccountDeleted,
		UserID: "not-a-uuid",
	})
	assert.ErrorIs(t, err, domainerrors.ErrValidationFailed)

	err = svc.HandleSecurityEvent(context.Background(), &service.SecurityEvent{
		Type:   service.SecurityEventRefreshReuse,
		UserID: uuid.NewString(),
	})
	assert.ErrorIs(t, err, domainerrors.ErrValidationFailed)

	assert.NoError(t, svc.HandleSecurityEvent(context.Background(), &service.SecurityEvent{Type: "something_new"}))
	assert.NoError(t, svc.HandleSecurityEvent(context.Background(), &service.SecurityEvent{
		Type:       service.SecurityEventNewAccount,
		UserID:     uuid.NewString(),
		Attributes: map[string]string{"provider": "google"},
	}))
}
