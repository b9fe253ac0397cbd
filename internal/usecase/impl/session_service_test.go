package impl

import (
	"context"
	"sync"
	"testing"
	"time"

	"keystone/internal/domain/entity"
	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/domain/service"
	"keystone/internal/errors"
	"keystone/internal/usecase"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createSession(t *testing.T, env *testEnv, userID uuid.UUID, deviceID string) *usecase.CreatedSession {
	t.Helper()

	created, err := env.sessions.CreateSession(context.Background(), userID, device(deviceID))
	require.NoError(t, err)

	return created
}

func TestSessionService_CreateSession_StoresOnlyHash(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "rider@example.com")

	created := createSession(t, env, user.ID, "phone-1")

	stored := env.session(t, created.Session.ID)
	assert.Equal(t, env.tokens.HashToken(created.RefreshToken), stored.RefreshTokenHash)
	assert.NotContains(t, stored.RefreshTokenHash, created.RefreshToken)
	assert.Equal(t, "phone-1", stored.DeviceID)
	assert.Equal(t, "phone-1 name", stored.Device.DeviceName)
	assert.Equal(t, env.clock.Now().Add(30*24*time.Hour), stored.ExpiresAt)
	assert.False(t, stored.IsRevoked())

	claims, err := env.tokens.VerifyRefreshToken(created.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, created.Session.ID, claims.SessionID)
	assert.Equal(t, created.Session.FamilyID, claims.FamilyID)
	assert.Equal(t, "phone-1", claims.DeviceID)
}

func TestSessionService_CreateSession_NewFamilyPerSession(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "rider@example.com")

	first := createSession(t, env, user.ID, "phone-1")
	second := createSession(t, env, user.ID, "phone-1")

	assert.NotEqual(t, first.Session.ID, second.Session.ID)
	assert.NotEqual(t, first.Session.FamilyID, second.Session.FamilyID)
}

func TestSessionService_CreateSession_RequiresDevice(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.sessions.CreateSession(context.Background(), uuid.New(), device("  "))
	assert.ErrorIs(t, err, domainerrors.ErrValidationFailed)
}

func TestSessionService_Rotate_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "rider@example.com")
	created := createSession(t, env, user.ID, "phone-1")

	env.clock.Advance(time.Hour)
	out, err := env.sessions.Rotate(ctx, created.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, created.RefreshToken, out.RefreshToken)
	assert.NotEmpty(t, out.AccessToken)
	assert.Equal(t, int64(900), out.ExpiresIn)
	assert.Equal(t, user.ID, out.User.ID)

	stored := env.session(t, created.Session.ID)
	assert.Equal(t, env.tokens.HashToken(out.RefreshToken), stored.RefreshTokenHash)
	assert.Equal(t, env.clock.Now().Add(30*24*time.Hour), stored.ExpiresAt)
	assert.Equal(t, env.clock.Now(), stored.LastActiveAt)

	claims, err := env.tokens.VerifyRefreshToken(out.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, created.Session.ID, claims.SessionID)
	assert.Equal(t, created.Session.FamilyID, claims.FamilyID)

	_, err = env.sessions.Rotate(ctx, created.RefreshToken)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidToken)
	assert.ErrorIs(t, err, domainerrors.ErrRefreshTokenReused)
	assert.Equal(t, 1, env.metrics.refreshes[service.OutcomeSuccess])
	assert.Equal(t, 1, env.metrics.refreshes[service.OutcomeFailure])
}

func TestSessionService_Rotate_ReuseRevokesWholeFamily(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "rider@example.com")
	created := createSession(t, env, user.ID, "phone-1")
	bystander := createSession(t, env, user.ID, "tablet-1")

	sibling := &entity.Session{
		ID:               uuid.New(),
		UserID:           user.ID,
		DeviceID:         "phone-1",
		RefreshTokenHash: "sibling",
		FamilyID:         created.Session.FamilyID,
		ExpiresAt:        env.clock.Now().Add(time.Hour),
		LastActiveAt:     env.clock.Now(),
	}
	require.NoError(t, env.store.SessionRepo().Create(ctx, sibling))

	out, err := env.sessions.Rotate(ctx, created.RefreshToken)
	require.NoError(t, err)

	_, err = env.sessions.Rotate(ctx, created.RefreshToken)
	require.ErrorIs(t, err, domainerrors.ErrRefreshTokenReused)

	for _, id := range []uuid.UUID{created.Session.ID, sibling.ID} {
		stored := env.session(t, id)
		assert.True(t, stored.IsRevoked())
		assert.Equal(t, entity.RevokeReasonReuseDetected, stored.RevokedReason)
	}
	assert.False(t, env.session(t, bystander.Session.ID).IsRevoked())

	_, err = env.sessions.Rotate(ctx, out.RefreshToken)
	assert.ErrorIs(t, err, domainerrors.ErrSessionRevoked)

	assert.Equal(t, 1, env.metrics.reuseDetected)
	assert.Equal(t, int64(2), env.metrics.revoked[entity.RevokeReasonReuseDetected])

	events := env.publisher.published(service.SecurityEventRefreshReuse)
	require.Len(t, events, 1)
	assert.Equal(t, user.ID.String(), events[0].UserID)
	assert.Equal(t, created.Session.FamilyID.String(), events[0].FamilyID)
	assert.Equal(t, int64(2), events[0].Revoked)
	assert.NotEmpty(t, events[0].EventID)
}

func TestSessionService_Rotate_DeviceMismatchLeavesSessionUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "rider@example.com")
	created := createSession(t, env, user.ID, "phone-1")
	before := env.session(t, created.Session.ID)

	forged, _, err := env.tokens.IssueRefreshToken(service.RefreshBinding{
		UserID:    user.ID,
		SessionID: created.Session.ID,
		DeviceID:  "laptop-9",
		FamilyID:  created.Session.FamilyID,
	})
	require.NoError(t, err)

	_, err = env.sessions.Rotate(ctx, forged)
	assert.ErrorIs(t, err, domainerrors.ErrDeviceMismatch)
	assert.ErrorIs(t, err, domainerrors.ErrUnauthorized)

	assert.Equal(t, before, env.session(t, created.Session.ID))
	assert.Zero(t, env.metrics.reuseDetected)

	_, err = env.sessions.Rotate(ctx, created.RefreshToken)
	assert.NoError(t, err)
}

func TestSessionService_Rotate_LazyExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "rider@example.com")
	created := createSession(t, env, user.ID, "phone-1")

	env.clock.Advance(30*24*time.Hour + time.Minute)

	assert.False(t, env.session(t, created.Session.ID).IsRevoked())

	_, err := env.sessions.Rotate(ctx, created.RefreshToken)
	assert.ErrorIs(t, err, domainerrors.ErrSessionRevoked)

	stored := env.session(t, created.Session.ID)
	require.True(t, stored.IsRevoked())
	assert.Equal(t, entity.RevokeReasonExpired, stored.RevokedReason)
	assert.Equal(t, env.clock.Now(), *stored.RevokedAt)
}

func TestSessionService_Rotate_RejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "rider@example.com")
	created := createSession(t, env, user.ID, "phone-1")

	access, _, err := env.tokens.IssueAccessToken(user.ID, user.Email, user.SubscriptionTier)
	require.NoError(t, err)

	orphan, _, err := env.tokens.IssueRefreshToken(service.RefreshBinding{
		UserID:    user.ID,
		SessionID: uuid.New(),
		DeviceID:  "phone-1",
		FamilyID:  uuid.New(),
	})
	require.NoError(t, err)

	otherFamily, _, err := env.tokens.IssueRefreshToken(service.RefreshBinding{
		UserID:    user.ID,
		SessionID: created.Session.ID,
		DeviceID:  "phone-1",
		FamilyID:  uuid.New(),
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "garbage", token: "not-a-jwt", want: domainerrors.ErrInvalidToken},
		{name: "access token", token: access, want: domainerrors.ErrInvalidToken},
		{name: "unknown session", token: orphan, want: domainerrors.ErrSessionNotFound},
		{name: "family mismatch", token: otherFamily, want: domainerrors.ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.sessions.Rotate(ctx, tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.False(t, env.session(t, created.Session.ID).IsRevoked())
}

func TestSessionService_Rotate_DeletedOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "rider@example.com")
	created := createSession(t, env, user.ID, "phone-1")

	require.NoError(t, env.store.UserRepo().SoftDelete(ctx, user.ID, env.clock.Now()))

	_, err := env.sessions.Rotate(ctx, created.RefreshToken)
	assert.ErrorIs(t, err, domainerrors.ErrSessionRevoked)
	assert.Equal(t, entity.RevokeReasonAccountDeleted, env.session(t, created.Session.ID).RevokedReason)
}

func TestSessionService_Rotate_ConcurrentCallsHaveOneWinner(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "rider@example.com")
	created := createSession(t, env, user.ID, "phone-1")

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*usecase.RotateOutput
		errs    []error
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := env.sessions.Rotate(context.Background(), created.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)

				return
			}
			winners = append(winners, out)
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.Len(t, errs, callers-1)
	for _, err := range errs {
		assert.True(t,
			errors.Is(err, domainerrors.ErrRefreshTokenReused) || errors.Is(err, domainerrors.ErrSessionRevoked),
			"unexpected error: %v", err)
	}

	// A loser presented a superseded token, so the family is gone and the
	// winner's token is dead too.
	assert.True(t, env.session(t, created.Session.ID).IsRevoked())
	_, err := env.sessions.Rotate(context.Background(), winners[0].RefreshToken)
	assert.ErrorIs(t, err, domainerrors.ErrSessionRevoked)
}

func TestSessionService_RevokeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "rider@example.com")
	created := createSession(t, env, user.ID, "phone-1")

	revoked, err := env.sessions.Revoke(ctx, created.Session.ID, entity.RevokeReasonLogout)
	require.NoError(t, err)
	assert.Equal(t, int64(1), revoked)
	firstRevokedAt := *env.session(t, created.Session.ID).RevokedAt

	env.clock.Advance(time.Minute)
	revoked, err = env.sessions.Revoke(ctx, created.Session.ID, entity.RevokeReasonUserRevoked)
	require.NoError(t, err)
	assert.Zero(t, revoked)

	stored := env.session(t, created.Session.ID)
	assert.Equal(t, firstRevokedAt, *stored.RevokedAt)
	assert.Equal(t, entity.RevokeReasonLogout, stored.RevokedReason)
	assert.Equal(t, int64(1), env.metrics.revoked[entity.RevokeReasonLogout])
}

func TestSessionService_RevokeScopes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "rider@example.com")
	other := env.seedUser(t, "other@example.com")

	phone := createSession(t, env, user.ID, "phone-1")
	phoneAgain := createSession(t, env, user.ID, "phone-1")
	tablet := createSession(t, env, user.ID, "tablet-1")
	otherPhone := createSession(t, env, other.ID, "phone-1")

	revoked, err := env.sessions.RevokeAllForDevice(ctx, user.ID, "phone-1", entity.RevokeReasonLogoutDevice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), revoked)
	assert.True(t, env.session(t, phone.Session.ID).IsRevoked())
	assert.True(t, env.session(t, phoneAgain.Session.ID).IsRevoked())
	assert.False(t, env.session(t, tablet.Session.ID).IsRevoked())
	assert.False(t, env.session(t, otherPhone.Session.ID).IsRevoked())

	revoked, err = env.sessions.RevokeAllForUser(ctx, user.ID, entity.RevokeReasonLogoutAll)
	require.NoError(t, err)
	assert.Equal(t, int64(1), revoked)
	assert.False(t, env.session(t, otherPhone.Session.ID).IsRevoked())

	revoked, err = env.sessions.RevokeFamily(ctx, otherPhone.Session.FamilyID, entity.RevokeReasonReuseDetected)
	require.NoError(t, err)
	assert.Equal(t, int64(1), revoked)
}

func TestSessionService_ListActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "rider@example.com")

	older := createSession(t, env, user.ID, "phone-1")
	env.clock.Advance(time.Minute)
	newer := createSession(t, env, user.ID, "tablet-1")
	env.clock.Advance(time.Minute)
	revoked := createSession(t, env, user.ID, "laptop-1")
	_, err := env.sessions.Revoke(ctx, revoked.Session.ID, entity.RevokeReasonLogout)
	require.NoError(t, err)

	sessions, err := env.sessions.ListActive(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.Session.ID, sessions[0].ID)
	assert.Equal(t, older.Session.ID, sessions[1].ID)

	env.clock.Advance(30 * 24 * time.Hour)
	sessions, err = env.sessions.ListActive(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
