package auth

import (
	"strings"
	"testing"
	"time"

	"keystone/config"
	"keystone/internal/domain/entity"
	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/domain/service"
	"keystone/internal/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SecretKey = config.SecretKeyConfig{
		Access:  "test_access_secret_key_very_long_for_testing",
		Refresh: "test_refresh_secret_key_very_long_for_testing",
	}
	cfg.Token = config.TokenConfig{
		Issuer:     "keystone",
		Audience:   "keystone-app",
		AccessTTL:  "15m",
		RefreshTTL: "30d",
	}

	return cfg
}

func newTestJWTService(t *testing.T) *jwtService {
	t.Helper()
	svc, err := NewJWTService(newTestConfig())
	require.NoError(t, err)

	return svc.(*jwtService)
}

func TestJWTService_AccessTokenRoundTrip(t *testing.T) {
	svc := newTestJWTService(t)
	userID := uuid.New()

	token, expiresIn, err := svc.IssueAccessToken(userID, "rider@example.com", entity.SubscriptionTierTrial)
	require.NoError(t, err)
	assert.Equal(t, int64(900), expiresIn)

	claims, err := svc.VerifyAccessToken(token)
	require.NoError(t, err)

	gotUserID, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, gotUserID)
	assert.Equal(t, "rider@example.com", claims.Email)
	assert.Equal(t, entity.SubscriptionTierTrial, claims.Tier)
	assert.Equal(t, service.TokenUseAccess, claims.TokenUse)
	assert.Equal(t, "keystone", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestJWTService_RefreshTokenRoundTrip(t *testing.T) {
	svc := newTestJWTService(t)
	binding := service.RefreshBinding{
		UserID:    uuid.New(),
		SessionID: uuid.New(),
		DeviceID:  "device-1",
		FamilyID:  uuid.New(),
	}

	token, expiresAt, err := svc.IssueRefreshToken(binding)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.VerifyRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, binding.SessionID, claims.SessionID)
	assert.Equal(t, binding.DeviceID, claims.DeviceID)
	assert.Equal(t, binding.FamilyID, claims.FamilyID)
	assert.Equal(t, binding.UserID.String(), claims.Subject)
}

func TestJWTService_TokensAreUnique(t *testing.T) {
	svc := newTestJWTService(t)
	binding := service.RefreshBinding{UserID: uuid.New(), SessionID: uuid.New(), DeviceID: "d", FamilyID: uuid.New()}

	first, _, err := svc.IssueRefreshToken(binding)
	require.NoError(t, err)
	second, _, err := svc.IssueRefreshToken(binding)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NotEqual(t, HashToken(first), HashToken(second))
}

func TestJWTService_SecretsAreScoped(t *testing.T) {
	svc := newTestJWTService(t)

	access, _, err := svc.IssueAccessToken(uuid.New(), "a@example.com", entity.SubscriptionTierFree)
	require.NoError(t, err)
	refresh, _, err := svc.IssueRefreshToken(service.RefreshBinding{
		UserID: uuid.New(), SessionID: uuid.New(), DeviceID: "d", FamilyID: uuid.New(),
	})
	require.NoError(t, err)

	_, err = svc.VerifyRefreshToken(access)
	assert.True(t, errors.Is(err, domainerrors.ErrInvalidToken))

	_, err = svc.VerifyAccessToken(refresh)
	assert.True(t, errors.Is(err, domainerrors.ErrInvalidToken))
}

func TestJWTService_Expired(t *testing.T) {
	svc := newTestJWTService(t)
	issuedAt := time.Now().Add(-time.Hour)
	svc.now = func() time.Time { return issuedAt }

	token, _, err := svc.IssueAccessToken(uuid.New(), "a@example.com", entity.SubscriptionTierFree)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.VerifyAccessToken(token)
	assert.True(t, errors.Is(err, domainerrors.ErrTokenExpired))
	assert.False(t, errors.Is(err, domainerrors.ErrInvalidToken))
}

func TestJWTService_RejectsForeignClaims(t *testing.T) {
	svc := newTestJWTService(t)

	otherCfg := newTestConfig()
	otherCfg.Token.Issuer = "someone-else"
	other, err := NewJWTService(otherCfg)
	require.NoError(t, err)

	foreign, _, err := other.IssueAccessToken(uuid.New(), "a@example.com", entity.SubscriptionTierFree)
	require.NoError(t, err)

	valid, _, err := svc.IssueAccessToken(uuid.New(), "a@example.com", entity.SubscriptionTierFree)
	require.NoError(t, err)
	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	tests := []struct {
		name  string
		token string
	}{
		{"wrong issuer", foreign},
		{"bad signature", tampered},
		{"malformed", "clearly-not-a-jwt-token-format"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := svc.VerifyAccessToken(tt.token)
			assert.Nil(t, claims)
			assert.True(t, errors.Is(err, domainerrors.ErrInvalidToken))
		})
	}
}

func TestNewJWTService_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		errMsg string
	}{
		{"empty secrets", func(c *config.Config) { c.SecretKey.Access = "" }, "jwt secrets must be provided"},
		{"shared secret", func(c *config.Config) { c.SecretKey.Refresh = c.SecretKey.Access }, "must differ"},
		{"bad access ttl", func(c *config.Config) { c.Token.AccessTTL = "15 minutes" }, "token.accessTTL"},
		{"bad refresh ttl", func(c *config.Config) { c.Token.RefreshTTL = "2w" }, "token.refreshTTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig()
			tt.mutate(cfg)

			svc, err := NewJWTService(cfg)
			assert.Nil(t, svc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestHashToken(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashToken(""))
	assert.Len(t, HashToken("refresh"), 64)
}
