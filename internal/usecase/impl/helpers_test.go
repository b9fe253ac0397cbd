package impl

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"keystone/config"
	"keystone/internal/domain/entity"
	"keystone/internal/domain/service"
	"keystone/internal/infra/auth"
	"keystone/internal/infra/crypto"
	"keystone/internal/infra/persistence/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockVerifier struct {
	mock.Mock
	provider entity.ProviderType
}

func (m *mockVerifier) Provider() entity.ProviderType {
	return m.provider
}

func (m *mockVerifier) VerifyIdentity(ctx context.Context, idToken string) (*service.VerifiedIdentity, error) {
	args := m.Called(ctx, idToken)
	identity, _ := args.Get(0).(*service.VerifiedIdentity)

	return identity, args.Error(1)
}

// mockExchangingVerifier also redeems authorization codes and revokes provider tokens.
type mockExchangingVerifier struct {
	mockVerifier
}

func (m *mockExchangingVerifier) ExchangeAuthorizationCode(ctx context.Context, code string) (*service.ProviderTokens, error) {
	args := m.Called(ctx, code)
	tokens, _ := args.Get(0).(*service.ProviderTokens)

	return tokens, args.Error(1)
}

func (m *mockExchangingVerifier) RevokeProviderToken(ctx context.Context, refreshToken string) error {
	return m.Called(ctx, refreshToken).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishSecurityEvent(ctx context.Context, event *service.SecurityEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) Close() error {
	return nil
}

// published returns the events of the given type seen so far.
func (m *mockPublisher) published(eventType string) []*service.SecurityEvent {
	var events []*service.SecurityEvent
	for _, call := range m.Calls {
		if call.Method != "PublishSecurityEvent" {
			continue
		}
		if event := call.Arguments.Get(1).(*service.SecurityEvent); event.Type == eventType {
			events = append(events, event)
		}
	}

	return events
}

type recordingMetrics struct {
	mu              sync.Mutex
	authentications map[string]int
	refreshes       map[string]int
	reuseDetected   int
	revoked         map[string]int64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		authentications: map[string]int{},
		refreshes:       map[string]int{},
		revoked:         map[string]int64{},
	}
}

func (m *recordingMetrics) RecordAuthentication(provider string, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authentications[provider+"/"+outcome]++
}

func (m *recordingMetrics) RecordRefresh(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes[outcome]++
}

func (m *recordingMetrics) RecordReuseDetected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reuseDetected++
}

func (m *recordingMetrics) RecordSessionsRevoked(reason string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[reason] += count
}

func (m *recordingMetrics) RecordKeyFetch(string, time.Duration, error) {}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	store     *memory.Store
	tokens    service.TokenService
	cipher    service.SecretCipher
	google    *mockVerifier
	apple     *mockExchangingVerifier
	publisher *mockPublisher
	metrics   *recordingMetrics
	clock     *testClock
	sessions  *sessionService
	auth      *authService
}

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
	cfg.Auth = config.AuthConfig{SessionTTL: "30d", TrialPeriod: "14d"}

	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := newTestConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokens, err := auth.NewJWTService(cfg)
	require.NoError(t, err)
	cipher, err := crypto.NewXChaChaCipher(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	env := &testEnv{
		store:     memory.NewStore(),
		tokens:    tokens,
		cipher:    cipher,
		google:    &mockVerifier{provider: entity.ProviderTypeGoogle},
		apple:     &mockExchangingVerifier{mockVerifier{provider: entity.ProviderTypeApple}},
		publisher: &mockPublisher{},
		metrics:   newRecordingMetrics(),
		clock:     &testClock{t: time.Now().UTC()},
	}
	env.publisher.On("PublishSecurityEvent", mock.Anything, mock.Anything).Return(nil).Maybe()

	env.sessions, err = newSessionService(SessionServiceParams{
		Repos:        env.store,
		TokenService: tokens,
		Publisher:    env.publisher,
		Metrics:      env.metrics,
		Config:       cfg,
		Logger:       logger,
	})
	require.NoError(t, err)
	env.sessions.now = env.clock.Now

	env.auth, err = newAuthService(AuthServiceParams{
		TxManager:    env.store,
		Repos:        env.store,
		Verifiers:    service.NewIdentityVerifierRegistry(env.google, env.apple),
		Cipher:       cipher,
		Sessions:     env.sessions,
		TokenService: tokens,
		Publisher:    env.publisher,
		Metrics:      env.metrics,
		Config:       cfg,
		Logger:       logger,
	})
	require.NoError(t, err)
	env.auth.now = env.clock.Now

	return env
}

// seedUser stores a live user the way a previous sign-in would have.
func (env *testEnv) seedUser(t *testing.T, email string) *entity.User {
	t.Helper()

	now := env.clock.Now()
	user := &entity.User{
		ID:               uuid.New(),
		Email:            email,
		EmailVerified:    true,
		SubscriptionTier: entity.SubscriptionTierFree,
		Settings:         entity.DefaultUserSettings(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, env.store.UserRepo().Create(context.Background(), user))

	return user
}

// session reads the stored state of a session.
func (env *testEnv) session(t *testing.T, id uuid.UUID) *entity.Session {
	t.Helper()

	session, err := env.store.SessionRepo().FindByID(context.Background(), id)
	require.NoError(t, err)

	return session
}

func device(id string) entity.DeviceInfo {
	return entity.DeviceInfo{DeviceID: id, DeviceName: id + " name", Platform: "ios", AppVersion: "1.0.0"}
}
