package apple

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"keystone/config"
	"keystone/internal/domain/entity"
	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/domain/service"
	"keystone/internal/errors"
	"keystone/internal/infra/auth/oidc"
	"keystone/internal/infra/auth/oidc/oidctest"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "com.example.keystone"
	testTeamID   = "TEAM123456"
	testKeyID    = "KEY1234567"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func appleClaims() *oidc.IDTokenClaims {
	now := time.Now()

	return &oidc.IDTokenClaims{
		Email:          "Relay@privaterelay.appleid.com",
		EmailVerified:  true,
		IsPrivateEmail: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://appleid.apple.com",
			Subject:   "001234.apple.sub",
			Audience:  jwt.ClaimStrings{testClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		},
	}
}

func generateKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

type fakeAppleServer struct {
	server   *httptest.Server
	idToken  string
	status   int
	forms    atomic.Value
	revoked  atomic.Value
	pubKey   *ecdsa.PublicKey
	tokenHit atomic.Int64
}

func newFakeAppleServer(t *testing.T, pub *ecdsa.PublicKey, idToken string) *fakeAppleServer {
	t.Helper()

	f := &fakeAppleServer{idToken: idToken, status: http.StatusOK, pubKey: pub}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenHit.Add(1)
		require.NoError(t, r.ParseForm())
		f.forms.Store(r.PostForm)

		w.Header().Set("Content-Type", "application/json")
		if f.status != http.StatusOK {
			w.WriteHeader(f.status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})

			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "apple-access",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "apple-refresh",
			"id_token":      f.idToken,
		})
	})
	mux.HandleFunc("/auth/revoke", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.revoked.Store(r.PostForm.Get("token"))
		w.WriteHeader(http.StatusOK)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	return f
}

func newExchangingTestVerifier(t *testing.T) (*ExchangingVerifier, *fakeAppleServer, *oidctest.Provider) {
	t.Helper()

	provider := oidctest.NewProvider(t, "apple-kid")
	key, keyPEM := generateKey(t)
	fake := newFakeAppleServer(t, &key.PublicKey, provider.Sign(t, "apple-kid", appleClaims()))

	verifier, err := NewVerifier(&config.AppleConfig{
		ClientID:        testClientID,
		TeamID:          testTeamID,
		KeyID:           testKeyID,
		PrivateKey:      keyPEM,
		RedirectURI:     "https://keystone.example.com/auth/apple/callback",
		TokenURL:        fake.server.URL + "/auth/token",
		RevokeURL:       fake.server.URL + "/auth/revoke",
		JWKSURL:         provider.URL(),
		ClientSecretTTL: 365 * 24 * time.Hour,
	}, config.IdentityConfig{KeyCacheTTL: time.Hour, HTTPTimeout: 5 * time.Second}, nil, nil, discardLogger())
	require.NoError(t, err)

	exchanging, ok := verifier.(*ExchangingVerifier)
	require.True(t, ok)

	return exchanging, fake, provider
}

func TestVerifier_VerifyIdentity(t *testing.T) {
	provider := oidctest.NewProvider(t, "apple-kid")
	verifier, err := NewVerifier(&config.AppleConfig{ClientID: testClientID, JWKSURL: provider.URL()},
		config.IdentityConfig{KeyCacheTTL: time.Hour}, nil, nil, discardLogger())
	require.NoError(t, err)

	_, exchanges := verifier.(service.AuthorizationExchanger)
	assert.False(t, exchanges, "verifier without a signing key must not offer code exchange")

	identity, err := verifier.VerifyIdentity(context.Background(), provider.Sign(t, "apple-kid", appleClaims()))
	require.NoError(t, err)
	assert.Equal(t, entity.ProviderTypeApple, identity.Provider)
	assert.Equal(t, "001234.apple.sub", identity.Subject)
	assert.Equal(t, "relay@privaterelay.appleid.com", identity.Email)
	assert.True(t, identity.EmailVerified)
}

func TestVerifier_RejectsGoogleToken(t *testing.T) {
	provider := oidctest.NewProvider(t, "apple-kid")
	verifier, err := NewVerifier(&config.AppleConfig{ClientID: testClientID, JWKSURL: provider.URL()},
		config.IdentityConfig{KeyCacheTTL: time.Hour}, nil, nil, discardLogger())
	require.NoError(t, err)

	claims := appleClaims()
	claims.Issuer = "https://accounts.google.com"

	_, err = verifier.VerifyIdentity(context.Background(), provider.Sign(t, "apple-kid", claims))
	assert.True(t, errors.Is(err, domainerrors.ErrInvalidCredential))
}

func TestExchangingVerifier_ExchangeAuthorizationCode(t *testing.T) {
	verifier, fake, _ := newExchangingTestVerifier(t)

	tokens, err := verifier.ExchangeAuthorizationCode(context.Background(), "auth-code-1")
	require.NoError(t, err)
	assert.Equal(t, "apple-access", tokens.AccessToken)
	assert.Equal(t, "apple-refresh", tokens.RefreshToken)
	assert.Equal(t, fake.idToken, tokens.IDToken)
	assert.False(t, tokens.Expiry.IsZero())

	identity, err := verifier.VerifyIdentity(context.Background(), tokens.IDToken)
	require.NoError(t, err)
	assert.Equal(t, "001234.apple.sub", identity.Subject)

	form, ok := fake.forms.Load().(url.Values)
	require.True(t, ok)
	assert.Equal(t, []string{"authorization_code"}, form["grant_type"])
	assert.Equal(t, []string{"auth-code-1"}, form["code"])
	assert.Equal(t, []string{testClientID}, form["client_id"])
	require.Len(t, form["client_secret"], 1)

	secret, err := jwt.ParseWithClaims(form["client_secret"][0], &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return fake.pubKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	assert.Equal(t, testKeyID, secret.Header["kid"])

	claims, ok := secret.Claims.(*jwt.RegisteredClaims)
	require.True(t, ok)
	assert.Equal(t, testTeamID, claims.Issuer)
	assert.Equal(t, testClientID, claims.Subject)
	assert.Equal(t, jwt.ClaimStrings{"https://appleid.apple.com"}, claims.Audience)
	assert.LessOrEqual(t, claims.ExpiresAt.Sub(claims.IssuedAt.Time), maxClientSecretTTL)
}

func TestExchangingVerifier_RejectedCodeIsInvalidCredential(t *testing.T) {
	verifier, fake, _ := newExchangingTestVerifier(t)
	fake.status = http.StatusBadRequest

	_, err := verifier.ExchangeAuthorizationCode(context.Background(), "used-code")
	assert.True(t, errors.Is(err, domainerrors.ErrInvalidCredential), "got %v", err)
}

func TestExchangingVerifier_OutageIsInternal(t *testing.T) {
	verifier, fake, _ := newExchangingTestVerifier(t)
	fake.status = http.StatusServiceUnavailable

	_, err := verifier.ExchangeAuthorizationCode(context.Background(), "code")
	assert.True(t, errors.Is(err, domainerrors.ErrIdentityProviderUnavailable), "got %v", err)
	assert.True(t, errors.Is(err, domainerrors.ErrInternalError))
}

func TestExchangingVerifier_RevokeProviderToken(t *testing.T) {
	verifier, fake, _ := newExchangingTestVerifier(t)

	require.NoError(t, verifier.RevokeProviderToken(context.Background(), "apple-refresh"))
	assert.Equal(t, "apple-refresh", fake.revoked.Load())

	require.NoError(t, verifier.RevokeProviderToken(context.Background(), ""))
}

func TestNewVerifier_Validation(t *testing.T) {
	_, err := NewVerifier(nil, config.IdentityConfig{}, nil, nil, discardLogger())
	assert.Error(t, err)

	_, err = NewVerifier(&config.AppleConfig{ClientID: testClientID, TeamID: testTeamID, KeyID: testKeyID, PrivateKey: "not a pem"},
		config.IdentityConfig{}, nil, nil, discardLogger())
	assert.Error(t, err)
}
