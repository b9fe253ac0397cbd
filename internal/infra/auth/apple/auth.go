// Package apple verifies Sign in with Apple identity tokens and talks to
// Apple's token endpoints for code exchange and revocation.
package apple

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"keystone/config"
	deliverycontext "keystone/internal/delivery/context"
	"keystone/internal/domain/entity"
	"keystone/internal/domain/service"
	"keystone/internal/errors"
	"keystone/internal/infra/auth/oidc"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer           = "https://appleid.apple.com"
	defaultJWKSURL   = "https://appleid.apple.com/auth/keys"
	defaultTokenURL  = "https://appleid.apple.com/auth/token"
	defaultRevokeURL = "https://appleid.apple.com/auth/revoke"
)

// Verifier implements service.IdentityVerifier for Apple.
type Verifier struct {
	validator *oidc.Validator
	logger    *slog.Logger
}

// NewVerifier returns a verifier for Apple identity tokens. When the team id,
// key id and private key are configured the result is an *ExchangingVerifier
// that can also redeem authorization codes and revoke provider tokens.
func NewVerifier(cfg *config.AppleConfig, identity config.IdentityConfig, httpClient *http.Client, metrics service.AuthMetrics, logger *slog.Logger) (service.IdentityVerifier, error) {
	if cfg == nil || cfg.ClientID == "" {
		return nil, errors.New("apple: client id is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: identity.HTTPTimeout}
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = defaultJWKSURL
	}

	keys, err := oidc.NewKeyCache(oidc.KeyCacheConfig{
		Provider:   entity.ProviderTypeApple,
		JWKSURL:    jwksURL,
		TTL:        identity.KeyCacheTTL,
		HTTPClient: httpClient,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return nil, err
	}

	validator, err := oidc.NewValidator(entity.ProviderTypeApple, keys, []string{issuer}, []string{cfg.ClientID})
	if err != nil {
		return nil, err
	}

	verifier := &Verifier{validator: validator, logger: logger}

	if cfg.TeamID == "" || cfg.KeyID == "" || cfg.PrivateKey == "" {
		logger.Info("Apple code exchange disabled: team id, key id or private key not configured")

		return verifier, nil
	}

	privateKey, err := jwt.ParseECPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, errors.Wrap(err, "apple: parse private key")
	}

	return newExchangingVerifier(verifier, cfg, privateKey, httpClient)
}

// Provider returns the OAuth provider type
func (v *Verifier) Provider() entity.ProviderType {
	return entity.ProviderTypeApple
}

// VerifyIdentity validates an Apple identity token.
//
// Apple only includes the email on the first authorization and sends
// email_verified as a string; both are handled by the shared claims type.
func (v *Verifier) VerifyIdentity(ctx context.Context, idToken string) (*service.VerifiedIdentity, error) {
	log := deliverycontext.GetLoggerOrDefault(ctx, v.logger)

	claims, err := v.validator.Validate(ctx, idToken)
	if err != nil {
		log.Warn("Apple identity token rejected", slog.Any("error", err))

		return nil, err
	}

	log.Debug("Apple identity token verified",
		slog.String("subject", claims.Subject),
		slog.Bool("private_email", bool(claims.IsPrivateEmail)),
	)

	return &service.VerifiedIdentity{
		Provider:      entity.ProviderTypeApple,
		Subject:       claims.Subject,
		Email:         strings.ToLower(strings.TrimSpace(claims.Email)),
		EmailVerified: bool(claims.EmailVerified),
	}, nil
}
