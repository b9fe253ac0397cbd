// Package google verifies Sign in with Google ID tokens.
package google

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
)

const defaultJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

// Google signs ID tokens with either issuer form.
var issuers = []string{"https://accounts.google.com", "accounts.google.com"}

// Verifier implements service.IdentityVerifier for Google.
// Google clients receive ID tokens directly, so there is no code exchange.
type Verifier struct {
	validator *oidc.Validator
	logger    *slog.Logger
}

// NewVerifier builds a Google verifier from configuration.
func NewVerifier(cfg *config.GoogleConfig, identity config.IdentityConfig, httpClient *http.Client, metrics service.AuthMetrics, logger *slog.Logger) (*Verifier, error) {
	if cfg == nil || len(cfg.ClientIDs) == 0 {
		return nil, errors.New("google: at least one client id is required")
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = defaultJWKSURL
	}

	keys, err := oidc.NewKeyCache(oidc.KeyCacheConfig{
		Provider:   entity.ProviderTypeGoogle,
		JWKSURL:    jwksURL,
		TTL:        identity.KeyCacheTTL,
		HTTPClient: httpClient,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return nil, err
	}

	validator, err := oidc.NewValidator(entity.ProviderTypeGoogle, keys, issuers, cfg.ClientIDs)
	if err != nil {
		return nil, err
	}

	return &Verifier{validator: validator, logger: logger}, nil
}

// Provider returns the OAuth provider type
func (v *Verifier) Provider() entity.ProviderType {
	return entity.ProviderTypeGoogle
}

// VerifyIdentity validates a Google ID token.
func (v *Verifier) VerifyIdentity(ctx context.Context, idToken string) (*service.VerifiedIdentity, error) {
	log := deliverycontext.GetLoggerOrDefault(ctx, v.logger)

	claims, err := v.validator.Validate(ctx, idToken)
	if err != nil {
		log.Warn("Google ID token rejected", slog.Any("error", err))

		return nil, err
	}

	log.Debug("Google ID token verified", slog.String("subject", claims.Subject))

	return &service.VerifiedIdentity{
		Provider:      entity.ProviderTypeGoogle,
		Subject:       claims.Subject,
		Email:         strings.ToLower(strings.TrimSpace(claims.Email)),
		EmailVerified: bool(claims.EmailVerified),
		Name:          claims.Name,
		AvatarURL:     claims.Picture,
	}, nil
}
