package service

import (
	"context"
	"time"

	"keystone/internal/domain/entity"
)

// VerifiedIdentity is what a provider vouches for after its identity token checked out.
type VerifiedIdentity struct {
	Provider      entity.ProviderType
	Subject       string // Provider-specific user ID (the 'sub' claim)
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// ProviderTokens is the result of an authorization code exchange.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

// IdentityVerifier verifies identity tokens issued by one provider.
//
// VerifyIdentity returns ErrInvalidCredential when the token is not acceptable
// and ErrIdentityProviderUnavailable when the provider keys could not be fetched.
type IdentityVerifier interface {
	Provider() entity.ProviderType
	VerifyIdentity(ctx context.Context, idToken string) (*VerifiedIdentity, error)
}

// AuthorizationExchanger is implemented by providers that issue authorization codes.
type AuthorizationExchanger interface {
	ExchangeAuthorizationCode(ctx context.Context, code string) (*ProviderTokens, error)
}

// ProviderTokenRevoker is implemented by providers that accept server-side token revocation.
type ProviderTokenRevoker interface {
	RevokeProviderToken(ctx context.Context, refreshToken string) error
}

// IdentityVerifierRegistry selects a verifier by provider tag.
type IdentityVerifierRegistry map[entity.ProviderType]IdentityVerifier

// NewIdentityVerifierRegistry indexes the given verifiers by provider. Nil entries are skipped.
func NewIdentityVerifierRegistry(verifiers ...IdentityVerifier) IdentityVerifierRegistry {
	registry := make(IdentityVerifierRegistry, len(verifiers))
	for _, v := range verifiers {
		if v == nil {
			continue
		}
		registry[v.Provider()] = v
	}

	return registry
}

// Get returns the verifier for provider.
func (r IdentityVerifierRegistry) Get(provider entity.ProviderType) (IdentityVerifier, bool) {
	v, ok := r[provider]

	return v, ok
}
