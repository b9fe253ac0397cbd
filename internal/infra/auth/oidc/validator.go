package oidc

import (
	"context"
	"slices"
	"strings"
	"time"

	"keystone/internal/domain/entity"
	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/errors"

	"github.com/golang-jwt/jwt/v5"
)

// FlexBool decodes a JSON boolean that some providers send as a string.
type FlexBool bool

// UnmarshalJSON accepts true, false, "true" and "false".
func (b *FlexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true":
		*b = true
	case "false", "", "null":
		*b = false
	default:
		return errors.Errorf("invalid boolean value %s", data)
	}

	return nil
}

// IDTokenClaims are the claims read from provider ID tokens.
type IDTokenClaims struct {
	Email          string   `json:"email"`
	EmailVerified  FlexBool `json:"email_verified"`
	IsPrivateEmail FlexBool `json:"is_private_email"`
	Name           string   `json:"name"`
	GivenName      string   `json:"given_name"`
	FamilyName     string   `json:"family_name"`
	Picture        string   `json:"picture"`
	Nonce          string   `json:"nonce"`
	jwt.RegisteredClaims
}

// Validator verifies RS256 ID tokens against a KeyCache and a fixed set of
// accepted issuers and audiences.
type Validator struct {
	provider  entity.ProviderType
	issuers   []string
	audiences []string
	keys      *KeyCache
	now       func() time.Time
}

// NewValidator builds a Validator. At least one issuer and audience are required.
func NewValidator(provider entity.ProviderType, keys *KeyCache, issuers, audiences []string) (*Validator, error) {
	if keys == nil {
		return nil, errors.Errorf("%s: key cache is required", provider)
	}
	if len(issuers) == 0 {
		return nil, errors.Errorf("%s: at least one issuer is required", provider)
	}
	if len(audiences) == 0 {
		return nil, errors.Errorf("%s: at least one client id is required", provider)
	}

	return &Validator{
		provider:  provider,
		issuers:   issuers,
		audiences: audiences,
		keys:      keys,
		now:       time.Now,
	}, nil
}

// Validate verifies rawToken and returns its claims.
//
// Any rejection is ErrInvalidCredential with the reason only in the wrapped
// message. A key fetch failure is returned as ErrIdentityProviderUnavailable.
func (v *Validator) Validate(ctx context.Context, rawToken string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}

	var keyErr error
	_, err := jwt.ParseWithClaims(rawToken, claims,
		func(token *jwt.Token) (any, error) {
			kid, _ := token.Header["kid"].(string)
			if kid == "" {
				keyErr = domainerrors.ErrInvalidCredential.WrapMessage("missing key id")

				return nil, keyErr
			}
			key, err := v.keys.Key(ctx, kid)
			if err != nil {
				keyErr = err

				return nil, err
			}

			return key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if keyErr != nil && errors.Is(keyErr, domainerrors.ErrInternalError) {
		return nil, keyErr
	}
	if err != nil {
		return nil, domainerrors.ErrInvalidCredential.WrapMessage(v.provider.String() + ": " + err.Error())
	}

	if err := v.checkClaims(claims); err != nil {
		return nil, domainerrors.ErrInvalidCredential.WrapMessage(v.provider.String() + ": " + err.Error())
	}

	return claims, nil
}

func (v *Validator) checkClaims(claims *IDTokenClaims) error {
	if !slices.Contains(v.issuers, claims.Issuer) {
		return errors.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if !slices.ContainsFunc(claims.Audience, func(aud string) bool {
		return slices.Contains(v.audiences, aud)
	}) {
		return errors.New("audience does not match any client id")
	}
	if claims.ExpiresAt == nil || !v.now().Before(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if claims.Subject == "" {
		return errors.New("missing subject")
	}

	return nil
}
