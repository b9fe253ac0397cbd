package apple

import (
	"context"
	"crypto/ecdsa"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"keystone/config"
	deliverycontext "keystone/internal/delivery/context"
	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/domain/service"
	"keystone/internal/errors"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Apple rejects client secrets that live longer than six months.
const maxClientSecretTTL = 180 * 24 * time.Hour

// ExchangingVerifier is a Verifier that also holds the signing key Apple
// requires for its token and revoke endpoints.
type ExchangingVerifier struct {
	*Verifier

	clientID    string
	teamID      string
	keyID       string
	privateKey  *ecdsa.PrivateKey
	secretTTL   time.Duration
	redirectURI string
	tokenURL    string
	revokeURL   string
	httpClient  *http.Client
	now         func() time.Time
}

var (
	_ service.AuthorizationExchanger = (*ExchangingVerifier)(nil)
	_ service.ProviderTokenRevoker   = (*ExchangingVerifier)(nil)
)

func newExchangingVerifier(v *Verifier, cfg *config.AppleConfig, key *ecdsa.PrivateKey, httpClient *http.Client) (*ExchangingVerifier, error) {
	ttl := cfg.ClientSecretTTL
	if ttl <= 0 || ttl > maxClientSecretTTL {
		ttl = maxClientSecretTTL
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = defaultRevokeURL
	}

	return &ExchangingVerifier{
		Verifier:    v,
		clientID:    cfg.ClientID,
		teamID:      cfg.TeamID,
		keyID:       cfg.KeyID,
		privateKey:  key,
		secretTTL:   ttl,
		redirectURI: cfg.RedirectURI,
		tokenURL:    tokenURL,
		revokeURL:   revokeURL,
		httpClient:  httpClient,
		now:         time.Now,
	}, nil
}

// clientSecret signs the ES256 assertion Apple accepts as client_secret.
func (v *ExchangingVerifier) clientSecret() (string, error) {
	now := v.now()
	claims := jwt.RegisteredClaims{
		Issuer:    v.teamID,
		Subject:   v.clientID,
		Audience:  jwt.ClaimStrings{issuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(v.secretTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = v.keyID

	signed, err := token.SignedString(v.privateKey)
	if err != nil {
		return "", errors.Wrap(err, "sign apple client secret")
	}

	return signed, nil
}

func (v *ExchangingVerifier) oauthConfig(secret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     v.clientID,
		ClientSecret: secret,
		RedirectURL:  v.redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  v.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// ExchangeAuthorizationCode redeems an authorization code at Apple's token
// endpoint. The returned tokens include the identity token to verify.
func (v *ExchangingVerifier) ExchangeAuthorizationCode(ctx context.Context, code string) (*service.ProviderTokens, error) {
	log := deliverycontext.GetLoggerOrDefault(ctx, v.logger)

	secret, err := v.clientSecret()
	if err != nil {
		return nil, domainerrors.ErrInternalError.WrapMessage(err.Error())
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.httpClient)
	token, err := v.oauthConfig(secret).Exchange(ctx, code)
	if err != nil {
		log.Warn("Apple authorization code exchange failed", slog.Any("error", err))

		return nil, classifyExchangeError(err)
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		log.Warn("Apple token response carried no id_token")

		return nil, domainerrors.ErrInvalidCredential.WithDetails("token response missing id_token")
	}

	return &service.ProviderTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      idToken,
		Expiry:       token.Expiry,
	}, nil
}

// classifyExchangeError separates a rejected code (4xx) from Apple being
// unreachable or failing.
func classifyExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
			return domainerrors.ErrInvalidCredential.WithDetails(retrieveErr.ErrorCode)
		}
	}

	return errors.Wrap(domainerrors.ErrIdentityProviderUnavailable, err.Error())
}

// RevokeProviderToken asks Apple to invalidate a refresh token it issued.
func (v *ExchangingVerifier) RevokeProviderToken(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	secret, err := v.clientSecret()
	if err != nil {
		return err
	}

	form := url.Values{
		"client_id":       {v.clientID},
		"client_secret":   {secret},
		"token":           {refreshToken},
		"token_type_hint": {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "build apple revoke request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(domainerrors.ErrIdentityProviderUnavailable, err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(domainerrors.ErrIdentityProviderUnavailable, "apple revoke returned status %d", resp.StatusCode)
	}

	return nil
}
