// Package auth provides concrete implementations for authentication-related domain services.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"keystone/config"
	"keystone/internal/domain/entity"
	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/domain/service"
	"keystone/internal/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// jwtService is a concrete implementation of the TokenService interface using HS256 JWTs.
// Access and refresh tokens are signed with different secrets.
type jwtService struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewJWTService is the constructor for jwtService.
func NewJWTService(cfg *config.Config) (service.TokenService, error) {
	if cfg.SecretKey.Access == "" || cfg.SecretKey.Refresh == "" {
		return nil, errors.New("jwt secrets must be provided")
	}
	if cfg.SecretKey.Access == cfg.SecretKey.Refresh {
		return nil, errors.New("access and refresh secrets must differ")
	}

	accessTTL, err := config.ParseDuration(cfg.Token.AccessTTL)
	if err != nil {
		return nil, errors.Wrap(err, "token.accessTTL")
	}
	refreshTTL, err := config.ParseDuration(cfg.Token.RefreshTTL)
	if err != nil {
		return nil, errors.Wrap(err, "token.refreshTTL")
	}

	return &jwtService{
		accessSecret:  []byte(cfg.SecretKey.Access),
		refreshSecret: []byte(cfg.SecretKey.Refresh),
		issuer:        cfg.Token.Issuer,
		audience:      cfg.Token.Audience,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}, nil
}

// IssueAccessToken signs a short-lived access token for the user.
func (s *jwtService) IssueAccessToken(userID uuid.UUID, email string, tier entity.SubscriptionTier) (string, int64, error) {
	claims := &service.AccessClaims{
		Email:            email,
		Tier:             tier,
		TokenUse:         service.TokenUseAccess,
		RegisteredClaims: s.registeredClaims(userID, s.accessTTL),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return "", 0, errors.Wrap(err, "sign access token")
	}

	return token, int64(s.accessTTL / time.Second), nil
}

// IssueRefreshToken signs a refresh token bound to a session, device and family.
func (s *jwtService) IssueRefreshToken(binding service.RefreshBinding) (string, time.Time, error) {
	claims := &service.RefreshClaims{
		SessionID:        binding.SessionID,
		DeviceID:         binding.DeviceID,
		FamilyID:         binding.FamilyID,
		TokenUse:         service.TokenUseRefresh,
		RegisteredClaims: s.registeredClaims(binding.UserID, s.refreshTTL),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign refresh token")
	}

	return token, claims.ExpiresAt.Time, nil
}

// VerifyAccessToken checks signature, issuer, audience, expiry and token use.
func (s *jwtService) VerifyAccessToken(token string) (*service.AccessClaims, error) {
	claims := &service.AccessClaims{}
	if err := s.parse(token, claims, s.accessSecret); err != nil {
		return nil, err
	}
	if claims.TokenUse != service.TokenUseAccess {
		return nil, domainerrors.ErrInvalidToken.WrapMessage("not an access token")
	}
	if _, err := claims.UserID(); err != nil {
		return nil, domainerrors.ErrInvalidToken.WrapMessage("malformed subject")
	}

	return claims, nil
}

// VerifyRefreshToken checks signature, issuer, audience, expiry, token use and binding.
func (s *jwtService) VerifyRefreshToken(token string) (*service.RefreshClaims, error) {
	claims := &service.RefreshClaims{}
	if err := s.parse(token, claims, s.refreshSecret); err != nil {
		return nil, err
	}
	if claims.TokenUse != service.TokenUseRefresh {
		return nil, domainerrors.ErrInvalidToken.WrapMessage("not a refresh token")
	}
	if _, err := claims.UserID(); err != nil {
		return nil, domainerrors.ErrInvalidToken.WrapMessage("malformed subject")
	}
	if claims.SessionID == uuid.Nil || claims.FamilyID == uuid.Nil || claims.DeviceID == "" {
		return nil, domainerrors.ErrInvalidToken.WrapMessage("incomplete refresh binding")
	}

	return claims, nil
}

func (s *jwtService) parse(token string, claims jwt.Claims, secret []byte) error {
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err == nil {
		return nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return domainerrors.ErrTokenExpired.WrapMessage(err.Error())
	}

	return domainerrors.ErrInvalidToken.WrapMessage(err.Error())
}

func (s *jwtService) registeredClaims(subject uuid.UUID, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()

	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject.String(),
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *jwtService) HashToken(raw string) string {
	return HashToken(raw)
}

// HashToken returns the hex SHA-256 of a raw token, the only form in which refresh tokens are stored.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))

	return hex.EncodeToString(sum[:])
}
