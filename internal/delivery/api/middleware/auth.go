package middleware

import (
	"strings"

	deliverycontext "keystone/internal/delivery/context"
	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/domain/service"

	"github.com/labstack/echo/v4"
)

const bearerPrefix = "bearer "

// AuthMiddleware authenticates requests with the service's own access tokens.
type AuthMiddleware struct {
	tokenSvc service.TokenService
}

// NewAuthMiddleware is the constructor for AuthMiddleware.
func NewAuthMiddleware(tokenSvc service.TokenService) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc}
}

// Authenticate requires a valid Bearer access token and stores the caller
// as the request principal. Access tokens are not checked against sessions,
// so a revoked session keeps working until its access token expires.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
			return domainerrors.ErrUnauthorized.WrapMessage("missing bearer token")
		}

		claims, err := m.tokenSvc.VerifyAccessToken(strings.TrimSpace(header[len(bearerPrefix):]))
		if err != nil {
			return err
		}

		userID, err := claims.UserID()
		if err != nil {
			return domainerrors.ErrInvalidToken.WrapMessage("malformed subject")
		}

		deliverycontext.SetPrincipal(c, &deliverycontext.Principal{
			UserID: userID,
			Email:  claims.Email,
			Tier:   string(claims.Tier),
		})

		return next(c)
	}
}
