// Package router contains routing and server setup for the HTTP delivery.
package router

import (
	"keystone/config"
	"keystone/internal/delivery/api/middleware"
	"keystone/internal/delivery/api/router/handler"
	"keystone/internal/infra/metrics"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

type RouterParams struct {
	fx.In

	AuthHandler    *handler.AuthHandler
	SessionHandler *handler.SessionHandler
	AuthMiddleware *middleware.AuthMiddleware
	Config         *config.Config
	// Gatherer is only provided when metrics are enabled.
	Gatherer prometheus.Gatherer `optional:"true"`
}

// router holds all the handlers that need to be registered.
type router struct {
	authHandler    *handler.AuthHandler
	sessionHandler *handler.SessionHandler
	authMiddleware *middleware.AuthMiddleware
	config         *config.Config
	gatherer       prometheus.Gatherer
}

// NewRouter is the constructor for the Router.
// Fx will inject the required handlers here.
func NewRouter(params RouterParams) *router {
	return &router{
		authHandler:    params.AuthHandler,
		sessionHandler: params.SessionHandler,
		authMiddleware: params.AuthMiddleware,
		config:         params.Config,
		gatherer:       params.Gatherer,
	}
}

// RegisterRoutes sets up all the API routes for the application.
func (r *router) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", handler.HealthCheck)

	requireAuth := r.authMiddleware.Authenticate

	authGroup := e.Group("/auth")
	{
		authGroup.POST("/google", r.authHandler.SignInWithGoogle)
		authGroup.POST("/apple", r.authHandler.SignInWithApple)
		authGroup.POST("/refresh", r.authHandler.Refresh)

		// Routes acting on the caller's own account
		authGroup.POST("/logout", r.authHandler.Logout, requireAuth)
		authGroup.GET("/sessions", r.sessionHandler.ListSessions, requireAuth)
		authGroup.DELETE("/sessions/:id", r.sessionHandler.RevokeSession, requireAuth)
		authGroup.DELETE("/account", r.authHandler.DeleteAccount, requireAuth)
	}
}

// RegisterMetricsRoute exposes the Prometheus registry when metrics are enabled.
func (r *router) RegisterMetricsRoute(e *echo.Echo) {
	if r.config.Metrics == nil || !r.config.Metrics.Enabled || r.gatherer == nil {
		return
	}

	e.GET(r.config.Metrics.Path, echo.WrapHandler(metrics.Handler(r.gatherer)))
}
