package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dormledger/auth-service/internal/api/http/handlers"
	"github.com/dormledger/auth-service/internal/auth"
	"github.com/dormledger/auth-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Admin          *handlers.AdminHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	authGroup := app.Group("/api/auth")
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	// logout and heartbeat read the bearer token themselves: logout must
	// accept revoked tokens and heartbeat answers a missing token with 403.
	authGroup.Post("/logout", cfg.Auth.Logout)
	authGroup.Post("/heartbeat", cfg.Auth.Heartbeat)
	authGroup.Post("/validate-token", cfg.Auth.ValidateSession)
	authGroup.Get("/profile", cfg.AuthMiddleware.Handle, cfg.Auth.Profile)

	admin := app.Group("/api/admin", cfg.AuthMiddleware.Handle)
	admin.Get("/users/:id/sessions", auth.RequirePermission(auth.PermSessionRead), cfg.Admin.ListSessions)
	admin.Post("/users/:id/force-logout", auth.RequirePermission(auth.PermSessionRevoke), cfg.Admin.ForceLogout)
	admin.Post("/config/broadcast", auth.RequirePermission(auth.PermConfigBroadcast), cfg.Admin.BroadcastConfig)
}
