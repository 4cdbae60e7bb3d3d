package routes

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/mabini-abc/portal/internal/auth"
	"github.com/mabini-abc/portal/internal/handlers"
	"github.com/mabini-abc/portal/internal/middleware"
	"github.com/mabini-abc/portal/internal/models"
	pkghttp "github.com/mabini-abc/portal/pkg/http"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes.
type Handlers struct {
	Auth   *handlers.AuthHandler
	Reset  *handlers.ResetHandler
	Audit  *handlers.AuditHandler
	Health handlers.HealthChecker
}

// Deps carries the session plumbing and per-route limits.
type Deps struct {
	Sessions  *auth.SessionManager
	Usability auth.UsabilityChecker
	RateLimit middleware.RateLimitConfig
	IPConfig  *pkghttp.IPConfig
	Logger    *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, deps Deps) {
	router.Get("/health", handlers.Health(h.Health, deps.Logger))

	// Public routes, rate limited per client address
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(deps.RateLimit, deps.IPConfig))
		r.Post("/auth/login", h.Auth.Login)
		r.Post("/auth/password-reset", h.Reset.Submit)
	})

	// Logout only clears the cookie, so it works without a valid session.
	router.Post("/auth/logout", h.Auth.Logout)

	// Session routes
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(deps.Sessions, deps.Usability, deps.Logger))

		r.Get("/auth/me", h.Auth.Me)
		r.Post("/auth/activity", h.Auth.Activity)

		// Administrator routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))

			r.Get("/admin/reset-requests", h.Reset.List)
			r.Post("/admin/reset-requests/{id}/review", h.Reset.Review)
			r.Delete("/admin/reset-requests/{id}", h.Reset.Delete)

			r.Get("/admin/password-changes", h.Audit.List)
			r.Delete("/admin/password-changes", h.Audit.Clear)
			r.Delete("/admin/password-changes/{id}", h.Audit.Delete)
		})
	})
}
