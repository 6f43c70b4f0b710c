package routes

import (
	"net/http"
	"time"

	"github.com/BradenHooton/sessioncore/internal/auth"
	"github.com/BradenHooton/sessioncore/internal/handlers"
	"github.com/BradenHooton/sessioncore/internal/middleware"
	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/BradenHooton/sessioncore/internal/realtime"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Dependencies groups what the route table wires together.
type Dependencies struct {
	Auth     *handlers.AuthHandler
	Sessions *handlers.SessionHandler
	Guard    *auth.SessionGuard
	Gateway  http.Handler // nil disables /ws

	LoginRateLimit middleware.RateLimitConfig
	UserRateLimit  middleware.RateLimitConfig
	RequestTimeout time.Duration
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	// the websocket outlives any request timeout
	if deps.Gateway != nil {
		router.With(realtime.HandshakeCSRF, deps.Guard.Middleware).Get("/ws", deps.Gateway.ServeHTTP)
	}

	router.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(timeout))

		// Public routes
		r.With(middleware.RateLimitByIP(deps.LoginRateLimit)).Post("/auth/signup", deps.Auth.Signup)
		r.With(middleware.RateLimitByIP(deps.LoginRateLimit)).Post("/auth/login", deps.Auth.Login)
		r.Post("/auth/refresh", deps.Auth.Refresh)

		// Guarded routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Guard.Middleware)
			r.Use(middleware.RateLimitByUser(deps.UserRateLimit))

			r.Get("/auth/session", deps.Auth.Session)
			r.Get("/auth/active-devices", deps.Sessions.ActiveDevices)
			r.Patch("/auth/localization", deps.Auth.Localization)
			r.Get("/auth/2fa-status", deps.Auth.TwoFactorStatus)

			// single-use CSRF actions
			r.Group(func(r chi.Router) {
				r.Use(deps.Guard.ConsumeCSRF)
				r.Post("/auth/logout", deps.Sessions.Logout)
				r.Post("/auth/logout-all", deps.Sessions.LogoutAll)
				r.Post("/auth/logout-device", deps.Sessions.LogoutDevice)
				r.Post("/auth/change-password", deps.Auth.ChangePassword)
				r.Post("/auth/setup-2fa", deps.Auth.Setup2FA)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAdmin, models.RoleModerator))
				r.Post("/admin/users/{id}/revoke-sessions", deps.Sessions.RevokeSessions)
			})
		})
	})
}
