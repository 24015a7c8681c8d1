package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/oursfolio/oursfolio/internal/auth"
	"github.com/oursfolio/oursfolio/internal/handlers"
	"github.com/oursfolio/oursfolio/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	twoFactorHandler *handlers.TwoFactorHandler,
	tokenManager *auth.TokenManager,
) {
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	// Public routes: credential submission, 2FA login completion, refresh
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/login/2fa", authHandler.TwoFactorLogin)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/refresh", authHandler.Refresh)

	// Protected routes: 2FA management and login history
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokenManager))

		r.Get("/auth/2fa/setup", twoFactorHandler.Setup)
		r.Post("/auth/2fa/confirm", twoFactorHandler.Confirm)
		r.Post("/auth/2fa/disable", twoFactorHandler.Disable)
		r.Get("/auth/history", twoFactorHandler.History)
	})
}
