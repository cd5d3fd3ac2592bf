package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/matchwell/gatekeeper/internal/auth"
	"github.com/matchwell/gatekeeper/internal/handlers"
	"github.com/matchwell/gatekeeper/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	sessionValidator auth.SessionValidator,
) {
	// Rate limiting config for the unauthenticated attempt surface
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/verify-challenge", authHandler.VerifyChallenge)

	// Protected routes - a valid session required
	router.Group(func(r chi.Router) {
		r.Use(auth.SessionMiddleware(sessionValidator))

		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/session", authHandler.Session)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin())
			r.Get("/admin/blocks", adminHandler.ListBlocks)
			r.Delete("/admin/blocks/{subject}", adminHandler.Unblock)
			r.Delete("/admin/devices/{subject}/{fingerprint}", adminHandler.RevokeDevice)
			r.Get("/admin/audit", adminHandler.Audit)
			r.Post("/admin/second-factor/enroll", adminHandler.EnrollSecondFactor)
			r.Post("/admin/subjects/{subject}/deactivate", adminHandler.DeactivateSubject)
			r.Post("/admin/subjects/{subject}/reactivate", adminHandler.ReactivateSubject)
		})
	})
}
