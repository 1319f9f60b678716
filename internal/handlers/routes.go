package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/ieraasyl/StudentPortal/internal/middleware"
)

// RouterConfig collects what NewRouter mounts.
type RouterConfig struct {
	Health   *HealthHandler
	Portal   *PortalHandler
	Admin    *AdminHandler
	Password *PasswordHandler // Optional
	Users    middleware.UserSource
	Limiter  *middleware.RateLimiter // Optional

	AdminKey       string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter builds the local API:
//
//	GET  /health, /ready, /metrics
//	GET  /api/v1/session
//	POST /api/v1/session/{signin,signout,password-reset,password-reset/confirm,refresh}
//	GET  /api/v1/alerts
//	GET  /api/v1/courses
//	POST /api/v1/courses/{code}/toggle, /api/v1/courses/select-all
//	GET  /api/v1/notifications
//	POST /api/v1/notifications/{refresh,read-all}, /api/v1/notifications/{id}/read
//	POST /api/v1/admin/{notifications,announcements}
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", middleware.MetricsHandler())

	limit := func(endpoint string) func(http.Handler) http.Handler {
		if cfg.Limiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.Limiter.Limit(endpoint)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/alerts", cfg.Portal.Alerts)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", cfg.Portal.Session)
			r.Post("/signout", cfg.Portal.SignOut)

			r.Group(func(r chi.Router) {
				r.Use(limit("api_signin"))
				r.Post("/signin", cfg.Portal.SignIn)
				r.Post("/password-reset", cfg.Portal.PasswordReset)
				if cfg.Password != nil {
					r.Post("/password-reset/confirm", cfg.Password.ConfirmReset)
				}
			})

			r.With(middleware.RequireUser(cfg.Users)).Post("/refresh", cfg.Portal.RefreshSession)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser(cfg.Users))

			r.Route("/courses", func(r chi.Router) {
				r.Get("/", cfg.Portal.Courses)
				r.Post("/select-all", cfg.Portal.SelectAllCourses)
				r.Post("/{code}/toggle", cfg.Portal.ToggleCourse)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", cfg.Portal.Notifications)
				r.Post("/refresh", cfg.Portal.RefreshNotifications)
				r.Post("/read-all", cfg.Portal.MarkAllAsRead)
				r.Post("/{id}/read", cfg.Portal.MarkAsRead)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdminKey(cfg.AdminKey))
			r.Use(limit("api_admin"))
			r.Post("/notifications", cfg.Admin.CreateNotification)
			r.Post("/announcements", cfg.Admin.CreateAnnouncement)
		})
	})

	return r
}
