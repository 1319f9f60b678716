// Package middleware provides the HTTP middleware for the local portal API:
// the signed-in gate, the admin key check, structured request logging,
// Prometheus metrics and Redis-backed rate limiting.
//
// All middleware is designed to be composable with the chi router.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/ieraasyl/StudentPortal/pkg/utils"
	"github.com/rs/zerolog/log"
)

// AdminKeyHeader carries the shared secret for /api/v1/admin routes.
const AdminKeyHeader = "X-Admin-Key"

type contextKey string

const userKey contextKey = "user"

// UserSource reports the user the portal is currently signed in as.
// *portal.SessionManager satisfies it.
type UserSource interface {
	CurrentUser() *models.User
}

// RequireUser rejects requests with 401 while no student is signed in and
// otherwise puts the current user on the request context.
//
// Usage:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(middleware.RequireUser(sessions))
//	    r.Get("/api/v1/notifications", h.Notifications)
//	})
func RequireUser(users UserSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := users.CurrentUser()
			if user == nil {
				log.Debug().
					Str("request_id", utils.GetRequestID(r.Context())).
					Str("path", r.URL.Path).
					Msg("Rejected request without a signed-in user")
				utils.RespondWithError(w, r, http.StatusUnauthorized, "Not signed in")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
		})
	}
}

// GetUser returns the user stored by RequireUser.
func GetUser(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey).(*models.User)
	return user, ok && user != nil
}

// RequireAdminKey guards the admin routes with a shared secret sent in
// X-Admin-Key. An empty key disables the routes entirely.
func RequireAdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				utils.RespondWithError(w, r, http.StatusNotFound, "Admin API is disabled")
				return
			}

			got := r.Header.Get(AdminKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				log.Warn().
					Str("client_ip", utils.ExtractClientIP(r)).
					Str("path", r.URL.Path).
					Msg("Invalid admin key")
				utils.RespondWithError(w, r, http.StatusForbidden, "Invalid admin key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
