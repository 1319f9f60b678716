// Package models defines the core domain models for the student portal.
// These models represent the identity, academic and notification records
// shared by the session and notification managers and their backends.
//
// All models include JSON and database struct tags for serialization and
// row mapping. Sensitive fields are marked with `json:"-"` to prevent
// accidental exposure in API responses.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is the authenticated identity bound 1:1 to a Session.
// A User exists only while its Session exists.
//
// JSON example:
//
//	{
//	  "id": "550e8400-e29b-41d4-a716-446655440000",
//	  "email": "4211230001@live.gctu.edu.gh"
//	}
type User struct {
	ID    uuid.UUID `json:"id" db:"id"`       // Auth identity, equal to the student row id
	Email string    `json:"email" db:"email"` // Institutional email address
}

// IndexNumber returns the local part of the user's email address, which the
// institution uses as the student index number.
func (u *User) IndexNumber() string {
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}

// Session is the backend-issued proof of authentication cached by the client.
// At most one Session is active per client process.
//
// The RefreshToken field is excluded from JSON serialization to prevent
// exposure in API responses or logs.
//
// Example (internal representation):
//
//	Session{
//	  ID:           "2b1e6a4c-...",
//	  AccessToken:  "eyJhbGciOiJIUzI1NiIs...",
//	  RefreshToken: "eyJhbGciOiJIUzI1NiIs...",
//	  ExpiresAt:    time.Now().Add(15*time.Minute),
//	  User:         User{ID: ..., Email: "4211230001@live.gctu.edu.gh"},
//	}
type Session struct {
	ID           string    `json:"id"`           // Server-side session identifier
	AccessToken  string    `json:"access_token"` // Signed access token
	RefreshToken string    `json:"-"`            // Signed refresh token (NEVER exposed in JSON)
	ExpiresAt    time.Time `json:"expires_at"`   // Access token expiry
	User         User      `json:"user"`         // Identity the session belongs to
}

// Expired reports whether the access token has expired at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SessionInfo is the server-side metadata stored for a session.
// It excludes tokens and is safe to return from listing endpoints.
type SessionInfo struct {
	ID         string    `json:"id"`          // Session identifier
	DeviceInfo string    `json:"device_info"` // Device/app information
	IPAddress  string    `json:"ip_address"`  // Client IP address
	CreatedAt  time.Time `json:"created_at"`  // When session was created
	ExpiresAt  time.Time `json:"expires_at"`  // When session will expire
}

// AuthEventType names the kind of auth-state change pushed by the backend.
type AuthEventType string

const (
	AuthInitialSession AuthEventType = "INITIAL_SESSION"
	AuthSignedIn       AuthEventType = "SIGNED_IN"
	AuthSignedOut      AuthEventType = "SIGNED_OUT"
	AuthTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
)

// AuthEvent is a session change delivered to auth-state listeners.
// Session is nil for AuthSignedOut.
type AuthEvent struct {
	Type    AuthEventType
	Session *Session
}

// AuthResult is what the custom sign-in collaborator returns.
// On failure Success is false, User and Session are nil and Error carries a
// user-facing reason.
type AuthResult struct {
	Success bool     `json:"success"`
	User    *User    `json:"user,omitempty"`
	Session *Session `json:"session,omitempty"`
	Error   string   `json:"error,omitempty"`
}
