// Package portal holds the two client-side state owners of the student
// portal: SessionManager (session, user, student profile, mounted courses)
// and NotificationManager (notifications, announcements, unread counter,
// real-time subscriptions).
//
// The managers consume the hosted backend only through the interfaces in
// this file. cmd/portal wires the Redis/PostgreSQL implementations; tests
// wire in-memory fakes.
package portal

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/models"
)

// ErrNoUser is returned by operations that need a signed-in user when there
// is none.
var ErrNoUser = errors.New("no signed-in user")

// Subscription is a handle on a live listener or feed. Close releases it
// and is safe to call more than once.
type Subscription interface {
	Close() error
}

// AuthListener receives auth-state changes. It runs synchronously on the
// goroutine that caused the change, with no backend lock held.
type AuthListener func(models.AuthEvent)

// AuthBackend is the hosted auth service as seen by the client.
type AuthBackend interface {
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*models.Session, error)
	// SetSession installs a session obtained out of band and emits SIGNED_IN.
	SetSession(ctx context.Context, session *models.Session) error
	// SignOut invalidates the session server-side and emits SIGNED_OUT.
	SignOut(ctx context.Context) error
	// ResetPasswordForEmail triggers the reset-email flow.
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	// OnAuthStateChange registers a listener for every later auth event.
	OnAuthStateChange(listener AuthListener) Subscription
}

// SignInProvider is the custom sign-in collaborator. Logical failures
// (bad credentials, throttling) come back as AuthResult.Success=false;
// the error return is reserved for transport failures.
type SignInProvider interface {
	SignIn(ctx context.Context, identifier, password string) (*models.AuthResult, error)
}

// StudentStore reads student rows and the course catalog.
type StudentStore interface {
	GetStudentByID(ctx context.Context, id uuid.UUID) (*models.StudentProfile, error)
	GetStudentByIndexNumber(ctx context.Context, indexNumber string) (*models.StudentProfile, error)
	ListMountedCourses(ctx context.Context, q models.CourseQuery) ([]models.Course, error)
}

// CacheInvalidator is implemented by a StudentStore that caches reads.
// Refresh drops the signed-in student's entries and the course catalog
// before re-fetching.
type CacheInvalidator interface {
	InvalidateStudent(ctx context.Context, id uuid.UUID, indexNumber string) error
	InvalidateCourses(ctx context.Context) error
}

// NotificationStore reads notifications and announcements and applies
// read-state updates.
type NotificationStore interface {
	ListNotifications(ctx context.Context, studentID uuid.UUID) ([]models.Notification, error)
	ListAnnouncements(ctx context.Context) ([]models.Announcement, error)
	MarkNotificationsRead(ctx context.Context, ids []int64) error
}

// Realtime delivers row inserts. Handlers run on the feed's goroutine.
type Realtime interface {
	SubscribeNotifications(ctx context.Context, handler func(models.Notification)) (Subscription, error)
	SubscribeAnnouncements(ctx context.Context, handler func(models.Announcement)) (Subscription, error)
}

// Alerter surfaces a user-facing message.
type Alerter interface {
	Alert(title, message string)
}

// AlertFunc adapts a function to Alerter.
type AlertFunc func(title, message string)

// Alert calls f.
func (f AlertFunc) Alert(title, message string) { f(title, message) }
