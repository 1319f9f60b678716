package portal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/database"
	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/ieraasyl/StudentPortal/pkg/config"
	"github.com/rs/zerolog/log"
)

// Alert titles shown to the student.
const (
	AlertLoginFailed        = "Login Failed"
	AlertLoginError         = "Login Error"
	AlertLogoutFailed       = "Logout Failed"
	AlertLogoutError        = "Logout Error"
	AlertResetFailed        = "Password Reset Failed"
	AlertResetError         = "Password Reset Error"
	AlertResetEmailSent     = "Password Reset Email Sent"
	defaultLoginFailure     = "Invalid credentials"
	resetEmailSentMessage   = "Check your email for a password reset link"
	missingIdentifierReason = "Please enter your index number or email"
)

// SessionState is a point-in-time copy of what the SessionManager
// publishes.
type SessionState struct {
	Session        *models.Session        `json:"session,omitempty"`
	User           *models.User           `json:"user,omitempty"`
	Profile        *models.StudentProfile `json:"profile,omitempty"`
	MountedCourses []models.MountedCourse `json:"mounted_courses"`
	Loading        bool                   `json:"loading"`
}

type userObserver struct {
	id uint64
	fn func(*models.User)
}

// SessionManager owns the authenticated session, the signed-in user, the
// student profile and the mounted course list derived from it.
//
// State changes arrive through a single path: the backend's auth-state
// events. SignIn and SignOut only ask the backend to change the session;
// the resulting SIGNED_IN or SIGNED_OUT event updates the state.
//
// Every profile fetch captures the user epoch and its result is dropped
// when the signed-in user changed in the meantime.
type SessionManager struct {
	auth     AuthBackend
	signIn   SignInProvider
	students StudentStore
	alerts   Alerter
	cfg      *config.PortalConfig
	call     caller

	mu           sync.Mutex
	state        SessionState
	epoch        uint64
	observers    []userObserver
	nextObserver uint64

	registration *Registration
	authSub      Subscription
	closeOnce    sync.Once
}

// NewSessionManager creates the manager and subscribes it to the backend's
// auth-state changes.
func NewSessionManager(auth AuthBackend, signIn SignInProvider, students StudentStore, alerts Alerter, cfg *config.PortalConfig) *SessionManager {
	m := &SessionManager{
		auth:         auth,
		signIn:       signIn,
		students:     students,
		alerts:       alerts,
		cfg:          cfg,
		call:         newCaller(cfg),
		registration: NewRegistration(),
	}
	m.authSub = auth.OnAuthStateChange(m.handleAuthEvent)
	return m
}

// Close releases the auth-state subscription.
func (m *SessionManager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.authSub.Close()
	})
	return err
}

// Snapshot returns a copy of the published state.
func (m *SessionManager) Snapshot() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := SessionState{
		MountedCourses: append([]models.MountedCourse{}, m.state.MountedCourses...),
		Loading:        m.state.Loading,
	}
	if m.state.Session != nil {
		session := *m.state.Session
		s.Session = &session
	}
	if m.state.User != nil {
		user := *m.state.User
		s.User = &user
	}
	if m.state.Profile != nil {
		profile := *m.state.Profile
		s.Profile = &profile
	}
	return s
}

// CurrentUser returns the signed-in user, or nil.
func (m *SessionManager) CurrentUser() *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.User == nil {
		return nil
	}
	u := *m.state.User
	return &u
}

// Registration returns the course registration selection for the current
// mounted course list.
func (m *SessionManager) Registration() *Registration {
	return m.registration
}

// OnUserChange registers fn to run after every change of the signed-in
// user, with nil on sign-out. The returned function unregisters it.
func (m *SessionManager) OnUserChange(fn func(*models.User)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextObserver++
	id := m.nextObserver
	m.observers = append(m.observers, userObserver{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, o := range m.observers {
				if o.id == id {
					m.observers = append(m.observers[:i], m.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// RestoreSession loads a previously persisted session. Failures are logged
// and leave the manager signed out.
func (m *SessionManager) RestoreSession(ctx context.Context) {
	m.setLoading(true)
	defer m.setLoading(false)

	var session *models.Session
	err := m.call.once(ctx, "get_session", func(ctx context.Context) error {
		var err error
		session, err = m.auth.GetSession(ctx)
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to restore session")
		return
	}
	if session == nil {
		log.Info().Msg("No stored session")
		return
	}

	// A restore that refreshed an expired token has already delivered this
	// session through TOKEN_REFRESHED.
	m.mu.Lock()
	applied := m.state.Session != nil &&
		m.state.Session.ID == session.ID &&
		m.state.Session.AccessToken == session.AccessToken
	m.mu.Unlock()
	if applied {
		return
	}

	m.applySession(ctx, session)
}

// SignIn authenticates with an index number or email and a password. On
// success the session is handed to the backend, whose SIGNED_IN event
// updates the state. Failures leave the state untouched, raise an alert and
// return false.
func (m *SessionManager) SignIn(ctx context.Context, identifier, password string) bool {
	var result *models.AuthResult
	err := m.call.once(ctx, "sign_in", func(ctx context.Context) error {
		var err error
		result, err = m.signIn.SignIn(ctx, identifier, password)
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("identifier", identifier).Msg("Sign-in request failed")
		m.alerts.Alert(AlertLoginError, err.Error())
		return false
	}

	if result == nil || !result.Success || result.Session == nil {
		reason := defaultLoginFailure
		if result != nil && result.Error != "" {
			reason = result.Error
		}
		log.Info().Str("identifier", identifier).Str("reason", reason).Msg("Sign-in rejected")
		m.alerts.Alert(AlertLoginFailed, reason)
		return false
	}

	err = m.call.once(ctx, "set_session", func(ctx context.Context) error {
		return m.auth.SetSession(ctx, result.Session)
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", result.Session.User.ID.String()).Msg("Failed to install session")
		m.alerts.Alert(alertTitle(err, AlertLoginFailed, AlertLoginError), err.Error())
		return false
	}

	return true
}

// SignOut invalidates the session with the backend. Session, user, profile
// and courses are cleared together once the backend confirms; on failure
// nothing changes and the error is returned.
func (m *SessionManager) SignOut(ctx context.Context) error {
	err := m.call.once(ctx, "sign_out", m.auth.SignOut)
	if err != nil {
		log.Error().Err(err).Msg("Sign-out failed")
		m.alerts.Alert(alertTitle(err, AlertLogoutFailed, AlertLogoutError), err.Error())
		return fmt.Errorf("failed to sign out: %w", err)
	}

	// The SIGNED_OUT event has normally cleared everything already.
	m.applySession(ctx, nil)
	return nil
}

// RequestPasswordReset mails a reset link. A bare index number is turned
// into the institutional email address.
//
// Example:
//
//	m.RequestPasswordReset(ctx, "4211230001") // mails 4211230001@live.gctu.edu.gh
func (m *SessionManager) RequestPasswordReset(ctx context.Context, identifier string) bool {
	email := strings.TrimSpace(identifier)
	if email == "" {
		m.alerts.Alert(AlertResetFailed, missingIdentifierReason)
		return false
	}
	if !strings.Contains(email, "@") {
		email = email + "@" + m.cfg.InstitutionDomain
	}

	err := m.call.once(ctx, "reset_password", func(ctx context.Context) error {
		return m.auth.ResetPasswordForEmail(ctx, email, m.cfg.ResetRedirectURL)
	})
	if err != nil {
		log.Error().Err(err).Str("email", email).Msg("Password reset request failed")
		m.alerts.Alert(alertTitle(err, AlertResetFailed, AlertResetError), err.Error())
		return false
	}

	log.Info().Str("email", email).Msg("Password reset email requested")
	m.alerts.Alert(AlertResetEmailSent, resetEmailSentMessage)
	return true
}

// Refresh re-fetches the profile and courses of the signed-in user from
// the backend, dropping cached copies first when the store caches.
func (m *SessionManager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	user := m.state.User
	m.mu.Unlock()

	if user == nil {
		return nil
	}

	if inv, ok := m.students.(CacheInvalidator); ok {
		if err := inv.InvalidateStudent(ctx, user.ID, user.IndexNumber()); err != nil {
			log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("Failed to invalidate cached student")
		}
		if err := inv.InvalidateCourses(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to invalidate cached courses")
		}
	}
	return m.FetchStudentProfile(ctx, user.ID)
}

// FetchStudentProfile loads the student row for userID and then its
// mounted courses. A missing row or failed read keeps the previous profile
// and courses. Results for a user who is no longer signed in are dropped.
func (m *SessionManager) FetchStudentProfile(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	epoch := m.epoch
	m.state.Loading = true
	m.mu.Unlock()

	profile, err := read(ctx, m.call, "get_student", func(ctx context.Context) (*models.StudentProfile, error) {
		return m.students.GetStudentByID(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			log.Warn().Str("user_id", userID.String()).Msg("No student profile for user")
		} else {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to fetch student profile")
		}
		m.finishFetch(epoch)
		return err
	}

	courses, err := m.fetchMountedCourses(ctx, profile)
	if err != nil {
		log.Error().
			Err(err).
			Str("student_id", profile.ID.String()).
			Str("program", profile.Program).
			Int("level", profile.Level).
			Msg("Failed to fetch mounted courses")
	}

	m.mu.Lock()
	if m.epoch != epoch || m.state.User == nil || m.state.User.ID != userID {
		m.mu.Unlock()
		log.Debug().Str("user_id", userID.String()).Msg("Discarding profile for previous user")
		return nil
	}
	m.state.Profile = profile
	if courses != nil {
		m.state.MountedCourses = courses
	}
	m.state.Loading = false
	m.mu.Unlock()

	if courses != nil {
		m.registration.reset(courses)
	}

	log.Debug().
		Str("student_id", profile.ID.String()).
		Int("courses", len(courses)).
		Msg("Student profile loaded")

	return err
}

// StudentID resolves the student row id of the signed-in user: the loaded
// profile's id, or a lookup by the index number in the email local part.
func (m *SessionManager) StudentID(ctx context.Context) (uuid.UUID, error) {
	m.mu.Lock()
	user := m.state.User
	profile := m.state.Profile
	m.mu.Unlock()

	if user == nil {
		return uuid.Nil, ErrNoUser
	}
	if profile != nil {
		return profile.ID, nil
	}

	indexNumber := user.IndexNumber()
	student, err := read(ctx, m.call, "get_student_by_index", func(ctx context.Context) (*models.StudentProfile, error) {
		return m.students.GetStudentByIndexNumber(ctx, indexNumber)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve student %s: %w", indexNumber, err)
	}
	return student.ID, nil
}

func (m *SessionManager) handleAuthEvent(event models.AuthEvent) {
	log.Debug().Str("event", string(event.Type)).Msg("Auth state changed")
	m.applySession(context.Background(), event.Session)
}

// applySession replaces session and user. A different user clears the
// profile and courses and notifies observers; any signed-in session then
// triggers a profile fetch.
func (m *SessionManager) applySession(ctx context.Context, session *models.Session) {
	m.mu.Lock()
	prev := m.state.User
	var user *models.User
	if session != nil {
		s := *session
		u := s.User
		m.state.Session = &s
		user = &u
	} else {
		m.state.Session = nil
	}

	changed := !sameUser(prev, user)
	if changed {
		m.epoch++
		m.state.User = user
		m.state.Profile = nil
		m.state.MountedCourses = nil
		m.state.Loading = false
	}
	m.mu.Unlock()

	if changed {
		m.registration.reset(nil)
		if user != nil {
			log.Info().Str("user_id", user.ID.String()).Msg("Signed-in user changed")
		} else {
			log.Info().Msg("Signed out")
		}
	}

	if user != nil {
		if err := m.FetchStudentProfile(ctx, user.ID); err != nil {
			log.Debug().Err(err).Msg("Profile fetch after auth change failed")
		}
	}

	if changed {
		m.notifyObservers()
	}
}

// notifyObservers calls every observer with the user current at call time,
// so a late notification never resurrects a previous user.
func (m *SessionManager) notifyObservers() {
	m.mu.Lock()
	var user *models.User
	if m.state.User != nil {
		u := *m.state.User
		user = &u
	}
	observers := make([]func(*models.User), len(m.observers))
	for i, o := range m.observers {
		observers[i] = o.fn
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(user)
	}
}

func (m *SessionManager) setLoading(loading bool) {
	m.mu.Lock()
	m.state.Loading = loading
	m.mu.Unlock()
}

func (m *SessionManager) finishFetch(epoch uint64) {
	m.mu.Lock()
	if m.epoch == epoch {
		m.state.Loading = false
	}
	m.mu.Unlock()
}

func sameUser(a, b *models.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

// alertTitle picks the "Error" title for transport failures and the
// "Failed" title for everything the backend rejected.
func alertTitle(err error, failed, errored string) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return errored
	}
	return failed
}
