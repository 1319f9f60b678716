// Package backend is the client's view of the hosted auth service. Client
// holds the one active session of the process, validates and persists it,
// rotates its tokens before they expire and pushes every change to the
// registered auth-state listeners.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/database"
	"github.com/ieraasyl/StudentPortal/internal/metrics"
	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/ieraasyl/StudentPortal/internal/portal"
	"github.com/ieraasyl/StudentPortal/internal/services"
	"github.com/rs/zerolog/log"
)

// ErrNoSession is returned by Refresh when nothing is signed in.
var ErrNoSession = errors.New("no active session")

// TokenService validates, rotates and revokes session tokens.
type TokenService interface {
	ValidateToken(ctx context.Context, token string) (*services.Claims, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*services.TokenPair, *services.Claims, error)
	RevokeToken(ctx context.Context, token string) error
}

// SessionRegistry removes a session from the server-side registry.
type SessionRegistry interface {
	RevokeSession(ctx context.Context, userID uuid.UUID, sessionID string) error
}

// SessionPersister stores the serialized client session across restarts.
type SessionPersister interface {
	SaveClientSession(ctx context.Context, deviceID string, data []byte, expiry time.Duration) error
	LoadClientSession(ctx context.Context, deviceID string) ([]byte, error)
	DeleteClientSession(ctx context.Context, deviceID string) error
}

// ResetMailer starts the password reset email flow.
type ResetMailer interface {
	SendResetEmail(ctx context.Context, email, redirectTo string) error
}

// storedSession is the persisted form of a session. models.Session hides
// the refresh token from JSON, so it is carried explicitly here.
type storedSession struct {
	ID           string      `json:"id"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresAt    time.Time   `json:"expires_at"`
	User         models.User `json:"user"`
}

func toStored(s *models.Session) storedSession {
	return storedSession{
		ID:           s.ID,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		User:         s.User,
	}
}

func (s storedSession) session() *models.Session {
	return &models.Session{
		ID:           s.ID,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		User:         s.User,
	}
}

type listenerEntry struct {
	id uint64
	fn portal.AuthListener
}

// Client implements portal.AuthBackend.
//
// Listeners run synchronously on the goroutine that caused the event, after
// the client's own lock has been released.
type Client struct {
	tokens     TokenService
	registry   SessionRegistry
	store      SessionPersister
	reset      ResetMailer
	deviceID   string
	persistTTL time.Duration

	mu        sync.Mutex
	current   *models.Session
	listeners []listenerEntry
	nextID    uint64
}

// NewClient creates the auth client. The persisted session is keyed by
// deviceID and kept for persistTTL, normally the refresh token lifetime.
func NewClient(tokens TokenService, registry SessionRegistry, store SessionPersister, reset ResetMailer, deviceID string, persistTTL time.Duration) *Client {
	return &Client{
		tokens:     tokens,
		registry:   registry,
		store:      store,
		reset:      reset,
		deviceID:   deviceID,
		persistTTL: persistTTL,
	}
}

func copySession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// isRejected reports whether a token error means the session is unusable,
// as opposed to the token store being unreachable.
func isRejected(err error) bool {
	return errors.Is(err, services.ErrInvalidToken) || errors.Is(err, services.ErrTokenRevoked)
}

// GetSession returns the active session, restoring it from the persisted
// copy on first use. An expired access token is refreshed transparently;
// a revoked or malformed one is discarded and nil is returned.
func (c *Client) GetSession(ctx context.Context) (*models.Session, error) {
	c.mu.Lock()
	cur := copySession(c.current)
	c.mu.Unlock()
	if cur != nil {
		return cur, nil
	}

	raw, err := c.store.LoadClientSession(ctx, c.deviceID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var stored storedSession
	if err := json.Unmarshal(raw, &stored); err != nil {
		log.Warn().Err(err).Str("device_id", c.deviceID).Msg("Discarding corrupt persisted session")
		c.forget(ctx)
		return nil, nil
	}
	restored := stored.session()

	_, err = c.tokens.ValidateToken(ctx, restored.AccessToken)
	switch {
	case err == nil:
		c.mu.Lock()
		if c.current == nil {
			c.current = copySession(restored)
		}
		cur = copySession(c.current)
		c.mu.Unlock()

		log.Info().
			Str("user_id", cur.User.ID.String()).
			Str("session_id", cur.ID).
			Msg("Session restored")
		return cur, nil

	case errors.Is(err, jwt.ErrTokenExpired):
		refreshed, rerr := c.rotate(ctx, restored)
		if rerr != nil {
			if isRejected(rerr) {
				log.Info().Err(rerr).Msg("Persisted session could not be refreshed")
				c.forget(ctx)
				return nil, nil
			}
			return nil, rerr
		}
		c.install(ctx, refreshed)
		metrics.IncrementTokenRefresh("success")
		c.emit(models.AuthEvent{Type: models.AuthTokenRefreshed, Session: copySession(refreshed)})
		return copySession(refreshed), nil

	case isRejected(err):
		log.Info().Err(err).Msg("Persisted session rejected")
		c.forget(ctx)
		return nil, nil

	default:
		return nil, fmt.Errorf("failed to validate session: %w", err)
	}
}

// SetSession installs a session obtained from the sign-in endpoint and
// emits SIGNED_IN.
func (c *Client) SetSession(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}

	claims, err := c.tokens.ValidateToken(ctx, session.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	if claims.UserID != session.User.ID.String() {
		return fmt.Errorf("failed to set session: %w", services.ErrInvalidToken)
	}

	c.install(ctx, session)

	log.Info().
		Str("user_id", session.User.ID.String()).
		Str("session_id", session.ID).
		Msg("Session installed")

	c.emit(models.AuthEvent{Type: models.AuthSignedIn, Session: copySession(session)})
	return nil
}

// SignOut revokes the refresh token, the server-side session and the
// access token, then forgets the local copy and emits SIGNED_OUT. Only a
// failure to revoke the refresh token keeps the session active; once it is
// revoked the session cannot be renewed, so later failures are logged and
// the sign-out completes locally.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	cur := copySession(c.current)
	c.mu.Unlock()

	if cur != nil {
		if err := c.tokens.RevokeToken(ctx, cur.RefreshToken); err != nil {
			return fmt.Errorf("failed to revoke refresh token: %w", err)
		}
		if err := c.registry.RevokeSession(ctx, cur.User.ID, cur.ID); err != nil {
			log.Warn().Err(err).Str("session_id", cur.ID).Msg("Failed to revoke server session")
		}
		if err := c.tokens.RevokeToken(ctx, cur.AccessToken); err != nil {
			log.Warn().Err(err).Str("session_id", cur.ID).Msg("Failed to revoke access token")
		}
	}

	c.mu.Lock()
	if cur == nil || (c.current != nil && c.current.ID == cur.ID) {
		c.current = nil
	}
	c.mu.Unlock()

	c.forget(ctx)

	if cur != nil {
		log.Info().
			Str("user_id", cur.User.ID.String()).
			Str("session_id", cur.ID).
			Msg("Signed out")
	}

	c.emit(models.AuthEvent{Type: models.AuthSignedOut})
	return nil
}

// ResetPasswordForEmail sends a reset link to email that opens redirectTo.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	return c.reset.SendResetEmail(ctx, email, redirectTo)
}

// OnAuthStateChange registers listener for later auth events. When a
// session is already active the listener first receives INITIAL_SESSION.
func (c *Client) OnAuthStateChange(listener portal.AuthListener) portal.Subscription {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: listener})
	cur := copySession(c.current)
	c.mu.Unlock()

	if cur != nil {
		listener(models.AuthEvent{Type: models.AuthInitialSession, Session: cur})
	}

	return &listenerHandle{client: c, id: id}
}

// Refresh rotates the active session's tokens and emits TOKEN_REFRESHED.
// A rejected refresh token ends the session with SIGNED_OUT.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	cur := copySession(c.current)
	c.mu.Unlock()
	if cur == nil {
		return ErrNoSession
	}

	refreshed, err := c.rotate(ctx, cur)
	if err != nil {
		metrics.IncrementTokenRefresh("failure")
		if isRejected(err) {
			log.Warn().
				Err(err).
				Str("user_id", cur.User.ID.String()).
				Msg("Refresh token rejected, ending session")
			c.drop(ctx, cur.ID)
		}
		return err
	}

	c.mu.Lock()
	if c.current == nil || c.current.ID != cur.ID {
		// Signed out or replaced while the refresh was in flight.
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.install(ctx, refreshed)
	metrics.IncrementTokenRefresh("success")
	c.emit(models.AuthEvent{Type: models.AuthTokenRefreshed, Session: copySession(refreshed)})
	return nil
}

// StartAutoRefresh refreshes the session whenever its access token is
// within margin of expiring. It checks every interval and returns when ctx
// is cancelled.
//
// Example:
//
//	go client.StartAutoRefresh(ctx, cfg.Portal.RefreshMargin, 30*time.Second)
func (c *Client) StartAutoRefresh(ctx context.Context, margin, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.mu.Lock()
			due := c.current != nil && c.current.Expired(now.Add(margin))
			c.mu.Unlock()
			if !due {
				continue
			}
			if err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrNoSession) {
				log.Error().Err(err).Msg("Automatic token refresh failed")
			}
		}
	}
}

func (c *Client) rotate(ctx context.Context, s *models.Session) (*models.Session, error) {
	pair, claims, err := c.tokens.RefreshAccessToken(ctx, s.RefreshToken)
	if err != nil {
		return nil, err
	}
	if claims.SessionID != s.ID {
		return nil, fmt.Errorf("%w: session mismatch", services.ErrInvalidToken)
	}
	return &models.Session{
		ID:           s.ID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
		User:         s.User,
	}, nil
}

// install makes s the active session and persists it. Persistence failures
// only cost the restore on next start, so they are logged.
func (c *Client) install(ctx context.Context, s *models.Session) {
	c.mu.Lock()
	c.current = copySession(s)
	c.mu.Unlock()

	raw, err := json.Marshal(toStored(s))
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode session")
		return
	}
	if err := c.store.SaveClientSession(ctx, c.deviceID, raw, c.persistTTL); err != nil {
		log.Warn().Err(err).Str("device_id", c.deviceID).Msg("Failed to persist session")
	}
}

// drop ends session sessionID locally without contacting the token store.
func (c *Client) drop(ctx context.Context, sessionID string) {
	c.mu.Lock()
	if c.current == nil || c.current.ID != sessionID {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.mu.Unlock()

	c.forget(ctx)
	c.emit(models.AuthEvent{Type: models.AuthSignedOut})
}

func (c *Client) forget(ctx context.Context) {
	if err := c.store.DeleteClientSession(ctx, c.deviceID); err != nil {
		log.Warn().Err(err).Str("device_id", c.deviceID).Msg("Failed to delete persisted session")
	}
}

func (c *Client) emit(event models.AuthEvent) {
	c.mu.Lock()
	listeners := make([]portal.AuthListener, len(c.listeners))
	for i, l := range c.listeners {
		listeners[i] = l.fn
	}
	c.mu.Unlock()

	log.Debug().
		Str("event", string(event.Type)).
		Int("listeners", len(listeners)).
		Msg("Auth event")

	for _, fn := range listeners {
		fn(event)
	}
}

func (c *Client) removeListener(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.listeners {
		if l.id == id {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

type listenerHandle struct {
	client *Client
	id     uint64
	once   sync.Once
}

// Close unregisters the listener.
func (h *listenerHandle) Close() error {
	h.once.Do(func() { h.client.removeListener(h.id) })
	return nil
}
