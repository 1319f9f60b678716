package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/mileusna/useragent"
	"github.com/rs/zerolog/log"
)

// SessionStore is the Redis subset backing the session registry.
type SessionStore interface {
	SetSession(ctx context.Context, userID, sessionID, deviceInfo, ipAddress string, expiry time.Duration) error
	GetSession(ctx context.Context, userID, sessionID string) (map[string]string, error)
	ListUserSessions(ctx context.Context, userID string) ([]string, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error
}

// SessionService is the server-side registry of signed-in devices. A
// session lives as long as its refresh token and is removed on sign-out.
type SessionService struct {
	store         SessionStore
	sessionExpiry time.Duration
}

// NewSessionService creates a session registry.
func NewSessionService(store SessionStore, sessionExpiry time.Duration) *SessionService {
	return &SessionService{
		store:         store,
		sessionExpiry: sessionExpiry,
	}
}

// CreateSession registers a new session and returns its id.
func (s *SessionService) CreateSession(ctx context.Context, userID uuid.UUID, deviceInfo, ipAddress string) (string, error) {
	sessionID := uuid.New().String()

	if err := s.store.SetSession(ctx, userID.String(), sessionID, deviceInfo, ipAddress, s.sessionExpiry); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID.String()).
			Msg("Failed to create session")
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("session_id", sessionID).
		Str("device", deviceInfo).
		Msg("Session created")

	return sessionID, nil
}

// GetSession returns a session's metadata.
func (s *SessionService) GetSession(ctx context.Context, userID uuid.UUID, sessionID string) (*models.SessionInfo, error) {
	data, err := s.store.GetSession(ctx, userID.String(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}

	createdAtUnix, err := strconv.ParseInt(data["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid session data: %w", err)
	}
	createdAt := time.Unix(createdAtUnix, 0)

	return &models.SessionInfo{
		ID:         sessionID,
		DeviceInfo: data["device_info"],
		IPAddress:  data["ip_address"],
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(s.sessionExpiry),
	}, nil
}

// ListUserSessions returns metadata for every live session of a user.
// Sessions that vanish between listing and reading are skipped.
func (s *SessionService) ListUserSessions(ctx context.Context, userID uuid.UUID) ([]*models.SessionInfo, error) {
	ids, err := s.store.ListUserSessions(ctx, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*models.SessionInfo, 0, len(ids))
	for _, id := range ids {
		info, err := s.GetSession(ctx, userID, id)
		if err != nil {
			log.Warn().
				Err(err).
				Str("user_id", userID.String()).
				Str("session_id", id).
				Msg("Failed to get session info")
			continue
		}
		sessions = append(sessions, info)
	}

	return sessions, nil
}

// RevokeSession removes one session from the registry.
func (s *SessionService) RevokeSession(ctx context.Context, userID uuid.UUID, sessionID string) error {
	if err := s.store.DeleteSession(ctx, userID.String(), sessionID); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("session_id", sessionID).
		Msg("Session revoked")

	return nil
}

// RevokeAllSessions removes every session of a user, used after a password
// reset. Individual delete failures are logged and skipped.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID uuid.UUID) error {
	ids, err := s.store.ListUserSessions(ctx, userID.String())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	for _, id := range ids {
		if err := s.store.DeleteSession(ctx, userID.String(), id); err != nil {
			log.Warn().
				Err(err).
				Str("user_id", userID.String()).
				Str("session_id", id).
				Msg("Failed to delete session")
		}
	}

	log.Info().
		Str("user_id", userID.String()).
		Int("count", len(ids)).
		Msg("All sessions revoked")

	return nil
}

// ExtractDeviceInfo renders a User-Agent as "Browser Version · OS Version · Form".
//
// Examples:
//   - "Chrome 120.0.0.0 · Windows 10 · Desktop"
//   - "Safari 17.0 · iOS 17.1 · Mobile"
//   - "Unknown Device" for an empty header
func ExtractDeviceInfo(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}

	ua := useragent.Parse(userAgent)

	var parts []string
	if ua.Name != "" {
		parts = append(parts, strings.TrimSpace(ua.Name+" "+ua.Version))
	}
	if ua.OS != "" {
		parts = append(parts, strings.TrimSpace(ua.OS+" "+ua.OSVersion))
	}

	switch {
	case ua.Mobile:
		parts = append(parts, "Mobile")
	case ua.Tablet:
		parts = append(parts, "Tablet")
	case ua.Desktop:
		parts = append(parts, "Desktop")
	}

	if len(parts) == 0 {
		if len(userAgent) > 100 {
			return userAgent[:100] + "..."
		}
		return userAgent
	}

	return strings.Join(parts, " · ")
}
