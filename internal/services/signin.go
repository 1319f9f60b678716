package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/database"
	"github.com/ieraasyl/StudentPortal/internal/metrics"
	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/ieraasyl/StudentPortal/pkg/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Sign-in failure reasons. SignIn reports them through AuthResult.Error;
// the sentinels let callers and tests match them with errors.Is.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTooManyAttempts    = errors.New("too many sign-in attempts")
	ErrInvalidInput       = errors.New("identifier and password are required")
)

const signInEndpoint = "signin"

// CredentialStore looks up password hashes by index number or email.
type CredentialStore interface {
	GetStudentCredentials(ctx context.Context, identifier string) (*models.StudentCredentials, error)
}

// AttemptLimiter counts failed sign-ins per identifier.
type AttemptLimiter interface {
	IncrementRateLimit(ctx context.Context, subject, endpoint string, window time.Duration) (int64, error)
	ResetRateLimit(ctx context.Context, subject, endpoint string) error
}

// TokenIssuer issues session token pairs.
type TokenIssuer interface {
	GenerateTokenPair(ctx context.Context, userID uuid.UUID, email, sessionID string) (*TokenPair, error)
}

// SessionCreator registers server-side sessions.
type SessionCreator interface {
	CreateSession(ctx context.Context, userID uuid.UUID, deviceInfo, ipAddress string) (string, error)
}

// SignInRequest is the validated sign-in input.
type SignInRequest struct {
	Identifier string `validate:"required,max=255"`
	Password   string `validate:"required,max=128"`
}

// SignInService is the custom sign-in endpoint: students authenticate with
// their index number or institutional email plus password.
//
// Flow:
//  1. Validate input
//  2. Count the attempt against the identifier (fixed window)
//  3. Look up credentials and verify the bcrypt hash
//  4. Reset the attempt counter, register a session, issue tokens
type SignInService struct {
	creds       CredentialStore
	limiter     AttemptLimiter
	sessions    SessionCreator
	tokens      TokenIssuer
	maxAttempts int64
	window      time.Duration
	deviceInfo  string
	ipAddress   string
	validate    *validator.Validate
}

// NewSignInService creates the sign-in service. userAgent and ipAddress are
// recorded as session metadata for every session it creates.
func NewSignInService(creds CredentialStore, limiter AttemptLimiter, sessions SessionCreator, tokens TokenIssuer, cfg *config.RateLimitConfig, userAgent, ipAddress string) *SignInService {
	return &SignInService{
		creds:       creds,
		limiter:     limiter,
		sessions:    sessions,
		tokens:      tokens,
		maxAttempts: int64(cfg.SignInAttempts),
		window:      cfg.WindowDuration,
		deviceInfo:  ExtractDeviceInfo(userAgent),
		ipAddress:   ipAddress,
		validate:    validator.New(),
	}
}

func failed(reason error, result string) *models.AuthResult {
	metrics.IncrementAuthAttempts(result)
	msg := reason.Error()
	switch {
	case errors.Is(reason, ErrInvalidCredentials):
		msg = "Invalid credentials"
	case errors.Is(reason, ErrTooManyAttempts):
		msg = "Too many sign-in attempts. Please try again later."
	case errors.Is(reason, ErrInvalidInput):
		msg = "Please enter your index number or email and password"
	}
	return &models.AuthResult{Success: false, Error: msg}
}

// SignIn authenticates a student. Wrong credentials, throttling and bad
// input yield Success=false with a user-facing Error; a non-nil error means
// the backend itself failed.
func (s *SignInService) SignIn(ctx context.Context, identifier, password string) (*models.AuthResult, error) {
	req := SignInRequest{
		Identifier: strings.ToLower(strings.TrimSpace(identifier)),
		Password:   password,
	}
	if err := s.validate.Struct(req); err != nil {
		return failed(ErrInvalidInput, "invalid_input"), nil
	}

	count, err := s.limiter.IncrementRateLimit(ctx, req.Identifier, signInEndpoint, s.window)
	if err != nil {
		metrics.IncrementAuthAttempts("error")
		return nil, fmt.Errorf("failed to check sign-in attempts: %w", err)
	}
	if count > s.maxAttempts {
		log.Warn().
			Str("identifier", req.Identifier).
			Int64("attempts", count).
			Msg("Sign-in throttled")
		return failed(ErrTooManyAttempts, "throttled"), nil
	}

	creds, err := s.creds.GetStudentCredentials(ctx, req.Identifier)
	if errors.Is(err, database.ErrNotFound) {
		log.Info().Str("identifier", req.Identifier).Msg("Sign-in for unknown identifier")
		return failed(ErrInvalidCredentials, "invalid_credentials"), nil
	}
	if err != nil {
		metrics.IncrementAuthAttempts("error")
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(req.Password)); err != nil {
		log.Info().
			Str("student_id", creds.ID.String()).
			Int64("attempts", count).
			Msg("Sign-in with wrong password")
		return failed(ErrInvalidCredentials, "invalid_credentials"), nil
	}

	if err := s.limiter.ResetRateLimit(ctx, req.Identifier, signInEndpoint); err != nil {
		log.Warn().Err(err).Str("identifier", req.Identifier).Msg("Failed to reset sign-in attempts")
	}

	sessionID, err := s.sessions.CreateSession(ctx, creds.ID, s.deviceInfo, s.ipAddress)
	if err != nil {
		metrics.IncrementAuthAttempts("error")
		return nil, err
	}

	pair, err := s.tokens.GenerateTokenPair(ctx, creds.ID, creds.Email, sessionID)
	if err != nil {
		metrics.IncrementAuthAttempts("error")
		return nil, err
	}

	user := &models.User{ID: creds.ID, Email: creds.Email}
	metrics.IncrementAuthAttempts("success")

	log.Info().
		Str("user_id", user.ID.String()).
		Str("session_id", sessionID).
		Msg("Student signed in")

	return &models.AuthResult{
		Success: true,
		User:    user,
		Session: &models.Session{
			ID:           sessionID,
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			ExpiresAt:    pair.ExpiresAt,
			User:         *user,
		},
	}, nil
}

// HashPassword returns the bcrypt hash of a password at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
