package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/database"
	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/rs/zerolog/log"
)

// Password reset errors.
var (
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
	ErrWeakPassword      = errors.New("password must be 8 to 128 characters")
)

// Mailer delivers outgoing email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes emails to the log instead of sending them.
type LogMailer struct{}

// Send logs the message.
func (LogMailer) Send(_ context.Context, to, subject, body string) error {
	log.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("Email sent")
	return nil
}

// ResetTokenStore keeps single-use reset tokens.
type ResetTokenStore interface {
	SetResetToken(ctx context.Context, token, userID string, expiry time.Duration) error
	ConsumeResetToken(ctx context.Context, token string) (string, error)
}

// PasswordStore reads and updates student credentials.
type PasswordStore interface {
	GetStudentCredentials(ctx context.Context, identifier string) (*models.StudentCredentials, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

// SessionRevoker ends every session of a user.
type SessionRevoker interface {
	RevokeAllSessions(ctx context.Context, userID uuid.UUID) error
}

// PasswordResetService runs the reset-email flow: a single-use token is
// stored in Redis and mailed as a link to the client's redirect URL; the
// token is later exchanged for a new password.
type PasswordResetService struct {
	tokens   ResetTokenStore
	students PasswordStore
	sessions SessionRevoker
	mailer   Mailer
	tokenTTL time.Duration
	validate *validator.Validate
}

// NewPasswordResetService creates the reset service. Reset links are valid
// for tokenTTL.
func NewPasswordResetService(tokens ResetTokenStore, students PasswordStore, sessions SessionRevoker, mailer Mailer, tokenTTL time.Duration) *PasswordResetService {
	return &PasswordResetService{
		tokens:   tokens,
		students: students,
		sessions: sessions,
		mailer:   mailer,
		tokenTTL: tokenTTL,
		validate: validator.New(),
	}
}

// SendResetEmail mails a reset link for email pointing at redirectTo.
// Unknown addresses succeed silently so the endpoint cannot be used to
// probe which students exist.
func (s *PasswordResetService) SendResetEmail(ctx context.Context, email, redirectTo string) error {
	if err := s.validate.Var(email, "required,email"); err != nil {
		return ErrInvalidEmail
	}

	link, err := url.Parse(redirectTo)
	if err != nil {
		return fmt.Errorf("invalid redirect: %w", err)
	}

	creds, err := s.students.GetStudentCredentials(ctx, email)
	if errors.Is(err, database.ErrNotFound) {
		log.Info().Str("email", email).Msg("Password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up student: %w", err)
	}

	token := randomToken(32)
	if err := s.tokens.SetResetToken(ctx, token, creds.ID.String(), s.tokenTTL); err != nil {
		return err
	}

	q := link.Query()
	q.Set("token", token)
	link.RawQuery = q.Encode()

	body := fmt.Sprintf("Use the link below to reset your student portal password. It expires in %s.\n\n%s",
		s.tokenTTL, link.String())
	if err := s.mailer.Send(ctx, creds.Email, "Reset your password", body); err != nil {
		return fmt.Errorf("failed to send reset email: %w", err)
	}

	log.Info().Str("student_id", creds.ID.String()).Msg("Password reset email sent")
	return nil
}

// ResetPassword exchanges a reset token for a new password and signs the
// student out everywhere.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := s.validate.Var(newPassword, "min=8,max=128"); err != nil {
		return ErrWeakPassword
	}

	rawID, err := s.tokens.ConsumeResetToken(ctx, token)
	if errors.Is(err, database.ErrNotFound) {
		return ErrInvalidResetToken
	}
	if err != nil {
		return err
	}

	userID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("corrupt reset token: %w", err)
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.students.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}

	if err := s.sessions.RevokeAllSessions(ctx, userID); err != nil {
		log.Warn().Err(err).Str("student_id", userID.String()).Msg("Failed to revoke sessions after password reset")
	}

	return nil
}
