package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/database"
	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/ieraasyl/StudentPortal/internal/testutil"
	"github.com/ieraasyl/StudentPortal/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCredentials struct {
	byIdentifier map[string]*models.StudentCredentials
	err          error
	updated      map[uuid.UUID]string
}

func newMemCredentials(t *testing.T) (*memCredentials, *models.StudentCredentials) {
	t.Helper()

	hash, err := HashPassword(testutil.TestPassword)
	require.NoError(t, err)

	student := testutil.TestStudent()
	creds := &models.StudentCredentials{
		ID:           student.ID,
		IndexNumber:  student.IndexNumber,
		Email:        student.Email,
		PasswordHash: hash,
	}

	return &memCredentials{
		byIdentifier: map[string]*models.StudentCredentials{
			creds.IndexNumber: creds,
			creds.Email:       creds,
		},
		updated: map[uuid.UUID]string{},
	}, creds
}

func (m *memCredentials) GetStudentCredentials(_ context.Context, identifier string) (*models.StudentCredentials, error) {
	if m.err != nil {
		return nil, m.err
	}
	if c, ok := m.byIdentifier[identifier]; ok {
		return c, nil
	}
	return nil, database.ErrNotFound
}

func (m *memCredentials) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	for _, c := range m.byIdentifier {
		if c.ID == id {
			c.PasswordHash = hash
			m.updated[id] = hash
			return nil
		}
	}
	return database.ErrNotFound
}

func setupSignIn(t *testing.T, maxAttempts int) (*SignInService, *memCredentials, *models.StudentCredentials, *JWTService) {
	t.Helper()

	mr := testutil.SetupMiniRedis(t)
	redisDB := testutil.NewTestRedisDB(t, mr)

	jwtService := NewJWTService(&config.JWTConfig{
		Secret:        testSecret,
		AccessExpiry:  time.Hour,
		RefreshExpiry: 24 * time.Hour,
	}, redisDB)
	sessions := NewSessionService(redisDB, 24*time.Hour)
	creds, student := newMemCredentials(t)

	svc := NewSignInService(creds, redisDB, sessions, jwtService,
		&config.RateLimitConfig{SignInAttempts: maxAttempts, WindowDuration: time.Minute},
		testutil.UserAgents.Chrome, "127.0.0.1")

	return svc, creds, student, jwtService
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()

	t.Run("by index number", func(t *testing.T) {
		svc, _, student, jwtService := setupSignIn(t, 5)

		result, err := svc.SignIn(ctx, student.IndexNumber, testutil.TestPassword)
		require.NoError(t, err)
		require.True(t, result.Success)
		assert.Equal(t, student.ID, result.User.ID)
		assert.Equal(t, student.Email, result.Session.User.Email)
		assert.NotEmpty(t, result.Session.ID)

		claims, err := jwtService.ValidateToken(ctx, result.Session.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, result.Session.ID, claims.SessionID)
	})

	t.Run("by email is case-insensitive", func(t *testing.T) {
		svc, _, student, _ := setupSignIn(t, 5)

		result, err := svc.SignIn(ctx, "  4211230001@LIVE.gctu.edu.gh ", testutil.TestPassword)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, student.ID, result.User.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		svc, _, student, _ := setupSignIn(t, 5)

		result, err := svc.SignIn(ctx, student.IndexNumber, "nope")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Nil(t, result.User)
		assert.Nil(t, result.Session)
		assert.Equal(t, "Invalid credentials", result.Error)
	})

	t.Run("unknown identifier", func(t *testing.T) {
		svc, _, _, _ := setupSignIn(t, 5)

		result, err := svc.SignIn(ctx, "9999999999", testutil.TestPassword)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "Invalid credentials", result.Error)
	})

	t.Run("empty input", func(t *testing.T) {
		svc, _, _, _ := setupSignIn(t, 5)

		result, err := svc.SignIn(ctx, "   ", "")
		require.NoError(t, err)
		assert.False(t, result.Success)
	})

	t.Run("backend failure is an error", func(t *testing.T) {
		svc, creds, student, _ := setupSignIn(t, 5)
		creds.err = errors.New("connection refused")

		_, err := svc.SignIn(ctx, student.IndexNumber, testutil.TestPassword)
		assert.Error(t, err)
	})
}

func TestSignInThrottling(t *testing.T) {
	ctx := context.Background()
	svc, _, student, _ := setupSignIn(t, 2)

	for i := 0; i < 2; i++ {
		result, err := svc.SignIn(ctx, student.IndexNumber, "wrong")
		require.NoError(t, err)
		assert.Equal(t, "Invalid credentials", result.Error)
	}

	result, err := svc.SignIn(ctx, student.IndexNumber, testutil.TestPassword)
	require.NoError(t, err)
	assert.False(t, result.Success, "correct password is refused while throttled")
	assert.Contains(t, result.Error, "Too many")
}

func TestSignInResetsAttemptsOnSuccess(t *testing.T) {
	ctx := context.Background()
	svc, _, student, _ := setupSignIn(t, 2)

	_, err := svc.SignIn(ctx, student.IndexNumber, "wrong")
	require.NoError(t, err)

	result, err := svc.SignIn(ctx, student.IndexNumber, testutil.TestPassword)
	require.NoError(t, err)
	require.True(t, result.Success)

	for i := 0; i < 2; i++ {
		result, err = svc.SignIn(ctx, student.IndexNumber, "wrong")
		require.NoError(t, err)
		assert.Equal(t, "Invalid credentials", result.Error)
	}
}
