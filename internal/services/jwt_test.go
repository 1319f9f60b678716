package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/database"
	"github.com/ieraasyl/StudentPortal/internal/testutil"
	"github.com/ieraasyl/StudentPortal/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-min-32-bytes-long!!"

func setupJWTService(t *testing.T) (*JWTService, *database.RedisDB, *miniredis.Miniredis) {
	t.Helper()

	mr := testutil.SetupMiniRedis(t)
	redisDB := testutil.NewTestRedisDB(t, mr)

	cfg := &config.JWTConfig{
		Secret:        testSecret,
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}

	return NewJWTService(cfg, redisDB), redisDB, mr
}

func TestGenerateTokenPair(t *testing.T) {
	jwtService, redisDB, _ := setupJWTService(t)
	ctx := context.Background()
	userID := uuid.New()

	tokens, err := jwtService.GenerateTokenPair(ctx, userID, "4211230001@live.gctu.edu.gh", "session-1")
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.True(t, tokens.ExpiresAt.After(time.Now()))

	t.Run("tokens carry session and type", func(t *testing.T) {
		access, err := jwtService.ValidateToken(ctx, tokens.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, userID.String(), access.UserID)
		assert.Equal(t, "session-1", access.SessionID)
		assert.Equal(t, TokenTypeAccess, access.TokenType)

		refresh, err := jwtService.ValidateToken(ctx, tokens.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, TokenTypeRefresh, refresh.TokenType)
		assert.NotEqual(t, access.JTI, refresh.JTI)
	})

	t.Run("refresh token is stored in Redis", func(t *testing.T) {
		refresh, err := jwtService.ValidateToken(ctx, tokens.RefreshToken)
		require.NoError(t, err)

		stored, err := redisDB.GetRefreshToken(ctx, refresh.JTI)
		require.NoError(t, err)
		assert.Equal(t, userID.String(), stored)
	})
}

func TestValidateToken(t *testing.T) {
	jwtService, _, mr := setupJWTService(t)
	ctx := context.Background()

	tokens, err := jwtService.GenerateTokenPair(ctx, uuid.New(), "a@live.gctu.edu.gh", "s")
	require.NoError(t, err)

	t.Run("rejects malformed token", func(t *testing.T) {
		_, err := jwtService.ValidateToken(ctx, "not.a.jwt")
		assert.Error(t, err)
	})

	t.Run("rejects token signed with another secret", func(t *testing.T) {
		other := NewJWTService(&config.JWTConfig{
			Secret:        "another-secret-that-is-32-bytes-long",
			AccessExpiry:  time.Minute,
			RefreshExpiry: time.Hour,
		}, testutil.NewTestRedisDB(t, mr))

		_, err := other.ValidateToken(ctx, tokens.AccessToken)
		assert.Error(t, err)
	})

	t.Run("rejects revoked token", func(t *testing.T) {
		require.NoError(t, jwtService.RevokeToken(ctx, tokens.AccessToken))

		_, err := jwtService.ValidateToken(ctx, tokens.AccessToken)
		assert.ErrorIs(t, err, ErrTokenRevoked)
	})
}

func TestRefreshAccessToken(t *testing.T) {
	jwtService, _, _ := setupJWTService(t)
	ctx := context.Background()
	userID := uuid.New()

	tokens, err := jwtService.GenerateTokenPair(ctx, userID, "a@live.gctu.edu.gh", "session-9")
	require.NoError(t, err)

	t.Run("rejects access token", func(t *testing.T) {
		_, _, err := jwtService.RefreshAccessToken(ctx, tokens.AccessToken)
		assert.Error(t, err)
	})

	t.Run("rotates and keeps the session", func(t *testing.T) {
		pair, claims, err := jwtService.RefreshAccessToken(ctx, tokens.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, "session-9", claims.SessionID)

		access, err := jwtService.ValidateToken(ctx, pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "session-9", access.SessionID)
		assert.Equal(t, userID.String(), access.UserID)
	})

	t.Run("old refresh token cannot be replayed", func(t *testing.T) {
		_, _, err := jwtService.RefreshAccessToken(ctx, tokens.RefreshToken)
		assert.ErrorIs(t, err, ErrTokenRevoked)
	})
}

func TestRevokeToken(t *testing.T) {
	jwtService, redisDB, _ := setupJWTService(t)
	ctx := context.Background()

	tokens, err := jwtService.GenerateTokenPair(ctx, uuid.New(), "a@live.gctu.edu.gh", "s")
	require.NoError(t, err)

	t.Run("revoking a refresh token removes it from the store", func(t *testing.T) {
		claims, err := jwtService.ValidateToken(ctx, tokens.RefreshToken)
		require.NoError(t, err)

		require.NoError(t, jwtService.RevokeToken(ctx, tokens.RefreshToken))

		_, err = redisDB.GetRefreshToken(ctx, claims.JTI)
		assert.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("garbage is ignored", func(t *testing.T) {
		assert.NoError(t, jwtService.RevokeToken(ctx, "garbage"))
	})
}

func TestJWTServiceConcurrency(t *testing.T) {
	jwtService, _, _ := setupJWTService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens, err := jwtService.GenerateTokenPair(ctx, uuid.New(), "a@live.gctu.edu.gh", uuid.New().String())
			if err != nil {
				errs <- err
				return
			}
			if _, err := jwtService.ValidateToken(ctx, tokens.AccessToken); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}
}
