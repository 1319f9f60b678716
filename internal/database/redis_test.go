package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisDB, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	db := NewRedisDBFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { db.Close() })

	return db, mr
}

func TestRedisDB_Sessions(t *testing.T) {
	db, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, db.SetSession(ctx, "user-1", "s1", "Chrome · Windows", "203.0.113.42", time.Hour))
	require.NoError(t, db.SetSession(ctx, "user-1", "s2", "Safari · iOS", "198.51.100.7", time.Hour))
	require.NoError(t, db.SetSession(ctx, "user-2", "s3", "Firefox · Linux", "192.0.2.1", time.Hour))

	data, err := db.GetSession(ctx, "user-1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Chrome · Windows", data["device_info"])
	assert.Equal(t, "203.0.113.42", data["ip_address"])

	ids, err := db.ListUserSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)

	require.NoError(t, db.DeleteSession(ctx, "user-1", "s1"))
	_, err = db.GetSession(ctx, "user-1", "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	mr.FastForward(2 * time.Hour)
	_, err = db.GetSession(ctx, "user-1", "s2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisDB_RefreshTokensAndBlacklist(t *testing.T) {
	db, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, db.SetRefreshToken(ctx, "jti-1", "user-1", time.Minute))
	userID, err := db.GetRefreshToken(ctx, "jti-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	require.NoError(t, db.DeleteRefreshToken(ctx, "jti-1"))
	_, err = db.GetRefreshToken(ctx, "jti-1")
	assert.ErrorIs(t, err, ErrNotFound)

	blacklisted, err := db.IsTokenBlacklisted(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, blacklisted)

	require.NoError(t, db.BlacklistToken(ctx, "jti-2", time.Minute))
	blacklisted, err = db.IsTokenBlacklisted(ctx, "jti-2")
	require.NoError(t, err)
	assert.True(t, blacklisted)

	mr.FastForward(2 * time.Minute)
	blacklisted, err = db.IsTokenBlacklisted(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, blacklisted)
}

func TestRedisDB_RateLimit(t *testing.T) {
	db, mr := newTestRedis(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, err := db.IncrementRateLimit(ctx, "4211230001", "signin", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	count, err := db.GetRateLimitCount(ctx, "4211230001", "signin")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:4211230001:signin"))

	require.NoError(t, db.ResetRateLimit(ctx, "4211230001", "signin"))
	count, err = db.GetRateLimitCount(ctx, "4211230001", "signin")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRedisDB_ClientSession(t *testing.T) {
	db, _ := newTestRedis(t)
	ctx := context.Background()

	_, err := db.LoadClientSession(ctx, "default")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.SaveClientSession(ctx, "default", []byte(`{"id":"s1"}`), time.Hour))
	data, err := db.LoadClientSession(ctx, "default")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"s1"}`, string(data))

	require.NoError(t, db.DeleteClientSession(ctx, "default"))
	_, err = db.LoadClientSession(ctx, "default")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisDB_ResetTokenIsSingleUse(t *testing.T) {
	db, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, db.SetResetToken(ctx, "tok", "user-1", time.Hour))

	userID, err := db.ConsumeResetToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, err = db.ConsumeResetToken(ctx, "tok")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisDB_PublishSubscribe(t *testing.T) {
	db, _ := newTestRedis(t)
	ctx := context.Background()

	ps, err := db.Subscribe(ctx, "realtime:announcements")
	require.NoError(t, err)
	defer ps.Close()

	require.NoError(t, db.Publish(ctx, "realtime:announcements", []byte("hello")))

	select {
	case msg := <-ps.Channel():
		assert.Equal(t, "realtime:announcements", msg.Channel)
		assert.Equal(t, "hello", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}
