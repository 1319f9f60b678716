package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ieraasyl/StudentPortal/pkg/config"
	"github.com/ieraasyl/StudentPortal/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisDB wraps a Redis client and owns every short-lived backend record:
//   - Server-side session registry with automatic expiration
//   - Refresh token storage and access token blacklist
//   - Failed sign-in counters
//   - The persisted client session used to restore across restarts
//   - Single-use password reset tokens
//   - Pub/sub for the real-time change feed
//
// Key patterns:
//
//	session:{userID}:{sessionID}   hash (device_info, ip_address, created_at)
//	refresh_token:{jti}            userID
//	blacklist:{jti}                "1"
//	ratelimit:{subject}:{endpoint} counter
//	client_session:{deviceID}      JSON blob
//	reset_token:{token}            userID
type RedisDB struct {
	client *redis.Client
}

// NewRedisDB creates a Redis connection and verifies it with a retried PING
// (exponential backoff, 30 second budget).
//
// Example:
//
//	redisDB, err := database.NewRedisDB(&cfg.Redis)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Redis connection failed")
//	}
//	defer redisDB.Close()
func NewRedisDB(cfg *config.RedisConfig) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	retryConfig := utils.DatabaseRetryConfig()
	retryConfig.Operation = "redis_connect"

	var lastErr error
	err := utils.Retry(ctx, retryConfig, func() error {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()

		if err := client.Ping(pingCtx).Err(); err != nil {
			lastErr = err
			log.Warn().Err(err).Msg("Failed to ping Redis, retrying...")
			return err
		}
		return nil
	})

	if err != nil {
		client.Close()
		if lastErr != nil {
			return nil, fmt.Errorf("failed to connect to Redis after retries: %w", lastErr)
		}
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Msg("Successfully connected to Redis")

	return &RedisDB{client: client}, nil
}

// NewRedisDBFromClient wraps an existing client without pinging it.
func NewRedisDBFromClient(client *redis.Client) *RedisDB {
	return &RedisDB{client: client}
}

// Close closes the Redis connection.
func (r *RedisDB) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client, shared with the cache layer.
func (r *RedisDB) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is alive. Used by the readiness endpoint.
func (r *RedisDB) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// SetRefreshToken maps a refresh token's JTI to the user it was issued to.
// The entry expires together with the token.
func (r *RedisDB) SetRefreshToken(ctx context.Context, tokenID, userID string, expiry time.Duration) error {
	key := fmt.Sprintf("refresh_token:%s", tokenID)
	if err := r.client.Set(ctx, key, userID, expiry).Err(); err != nil {
		return fmt.Errorf("failed to set refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken returns the user ID stored for a refresh token JTI.
// Returns ErrNotFound once the token was rotated or has expired.
func (r *RedisDB) GetRefreshToken(ctx context.Context, tokenID string) (string, error) {
	key := fmt.Sprintf("refresh_token:%s", tokenID)
	userID, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get refresh token: %w", err)
	}
	return userID, nil
}

// DeleteRefreshToken removes a refresh token, making it unusable.
func (r *RedisDB) DeleteRefreshToken(ctx context.Context, tokenID string) error {
	key := fmt.Sprintf("refresh_token:%s", tokenID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// SetSession registers a server-side session with its device metadata.
//
// Example:
//
//	err := redisDB.SetSession(ctx, userID.String(), sessionID,
//	    "StudentPortal 1.0 · Linux · Desktop", "203.0.113.42", 7*24*time.Hour)
func (r *RedisDB) SetSession(ctx context.Context, userID, sessionID, deviceInfo, ipAddress string, expiry time.Duration) error {
	key := fmt.Sprintf("session:%s:%s", userID, sessionID)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"device_info": deviceInfo,
		"ip_address":  ipAddress,
		"created_at":  time.Now().Unix(),
	})
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}

	return nil
}

// GetSession returns the stored fields of a session.
// Returns ErrNotFound if the session was revoked or has expired.
func (r *RedisDB) GetSession(ctx context.Context, userID, sessionID string) (map[string]string, error) {
	key := fmt.Sprintf("session:%s:%s", userID, sessionID)
	result, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// DeleteSession removes a session from the registry.
func (r *RedisDB) DeleteSession(ctx context.Context, userID, sessionID string) error {
	key := fmt.Sprintf("session:%s:%s", userID, sessionID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListUserSessions returns all session IDs for a user using SCAN.
func (r *RedisDB) ListUserSessions(ctx context.Context, userID string) ([]string, error) {
	prefix := fmt.Sprintf("session:%s:", userID)

	var sessions []string
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan sessions: %w", err)
		}

		for _, key := range keys {
			if id := strings.TrimPrefix(key, prefix); id != "" && id != key {
				sessions = append(sessions, id)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return sessions, nil
}

// BlacklistToken revokes a token by JTI until it would have expired anyway.
func (r *RedisDB) BlacklistToken(ctx context.Context, jti string, expiry time.Duration) error {
	key := fmt.Sprintf("blacklist:%s", jti)
	if err := r.client.Set(ctx, key, "1", expiry).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// IsTokenBlacklisted reports whether a JTI has been revoked.
func (r *RedisDB) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	key := fmt.Sprintf("blacklist:%s", jti)
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return n > 0, nil
}

// IncrementRateLimit bumps a fixed-window counter and returns the new value.
// The window starts at the first hit.
//
// Example:
//
//	count, err := redisDB.IncrementRateLimit(ctx, "4211230001", "signin", 15*time.Minute)
//	if count > 5 {
//	    return services.ErrTooManyAttempts
//	}
func (r *RedisDB) IncrementRateLimit(ctx context.Context, subject, endpoint string, window time.Duration) (int64, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", subject, endpoint)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("failed to set rate limit expiry: %w", err)
		}
	}

	return count, nil
}

// GetRateLimitCount returns the current counter without incrementing it.
func (r *RedisDB) GetRateLimitCount(ctx context.Context, subject, endpoint string) (int64, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", subject, endpoint)
	count, err := r.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get rate limit count: %w", err)
	}
	return count, nil
}

// ResetRateLimit clears a counter, e.g. after a successful sign-in.
func (r *RedisDB) ResetRateLimit(ctx context.Context, subject, endpoint string) error {
	key := fmt.Sprintf("ratelimit:%s:%s", subject, endpoint)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

// SaveClientSession persists the client's serialized session under its
// device id so the next process start can restore it.
func (r *RedisDB) SaveClientSession(ctx context.Context, deviceID string, data []byte, expiry time.Duration) error {
	key := fmt.Sprintf("client_session:%s", deviceID)
	if err := r.client.Set(ctx, key, data, expiry).Err(); err != nil {
		return fmt.Errorf("failed to save client session: %w", err)
	}
	return nil
}

// LoadClientSession returns the persisted client session.
// Returns ErrNotFound if none is stored.
func (r *RedisDB) LoadClientSession(ctx context.Context, deviceID string) ([]byte, error) {
	key := fmt.Sprintf("client_session:%s", deviceID)
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client session: %w", err)
	}
	return data, nil
}

// DeleteClientSession forgets the persisted client session.
func (r *RedisDB) DeleteClientSession(ctx context.Context, deviceID string) error {
	key := fmt.Sprintf("client_session:%s", deviceID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete client session: %w", err)
	}
	return nil
}

// SetResetToken stores a single-use password reset token.
func (r *RedisDB) SetResetToken(ctx context.Context, token, userID string, expiry time.Duration) error {
	key := fmt.Sprintf("reset_token:%s", token)
	if err := r.client.Set(ctx, key, userID, expiry).Err(); err != nil {
		return fmt.Errorf("failed to set reset token: %w", err)
	}
	return nil
}

// ConsumeResetToken atomically reads and deletes a reset token.
// Returns ErrNotFound for unknown, used or expired tokens.
func (r *RedisDB) ConsumeResetToken(ctx context.Context, token string) (string, error) {
	key := fmt.Sprintf("reset_token:%s", token)
	userID, err := r.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume reset token: %w", err)
	}
	return userID, nil
}

// Publish sends a payload to a pub/sub channel.
func (r *RedisDB) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription and waits for the server to
// confirm it, so messages published after Subscribe returns are delivered.
func (r *RedisDB) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	ps := r.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", channels, err)
	}
	return ps, nil
}
