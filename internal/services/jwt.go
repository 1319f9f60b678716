// Package services implements the server side of the hosted backend:
// session token issue and rotation, the session registry, custom sign-in
// and the password reset flow.
package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/pkg/config"
	"github.com/rs/zerolog/log"
)

// Token types carried in the "typ" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Token validation errors. Parse failures also wrap the underlying jwt
// error, so errors.Is(err, jwt.ErrTokenExpired) still works.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token has been revoked")
)

// TokenStore is the Redis subset the JWT service needs for refresh token
// tracking and revocation.
type TokenStore interface {
	SetRefreshToken(ctx context.Context, tokenID, userID string, expiry time.Duration) error
	GetRefreshToken(ctx context.Context, tokenID string) (string, error)
	DeleteRefreshToken(ctx context.Context, tokenID string) error
	BlacklistToken(ctx context.Context, jti string, expiry time.Duration) error
	IsTokenBlacklisted(ctx context.Context, jti string) (bool, error)
}

// JWTService issues, validates, rotates and revokes session token pairs.
//
// Token lifecycle:
//  1. GenerateTokenPair after a successful sign-in
//  2. ValidateToken whenever the client installs or restores a session
//  3. RefreshAccessToken before the access token expires (rotation: the old
//     refresh token is deleted)
//  4. RevokeToken on sign-out
type JWTService struct {
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	store         TokenStore
}

// TokenPair is a freshly issued access and refresh token.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"` // Access token expiry
}

// Claims are the session token claims.
type Claims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	SessionID string `json:"sid"`
	TokenType string `json:"typ"`
	JTI       string `json:"jti"`
	jwt.RegisteredClaims
}

// NewJWTService creates a JWT service from configuration.
func NewJWTService(cfg *config.JWTConfig, store TokenStore) *JWTService {
	return &JWTService{
		secret:        []byte(cfg.Secret),
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		store:         store,
	}
}

// RefreshExpiry is the lifetime of issued refresh tokens.
func (s *JWTService) RefreshExpiry() time.Duration {
	return s.refreshExpiry
}

// GenerateTokenPair issues an access and a refresh token for a session and
// records the refresh token's JTI in Redis.
//
// Example:
//
//	pair, err := jwtService.GenerateTokenPair(ctx, student.ID, student.Email, sessionID)
func (s *JWTService) GenerateTokenPair(ctx context.Context, userID uuid.UUID, email, sessionID string) (*TokenPair, error) {
	accessJTI := generateJTI()
	accessToken, expiresAt, err := s.generateToken(userID.String(), email, sessionID, TokenTypeAccess, accessJTI, s.accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshJTI := generateJTI()
	refreshToken, _, err := s.generateToken(userID.String(), email, sessionID, TokenTypeRefresh, refreshJTI, s.refreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	if err := s.store.SetRefreshToken(ctx, refreshJTI, userID.String(), s.refreshExpiry); err != nil {
		log.Error().Err(err).Msg("Failed to store refresh token in Redis")
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	log.Debug().
		Str("user_id", userID.String()).
		Str("session_id", sessionID).
		Str("access_jti", accessJTI).
		Str("refresh_jti", refreshJTI).
		Msg("Token pair generated")

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *JWTService) generateToken(userID, email, sessionID, tokenType, jti string, expiry time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(expiry)

	claims := Claims{
		UserID:    userID,
		Email:     email,
		SessionID: sessionID,
		TokenType: tokenType,
		JTI:       jti,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

func (s *JWTService) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}
	return claims, nil
}

// ValidateToken verifies signature, expiry and blacklist status.
//
// Validation steps:
//  1. Parse and verify signature (HS256 only)
//  2. Check expiry and not-before
//  3. Reject blacklisted JTIs
func (s *JWTService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}

	blacklisted, err := s.store.IsTokenBlacklisted(ctx, claims.JTI)
	if err != nil {
		log.Error().Err(err).Str("jti", claims.JTI).Msg("Failed to check token blacklist")
		return nil, fmt.Errorf("failed to verify token status: %w", err)
	}
	if blacklisted {
		return nil, ErrTokenRevoked
	}

	return claims, nil
}

// RefreshAccessToken exchanges a refresh token for a new pair on the same
// session. The presented refresh token is deleted so it cannot be replayed.
func (s *JWTService) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, *Claims, error) {
	claims, err := s.ValidateToken(ctx, refreshToken)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid refresh token: %w", err)
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, nil, fmt.Errorf("%w: wrong token type %q", ErrInvalidToken, claims.TokenType)
	}

	storedUserID, err := s.store.GetRefreshToken(ctx, claims.JTI)
	if err != nil {
		return nil, nil, fmt.Errorf("refresh token not found or expired: %w", ErrTokenRevoked)
	}
	if storedUserID != claims.UserID {
		return nil, nil, fmt.Errorf("%w: user mismatch", ErrInvalidToken)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid user ID: %w", err)
	}

	pair, err := s.GenerateTokenPair(ctx, userID, claims.Email, claims.SessionID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.store.DeleteRefreshToken(ctx, claims.JTI); err != nil {
		log.Warn().Err(err).Str("jti", claims.JTI).Msg("Failed to delete old refresh token")
	}

	log.Info().
		Str("user_id", claims.UserID).
		Str("session_id", claims.SessionID).
		Msg("Access token refreshed")

	return pair, claims, nil
}

// RevokeToken blacklists a token for its remaining lifetime. Refresh tokens
// are also removed from the refresh store. Unparseable or already expired
// tokens are ignored.
func (s *JWTService) RevokeToken(ctx context.Context, tokenString string) error {
	claims, err := s.parse(tokenString)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to parse token for revocation")
		return nil
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}

	if err := s.store.BlacklistToken(ctx, claims.JTI, ttl); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	if claims.TokenType == TokenTypeRefresh {
		if err := s.store.DeleteRefreshToken(ctx, claims.JTI); err != nil {
			return fmt.Errorf("failed to delete refresh token: %w", err)
		}
	}

	log.Info().
		Str("jti", claims.JTI).
		Str("user_id", claims.UserID).
		Str("token_type", claims.TokenType).
		Msg("Token revoked")

	return nil
}

func generateJTI() string {
	return randomToken(16)
}

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails if the OS entropy source is broken
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
