// Package config provides application configuration management with environment
// variable loading, validation, and sensible defaults. It supports .env files
// for local development and validates all required settings on startup to
// prevent runtime configuration errors.
//
// Configuration is loaded from environment variables with the Load() function,
// which returns a validated Config struct or an error if required variables
// are missing or invalid.
//
// Example usage:
//
//	cfg, err := config.Load(ctx)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Failed to load configuration")
//	}
//
//	server := &http.Server{
//	    Addr: ":" + cfg.Server.Port,
//	}
package config

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all configuration for the application.
// It aggregates all configuration sections into a single struct
// for easy access throughout the application.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Portal    PortalConfig
	Client    ClientConfig
}

// ServerConfig holds the local API listener settings.
type ServerConfig struct {
	Port        string `env:"PORT, default=8080" validate:"required"`
	Environment string `env:"ENV, default=development" validate:"oneof=development staging production test"`
	AdminKey    string `env:"ADMIN_API_KEY"` // Enables /api/v1/admin when set
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL, default=info" validate:"oneof=trace debug info warn error"`
	Pretty bool   `env:"LOG_PRETTY, default=true"` // Console writer instead of JSON
}

// DatabaseConfig holds PostgreSQL database configuration including
// connection parameters and pool settings.
type DatabaseConfig struct {
	Host     string `env:"POSTGRES_HOST, default=localhost"`
	Port     string `env:"POSTGRES_PORT, default=5432"`
	Database string `env:"POSTGRES_DB, default=portaldb"`
	User     string `env:"POSTGRES_USER, default=portal"`
	Password string `env:"POSTGRES_PASSWORD, required" validate:"required"`
	SSLMode  string `env:"POSTGRES_SSLMODE, default=disable" validate:"oneof=disable require verify-ca verify-full"`
	MaxConns int    `env:"POSTGRES_MAX_CONNS, default=10" validate:"min=1"` // Maximum number of connections in the pool
}

// RedisConfig holds Redis configuration including connection parameters,
// authentication, database selection, and pool size.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST, default=localhost"`
	Port     string `env:"REDIS_PORT, default=6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB, default=0" validate:"min=0"`
	PoolSize int    `env:"REDIS_POOL_SIZE, default=20" validate:"min=1"`
}

// JWTConfig holds session token configuration including the signing secret
// and token expiration durations.
type JWTConfig struct {
	Secret        string        `env:"JWT_SECRET, required" validate:"required"`
	AccessExpiry  time.Duration `env:"JWT_ACCESS_EXPIRY, default=1h"`
	RefreshExpiry time.Duration `env:"JWT_REFRESH_EXPIRY, default=168h"` // Refresh token lifetime (default: 7 days)
}

// CORSConfig holds Cross-Origin Resource Sharing (CORS) configuration
// for clients calling the local API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=http://localhost:8081"`
}

// RateLimitConfig throttles failed sign-in attempts per identifier and
// mutating API requests per client IP.
type RateLimitConfig struct {
	SignInAttempts    int           `env:"SIGNIN_MAX_ATTEMPTS, default=5" validate:"min=1"`
	WindowDuration    time.Duration `env:"SIGNIN_WINDOW, default=15m"`
	RequestsPerMinute int           `env:"RATE_LIMIT_REQUESTS_PER_MIN, default=60" validate:"min=1"`
}

// CacheConfig holds cache configuration including TTL values for catalog
// and student lookups and a master switch.
type CacheConfig struct {
	CourseTTL  time.Duration `env:"CACHE_COURSE_TTL, default=30m"`
	StudentTTL time.Duration `env:"CACHE_STUDENT_TTL, default=5m"`
	Enabled    bool          `env:"CACHE_ENABLED, default=true"` // Master switch to enable/disable caching
}

// PortalConfig holds the session and notification manager policy.
type PortalConfig struct {
	InstitutionDomain   string        `env:"PORTAL_INSTITUTION_DOMAIN, default=live.gctu.edu.gh" validate:"required,hostname"`
	ResetRedirectURL    string        `env:"PORTAL_RESET_REDIRECT, default=gctu://reset-password" validate:"required"`
	CurrentSemester     string        `env:"PORTAL_CURRENT_SEMESTER, default=Semester 1" validate:"required"`
	CallTimeout         time.Duration `env:"PORTAL_CALL_TIMEOUT, default=10s"`
	ReadAttempts        int           `env:"PORTAL_READ_ATTEMPTS, default=1" validate:"min=1,max=10"`
	ReadBackoff         time.Duration `env:"PORTAL_READ_BACKOFF, default=500ms"`
	AnnouncementsUnread bool          `env:"PORTAL_ANNOUNCEMENTS_UNREAD, default=true"` // Count every announcement in the unread badge
	RefreshMargin       time.Duration `env:"PORTAL_REFRESH_MARGIN, default=1m"`         // Refresh the session this long before expiry
	DeviceID            string        `env:"PORTAL_DEVICE_ID, default=default"`         // Key for the persisted client session
}

// ClientConfig holds the optional credentials for a headless sign-in at
// startup and the user agent recorded in session metadata.
type ClientConfig struct {
	Identifier string `env:"PORTAL_CLIENT_IDENTIFIER"`
	Password   string `env:"PORTAL_CLIENT_PASSWORD"`
	UserAgent  string `env:"PORTAL_CLIENT_USER_AGENT, default=StudentPortal/1.0 (Linux; Go)"`
}

// Load reads and validates configuration from environment variables.
// It attempts to load a .env file if present (for local development) but
// doesn't fail if the file is missing (for production deployments).
//
// Required environment variables:
//   - POSTGRES_PASSWORD: Database password
//   - JWT_SECRET: Secret for session token signing (≥32 bytes)
//
// Returns an error if any required variable is missing or if validation fails.
func Load(ctx context.Context) (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom processes configuration from an arbitrary lookuper. Tests use it
// with envconfig.MapLookuper to avoid touching the process environment.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

var validate = validator.New()

// Validate checks if all required configuration is present and valid.
// Struct-tag rules run first, followed by checks that tags cannot express:
//   - Port numbers are valid integers
//   - JWT secret meets minimum length requirement (32 bytes)
//   - Token and timeout durations are positive
//
// Returns an error describing the first validation failure encountered,
// or nil if all configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server port must be a valid integer: %w", err)
	}
	if _, err := strconv.Atoi(c.Database.Port); err != nil {
		return fmt.Errorf("database port must be a valid integer: %w", err)
	}
	if _, err := strconv.Atoi(c.Redis.Port); err != nil {
		return fmt.Errorf("redis port must be a valid integer: %w", err)
	}

	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 bytes")
	}
	if c.JWT.AccessExpiry <= 0 || c.JWT.RefreshExpiry <= 0 {
		return fmt.Errorf("JWT expiries must be positive")
	}
	if c.JWT.RefreshExpiry < c.JWT.AccessExpiry {
		return fmt.Errorf("refresh expiry must not be shorter than access expiry")
	}

	if c.Portal.CallTimeout <= 0 {
		return fmt.Errorf("portal call timeout must be positive")
	}

	if _, err := url.Parse(c.Portal.ResetRedirectURL); err != nil {
		return fmt.Errorf("invalid password reset redirect: %w", err)
	}

	// Both or neither
	if (c.Client.Identifier == "") != (c.Client.Password == "") {
		return fmt.Errorf("client identifier and password must be set together")
	}

	return nil
}

// DSN returns the PostgreSQL Data Source Name (connection string) formatted
// for use with the lib/pq driver.
//
// Format: "host=X port=Y user=Z password=W dbname=N sslmode=M"
//
// Example:
//
//	db, err := sql.Open("postgres", cfg.Database.DSN())
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Address returns the Redis server address in "host:port" format.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{
//	    Addr: cfg.Redis.Address(),
//	})
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsProduction reports whether the service runs in production mode.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}
