// Command portal runs the student portal client headless: it restores or
// creates a session, keeps the profile, mounted courses and notifications
// in sync, and exposes them over a local JSON API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ieraasyl/StudentPortal/internal/backend"
	"github.com/ieraasyl/StudentPortal/internal/database"
	"github.com/ieraasyl/StudentPortal/internal/handlers"
	"github.com/ieraasyl/StudentPortal/internal/middleware"
	"github.com/ieraasyl/StudentPortal/internal/portal"
	"github.com/ieraasyl/StudentPortal/internal/realtime"
	"github.com/ieraasyl/StudentPortal/internal/services"
	"github.com/ieraasyl/StudentPortal/pkg/cache"
	"github.com/ieraasyl/StudentPortal/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	resetTokenTTL        = time.Hour
	autoRefreshInterval  = 30 * time.Second
	clientIPAddress      = "127.0.0.1"
	startupSignInTimeout = 30 * time.Second
)

func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// @title           Student Portal Client API
// @version         1.0
// @description     Local API of the headless student portal client: session, mounted courses and live notifications.
//
// @host      localhost:8080
// @BasePath  /
//
// @securityDefinitions.apikey AdminKey
// @in header
// @name X-Admin-Key
// @description Enables /api/v1/admin when ADMIN_API_KEY is set.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg.Log)

	log.Info().
		Str("env", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Str("semester", cfg.Portal.CurrentSemester).
		Msg("Starting student portal client")

	postgresDB, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer postgresDB.Close()

	if err := postgresDB.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	redisDB, err := database.NewRedisDB(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisDB.Close()

	// Backend services
	jwtService := services.NewJWTService(&cfg.JWT, redisDB)
	sessionService := services.NewSessionService(redisDB, cfg.JWT.RefreshExpiry)
	signInService := services.NewSignInService(postgresDB, redisDB, sessionService, jwtService,
		&cfg.RateLimit, cfg.Client.UserAgent, clientIPAddress)
	resetService := services.NewPasswordResetService(redisDB, postgresDB, sessionService,
		services.LogMailer{}, resetTokenTTL)

	var students portal.StudentStore = postgresDB
	if cfg.Cache.Enabled {
		students = cache.NewCourseCache(cache.NewCache(redisDB.Client()), postgresDB,
			cfg.Cache.CourseTTL, cfg.Cache.StudentTTL)
	}

	authClient := backend.NewClient(jwtService, sessionService, redisDB, resetService,
		cfg.Portal.DeviceID, cfg.JWT.RefreshExpiry)
	hub := realtime.NewHub(redisDB)

	// Managers
	alerts := handlers.NewAlertLog(0)
	sessions := portal.NewSessionManager(authClient, signInService, students, alerts, &cfg.Portal)
	notifications := portal.NewNotificationManager(sessions, postgresDB, hub, &cfg.Portal)
	defer func() {
		notifications.Close()
		if err := sessions.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close session manager")
		}
	}()

	sessions.RestoreSession(ctx)
	if sessions.CurrentUser() == nil && cfg.Client.Identifier != "" {
		signInCtx, cancel := context.WithTimeout(ctx, startupSignInTimeout)
		if !sessions.SignIn(signInCtx, cfg.Client.Identifier, cfg.Client.Password) {
			log.Warn().Str("identifier", cfg.Client.Identifier).Msg("Startup sign-in failed")
		}
		cancel()
	}

	go authClient.StartAutoRefresh(ctx, cfg.Portal.RefreshMargin, autoRefreshInterval)

	router := handlers.NewRouter(handlers.RouterConfig{
		Health:   handlers.NewHealthHandler(postgresDB, redisDB),
		Portal:   handlers.NewPortalHandler(sessions, sessions.Registration(), notifications, alerts),
		Admin:    handlers.NewAdminHandler(postgresDB, hub),
		Password: handlers.NewPasswordHandler(resetService),
		Users:    sessions,
		Limiter:  middleware.NewRateLimiter(redisDB, cfg.RateLimit.RequestsPerMinute, time.Minute),

		AdminKey:       cfg.Server.AdminKey,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: 60 * time.Second,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped gracefully")
}
