// Package database provides the PostgreSQL and Redis access layers behind
// the portal backend: student and catalog rows, notifications and
// announcements in PostgreSQL; sessions, tokens, throttling and the
// change feed in Redis.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/ieraasyl/StudentPortal/pkg/config"
	"github.com/ieraasyl/StudentPortal/pkg/utils"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("record not found")

// Schema creates the portal tables. RunMigrations applies it; every
// statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS students (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	index_number  VARCHAR(32) UNIQUE NOT NULL,
	first_name    VARCHAR(100) NOT NULL,
	last_name     VARCHAR(100) NOT NULL,
	email         VARCHAR(255) UNIQUE NOT NULL,
	program       VARCHAR(100) NOT NULL,
	level         INTEGER NOT NULL,
	semester      VARCHAR(32) NOT NULL,
	phone         VARCHAR(32),
	avatar_url    TEXT,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS courses (
	id           BIGSERIAL PRIMARY KEY,
	code         VARCHAR(32) NOT NULL,
	name         VARCHAR(255) NOT NULL,
	level        INTEGER NOT NULL,
	credit_hours INTEGER NOT NULL,
	program      VARCHAR(100) NOT NULL,
	semester     VARCHAR(32) NOT NULL,
	mounted      BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_courses_mounted ON courses (program, level, semester) WHERE mounted;

CREATE TABLE IF NOT EXISTS notifications (
	id         BIGSERIAL PRIMARY KEY,
	student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
	title      VARCHAR(255) NOT NULL,
	message    TEXT NOT NULL,
	read       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	icon       VARCHAR(64),
	color      VARCHAR(32),
	action_url TEXT
);
CREATE INDEX IF NOT EXISTS idx_notifications_student ON notifications (student_id, created_at DESC);

CREATE TABLE IF NOT EXISTS announcements (
	id         BIGSERIAL PRIMARY KEY,
	title      VARCHAR(255) NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	icon       VARCHAR(64),
	color      VARCHAR(32)
);
`

// PostgresDB wraps a PostgreSQL connection pool.
//
// Features:
//   - Automatic connection retry with exponential backoff
//   - Connection pooling (configurable max connections)
//   - Health check support
type PostgresDB struct {
	db *sql.DB
}

// NewPostgresDB opens a PostgreSQL connection with automatic retry.
// The database container is often not ready when the process starts, so
// open and ping are retried with exponential backoff for up to 30 seconds.
//
// Connection pool settings:
//   - MaxOpenConns: cfg.MaxConns
//   - MaxIdleConns: half of MaxOpenConns
//   - ConnMaxLifetime: 1 hour
//
// Example:
//
//	db, err := database.NewPostgresDB(&cfg.Database)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Database connection failed")
//	}
//	defer db.Close()
func NewPostgresDB(cfg *config.DatabaseConfig) (*PostgresDB, error) {
	var db *sql.DB
	var connErr error

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	retryConfig := utils.DatabaseRetryConfig()
	retryConfig.Operation = "postgres_connect"

	err := utils.Retry(ctx, retryConfig, func() error {
		var err error
		db, err = sql.Open("postgres", cfg.DSN())
		if err != nil {
			connErr = err
			log.Warn().Err(err).Msg("Failed to open database connection, retrying...")
			return err
		}

		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns / 2)
		db.SetConnMaxLifetime(time.Hour)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()

		if err := db.PingContext(pingCtx); err != nil {
			connErr = err
			log.Warn().Err(err).Msg("Failed to ping database, retrying...")
			db.Close()
			return err
		}

		return nil
	})

	if err != nil {
		if connErr != nil {
			return nil, fmt.Errorf("failed to connect to database after retries: %w", connErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Msg("Successfully connected to PostgreSQL")

	return &PostgresDB{db: db}, nil
}

// NewPostgresDBFromConn wraps an already opened pool. Tests pass a sqlmock
// connection here.
func NewPostgresDBFromConn(db *sql.DB) *PostgresDB {
	return &PostgresDB{db: db}
}

// Close closes the connection pool.
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// Ping checks if the database connection is alive.
// Used by the readiness endpoint.
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// RunMigrations applies Schema.
func (p *PostgresDB) RunMigrations(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Msg("Database migrations completed successfully")
	return nil
}

const studentColumns = `id, index_number, first_name, last_name, email, program, level, semester,
		COALESCE(phone, ''), COALESCE(avatar_url, ''), created_at`

func scanStudent(row *sql.Row) (*models.StudentProfile, error) {
	var s models.StudentProfile
	err := row.Scan(
		&s.ID,
		&s.IndexNumber,
		&s.FirstName,
		&s.LastName,
		&s.Email,
		&s.Program,
		&s.Level,
		&s.Semester,
		&s.Phone,
		&s.AvatarURL,
		&s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStudentByID retrieves exactly one student row by id.
// Returns ErrNotFound when no row matches.
//
// Example:
//
//	profile, err := db.GetStudentByID(ctx, user.ID)
//	if errors.Is(err, database.ErrNotFound) {
//	    // signed in but no student row
//	}
func (p *PostgresDB) GetStudentByID(ctx context.Context, id uuid.UUID) (*models.StudentProfile, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`

	s, err := scanStudent(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get student %s: %w", id, err)
	}
	return s, nil
}

// GetStudentByIndexNumber retrieves a student row by institutional index
// number. Returns ErrNotFound when no row matches.
func (p *PostgresDB) GetStudentByIndexNumber(ctx context.Context, indexNumber string) (*models.StudentProfile, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE index_number = $1`

	s, err := scanStudent(p.db.QueryRowContext(ctx, query, indexNumber))
	if err != nil {
		return nil, fmt.Errorf("failed to get student by index number: %w", err)
	}
	return s, nil
}

// GetStudentCredentials looks a student up by index number or email for
// sign-in. Returns ErrNotFound when neither matches.
func (p *PostgresDB) GetStudentCredentials(ctx context.Context, identifier string) (*models.StudentCredentials, error) {
	query := `
		SELECT id, index_number, email, password_hash
		FROM students
		WHERE index_number = $1 OR email = $1
		LIMIT 1
	`

	var c models.StudentCredentials
	err := p.db.QueryRowContext(ctx, query, identifier).Scan(&c.ID, &c.IndexNumber, &c.Email, &c.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	return &c, nil
}

// UpdatePasswordHash replaces a student's password hash.
func (p *PostgresDB) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE students SET password_hash = $1 WHERE id = $2`, hash, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	log.Info().Str("student_id", id.String()).Msg("Password updated")
	return nil
}

// ListMountedCourses returns the mounted catalog entries for a program,
// level and semester in backend order.
func (p *PostgresDB) ListMountedCourses(ctx context.Context, q models.CourseQuery) ([]models.Course, error) {
	query := `
		SELECT id, code, name, level, credit_hours, program, semester, mounted
		FROM courses
		WHERE mounted = true AND program = $1 AND level = $2 AND semester = $3
	`

	rows, err := p.db.QueryContext(ctx, query, q.Program, q.Level, q.Semester)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	courses := []models.Course{}
	for rows.Next() {
		var c models.Course
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Level, &c.CreditHours, &c.Program, &c.Semester, &c.Mounted); err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate courses: %w", err)
	}

	return courses, nil
}

// ListNotifications returns a student's notifications, newest first.
func (p *PostgresDB) ListNotifications(ctx context.Context, studentID uuid.UUID) ([]models.Notification, error) {
	query := `
		SELECT id, student_id, title, message, read, created_at, icon, color, action_url
		FROM notifications
		WHERE student_id = $1
		ORDER BY created_at DESC
	`

	rows, err := p.db.QueryContext(ctx, query, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	list := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.StudentID, &n.Title, &n.Message, &n.Read, &n.CreatedAt, &n.Icon, &n.Color, &n.ActionURL); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}

	return list, nil
}

// ListAnnouncements returns every announcement, newest first.
func (p *PostgresDB) ListAnnouncements(ctx context.Context) ([]models.Announcement, error) {
	query := `
		SELECT id, title, message, created_at, icon, color
		FROM announcements
		ORDER BY created_at DESC
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list announcements: %w", err)
	}
	defer rows.Close()

	list := []models.Announcement{}
	for rows.Next() {
		var a models.Announcement
		if err := rows.Scan(&a.ID, &a.Title, &a.Message, &a.CreatedAt, &a.Icon, &a.Color); err != nil {
			return nil, fmt.Errorf("failed to scan announcement: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate announcements: %w", err)
	}

	return list, nil
}

// MarkNotificationsRead sets read = true on every listed id in one
// statement. An empty id set is a no-op.
func (p *PostgresDB) MarkNotificationsRead(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	res, err := p.db.ExecContext(ctx, `UPDATE notifications SET read = true WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}

	affected, _ := res.RowsAffected()
	log.Debug().
		Int("requested", len(ids)).
		Int64("updated", affected).
		Msg("Notifications marked as read")

	return nil
}

// InsertNotification stores a notification and fills in its generated id
// and timestamp.
func (p *PostgresDB) InsertNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (student_id, title, message, read, icon, color, action_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := p.db.QueryRowContext(ctx, query, n.StudentID, n.Title, n.Message, n.Read, n.Icon, n.Color, n.ActionURL).
		Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	log.Info().
		Int64("notification_id", n.ID).
		Str("student_id", n.StudentID.String()).
		Msg("Notification created")

	return nil
}

// InsertAnnouncement stores an announcement and fills in its generated id
// and timestamp.
func (p *PostgresDB) InsertAnnouncement(ctx context.Context, a *models.Announcement) error {
	query := `
		INSERT INTO announcements (title, message, icon, color)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	if err := p.db.QueryRowContext(ctx, query, a.Title, a.Message, a.Icon, a.Color).Scan(&a.ID, &a.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert announcement: %w", err)
	}

	log.Info().Int64("announcement_id", a.ID).Msg("Announcement created")
	return nil
}
