// Package testutil provides fixtures and helpers shared by the portal's
// package tests.
package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/models"
)

// TestPassword is the plain-text password of TestCredentials.
const TestPassword = "correct-horse-battery"

// TestStudent creates a level 200 IT student with default values.
func TestStudent() *models.StudentProfile {
	return &models.StudentProfile{
		ID:          uuid.New(),
		IndexNumber: "4211230001",
		FirstName:   "Ama",
		LastName:    "Mensah",
		Email:       "4211230001@live.gctu.edu.gh",
		Program:     "IT",
		Level:       200,
		Semester:    "Semester 1",
		CreatedAt:   time.Now(),
	}
}

// TestUser returns the auth identity matching a student.
func TestUser(s *models.StudentProfile) *models.User {
	return &models.User{ID: s.ID, Email: s.Email}
}

// TestSession returns a session for user expiring in an hour.
func TestSession(user *models.User) *models.Session {
	return &models.Session{
		ID:           uuid.New().String(),
		AccessToken:  "access-" + user.ID.String(),
		RefreshToken: "refresh-" + user.ID.String(),
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         *user,
	}
}

// TestCourses returns n mounted courses for a student's program, level
// and semester with credit hours cycling 1..3.
func TestCourses(s *models.StudentProfile, n int) []models.Course {
	courses := make([]models.Course, 0, n)
	for i := 1; i <= n; i++ {
		courses = append(courses, models.Course{
			ID:          int64(i),
			Code:        fmt.Sprintf("%s %d%02d", s.Program, s.Level/100, i),
			Name:        fmt.Sprintf("Course %d", i),
			Level:       s.Level,
			CreditHours: (i-1)%3 + 1,
			Program:     s.Program,
			Semester:    s.Semester,
			Mounted:     true,
		})
	}
	return courses
}

// TestNotification creates a notification for a student.
func TestNotification(id int64, studentID uuid.UUID, read bool, createdAt time.Time) models.Notification {
	return models.Notification{
		ID:        id,
		StudentID: studentID,
		Title:     fmt.Sprintf("Notification %d", id),
		Message:   "Test message",
		Read:      read,
		CreatedAt: createdAt,
	}
}

// TestAnnouncement creates an announcement.
func TestAnnouncement(id int64, createdAt time.Time) models.Announcement {
	return models.Announcement{
		ID:        id,
		Title:     fmt.Sprintf("Announcement %d", id),
		Message:   "Test announcement",
		CreatedAt: createdAt,
	}
}

// StringPtr returns a pointer to the given string.
func StringPtr(s string) *string {
	return &s
}

// UserAgents provides common user agent strings for testing.
var UserAgents = struct {
	Chrome       string
	Safari       string
	Firefox      string
	MobileChrome string
	MobileSafari string
	Unknown      string
}{
	Chrome:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	Safari:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	Firefox:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	MobileChrome: "Mozilla/5.0 (Linux; Android 13) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.144 Mobile Safari/537.36",
	MobileSafari: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	Unknown:      "",
}
