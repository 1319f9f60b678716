// Package cache provides standardized cache key generation functions.
// All keys follow the pattern "prefix:identifier".
package cache

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/models"
)

// Key prefixes for different cache types.
const (
	StudentPrefix = "student:"
	CoursePrefix  = "courses:"
)

// StudentKey generates a cache key for a student profile by id.
//
// Example: "student:123e4567-e89b-12d3-a456-426614174000"
func StudentKey(studentID uuid.UUID) string {
	return fmt.Sprintf("%s%s", StudentPrefix, studentID.String())
}

// StudentByIndexKey generates a cache key for the lookup of a student by
// index number (the email local part).
//
// Example: "student:index:4211230001"
func StudentByIndexKey(indexNumber string) string {
	return fmt.Sprintf("%sindex:%s", StudentPrefix, indexNumber)
}

// MountedCoursesKey generates a cache key for one catalog query.
// Program and semester are lowercased and spaces replaced so equivalent
// queries share an entry.
//
// Example: "courses:it:200:semester_1"
func MountedCoursesKey(q models.CourseQuery) string {
	norm := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	}
	return fmt.Sprintf("%s%s:%d:%s", CoursePrefix, norm(q.Program), q.Level, norm(q.Semester))
}

// CoursesPattern matches every cached catalog query.
// Use with DeletePattern after the catalog changes.
func CoursesPattern() string {
	return CoursePrefix + "*"
}
