package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StudentProfile is the `students` row for the signed-in user.
// It is fetched keyed by User.ID and replaced wholesale on every re-fetch;
// the client never patches it partially.
type StudentProfile struct {
	ID          uuid.UUID `json:"id" db:"id"`                     // Equal to User.ID
	IndexNumber string    `json:"index_number" db:"index_number"` // Institutional index number
	FirstName   string    `json:"first_name" db:"first_name"`
	LastName    string    `json:"last_name" db:"last_name"`
	Email       string    `json:"email" db:"email"`
	Program     string    `json:"program" db:"program"` // e.g. "IT"
	Level       int       `json:"level" db:"level"`     // e.g. 200
	Semester    string    `json:"semester" db:"semester"`
	Phone       string    `json:"phone,omitempty" db:"phone"`
	AvatarURL   string    `json:"avatar_url,omitempty" db:"avatar_url"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// FullName joins first and last name.
func (p *StudentProfile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// StudentCredentials is the sign-in view of a student row.
type StudentCredentials struct {
	ID           uuid.UUID `db:"id"`
	IndexNumber  string    `db:"index_number"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
}

// Course is a catalog entry from the `courses` table.
type Course struct {
	ID          int64  `json:"id" db:"id"`
	Code        string `json:"code" db:"code"`
	Name        string `json:"name" db:"name"`
	Level       int    `json:"level" db:"level"`
	CreditHours int    `json:"credit_hours" db:"credit_hours"`
	Program     string `json:"program" db:"program"`
	Semester    string `json:"semester" db:"semester"`
	Mounted     bool   `json:"mounted" db:"mounted"`
}

// CourseQuery selects the mounted catalog courses for a program, level and
// semester.
type CourseQuery struct {
	Program  string `json:"program"`
	Level    int    `json:"level"`
	Semester string `json:"semester"`
}

// MountedCourse is the projection of a mounted Course shown to the student.
//
// JSON example:
//
//	{"title": "Data Communication", "code": "IT 431", "credit": "3 Credit Hours"}
type MountedCourse struct {
	Title  string `json:"title"`
	Code   string `json:"code"`
	Credit string `json:"credit"`
}

// ProjectCourse maps a catalog course to its mounted view.
func ProjectCourse(c Course) MountedCourse {
	return MountedCourse{
		Title:  c.Name,
		Code:   c.Code,
		Credit: fmt.Sprintf("%d Credit Hours", c.CreditHours),
	}
}

// CreditValue parses the leading integer of the credit string
// ("3 Credit Hours" -> 3). Unparsable strings count as 0.
func (m MountedCourse) CreditValue() int {
	fields := strings.Fields(m.Credit)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return n
}
