package portal

import (
	"context"
	"fmt"
	"sync"

	"github.com/ieraasyl/StudentPortal/internal/models"
)

// ProjectCourses maps catalog rows to the display projection, keeping the
// backend's order.
func ProjectCourses(rows []models.Course) []models.MountedCourse {
	out := make([]models.MountedCourse, 0, len(rows))
	for _, c := range rows {
		out = append(out, models.ProjectCourse(c))
	}
	return out
}

// fetchMountedCourses loads the courses mounted for the profile's program
// and level in the current semester.
func (m *SessionManager) fetchMountedCourses(ctx context.Context, profile *models.StudentProfile) ([]models.MountedCourse, error) {
	q := models.CourseQuery{
		Program:  profile.Program,
		Level:    profile.Level,
		Semester: m.cfg.CurrentSemester,
	}

	rows, err := read(ctx, m.call, "list_mounted_courses", func(ctx context.Context) ([]models.Course, error) {
		return m.students.ListMountedCourses(ctx, q)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load mounted courses: %w", err)
	}
	return ProjectCourses(rows), nil
}

// Registration tracks which mounted courses the student has picked for
// registration. The selection is cleared whenever the course list changes.
type Registration struct {
	mu       sync.Mutex
	courses  []models.MountedCourse
	selected map[string]bool
}

// NewRegistration creates an empty selection.
func NewRegistration() *Registration {
	return &Registration{selected: make(map[string]bool)}
}

func (r *Registration) reset(courses []models.MountedCourse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.courses = append([]models.MountedCourse(nil), courses...)
	r.selected = make(map[string]bool)
}

func (r *Registration) known(code string) bool {
	for _, c := range r.courses {
		if c.Code == code {
			return true
		}
	}
	return false
}

// Toggle flips the selection of the course with the given code and reports
// whether it is now selected. Unknown codes are ignored.
func (r *Registration) Toggle(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.known(code) {
		return false
	}
	if r.selected[code] {
		delete(r.selected, code)
		return false
	}
	r.selected[code] = true
	return true
}

// SelectAll selects every course, or clears the selection when everything
// is already selected.
func (r *Registration) SelectAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.allSelected() {
		r.selected = make(map[string]bool)
		return
	}
	for _, c := range r.courses {
		r.selected[c.Code] = true
	}
}

// IsSelected reports whether code is selected.
func (r *Registration) IsSelected(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected[code]
}

// AllSelected reports whether the list is non-empty and fully selected.
func (r *Registration) AllSelected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allSelected()
}

func (r *Registration) allSelected() bool {
	if len(r.courses) == 0 {
		return false
	}
	for _, c := range r.courses {
		if !r.selected[c.Code] {
			return false
		}
	}
	return true
}

// Courses returns the list the selection applies to.
func (r *Registration) Courses() []models.MountedCourse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.MountedCourse(nil), r.courses...)
}

// Selected returns the selected courses in list order.
func (r *Registration) Selected() []models.MountedCourse {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.MountedCourse
	for _, c := range r.courses {
		if r.selected[c.Code] {
			out = append(out, c)
		}
	}
	return out
}

// TotalCredits sums the credit hours of the selected courses. Credits that
// do not start with a number count as zero.
func (r *Registration) TotalCredits() int {
	total := 0
	for _, c := range r.Selected() {
		total += c.CreditValue()
	}
	return total
}
