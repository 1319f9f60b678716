package portal

import (
	"context"
	"testing"

	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/ieraasyl/StudentPortal/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectCourses(t *testing.T) {
	rows := testutil.TestCourses(testutil.TestStudent(), 3)

	got := ProjectCourses(rows)

	require.Len(t, got, 3)
	assert.Equal(t, []models.MountedCourse{
		{Title: "Course 1", Code: "IT 201", Credit: "1 Credit Hours"},
		{Title: "Course 2", Code: "IT 202", Credit: "2 Credit Hours"},
		{Title: "Course 3", Code: "IT 203", Credit: "3 Credit Hours"},
	}, got)

	assert.Empty(t, ProjectCourses(nil))
}

func newTestRegistration() *Registration {
	r := NewRegistration()
	r.reset(ProjectCourses(testutil.TestCourses(testutil.TestStudent(), 3)))
	return r
}

func TestRegistration(t *testing.T) {
	t.Run("toggle", func(t *testing.T) {
		r := newTestRegistration()

		assert.True(t, r.Toggle("IT 202"))
		assert.True(t, r.IsSelected("IT 202"))
		assert.False(t, r.Toggle("IT 202"))
		assert.False(t, r.IsSelected("IT 202"))
	})

	t.Run("unknown code is ignored", func(t *testing.T) {
		r := newTestRegistration()

		assert.False(t, r.Toggle("CS 101"))
		assert.Empty(t, r.Selected())
	})

	t.Run("select all then clear", func(t *testing.T) {
		r := newTestRegistration()
		r.Toggle("IT 201")

		r.SelectAll()
		assert.True(t, r.AllSelected())
		assert.Len(t, r.Selected(), 3)
		assert.Equal(t, 6, r.TotalCredits())

		r.SelectAll()
		assert.False(t, r.AllSelected())
		assert.Empty(t, r.Selected())
		assert.Zero(t, r.TotalCredits())
	})

	t.Run("selected keeps list order", func(t *testing.T) {
		r := newTestRegistration()
		r.Toggle("IT 203")
		r.Toggle("IT 201")

		selected := r.Selected()
		require.Len(t, selected, 2)
		assert.Equal(t, "IT 201", selected[0].Code)
		assert.Equal(t, "IT 203", selected[1].Code)
		assert.Equal(t, 4, r.TotalCredits())
	})

	t.Run("empty list is never all selected", func(t *testing.T) {
		r := NewRegistration()
		r.SelectAll()
		assert.False(t, r.AllSelected())
	})

	t.Run("unparsable credit counts as zero", func(t *testing.T) {
		r := NewRegistration()
		r.reset([]models.MountedCourse{
			{Title: "Seminar", Code: "IT 299", Credit: "Non-credit"},
			{Title: "Project", Code: "IT 298", Credit: "4 Credit Hours"},
		})
		r.SelectAll()

		assert.Equal(t, 4, r.TotalCredits())
	})

	t.Run("reset clears the selection", func(t *testing.T) {
		r := newTestRegistration()
		r.SelectAll()

		r.reset(ProjectCourses(testutil.TestCourses(testutil.TestStudent(), 2)))
		assert.Empty(t, r.Selected())
		assert.Len(t, r.Courses(), 2)
	})
}

func TestRegistrationFollowsMountedCourses(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	reg := h.sessions.Registration()
	require.Len(t, reg.Courses(), 3)
	reg.SelectAll()

	require.NoError(t, h.sessions.SignOut(context.Background()))
	assert.Empty(t, reg.Courses())
	assert.Empty(t, reg.Selected())
}
