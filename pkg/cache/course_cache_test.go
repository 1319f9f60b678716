package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNotFound = errors.New("not found")

type fakeStudentDB struct {
	profiles     map[uuid.UUID]*models.StudentProfile
	courses      []models.Course
	studentCalls int
	indexCalls   int
	courseCalls  int
}

func (f *fakeStudentDB) GetStudentByID(_ context.Context, id uuid.UUID) (*models.StudentProfile, error) {
	f.studentCalls++
	if p, ok := f.profiles[id]; ok {
		return p, nil
	}
	return nil, errNotFound
}

func (f *fakeStudentDB) GetStudentByIndexNumber(_ context.Context, index string) (*models.StudentProfile, error) {
	f.indexCalls++
	for _, p := range f.profiles {
		if p.IndexNumber == index {
			return p, nil
		}
	}
	return nil, errNotFound
}

func (f *fakeStudentDB) ListMountedCourses(_ context.Context, _ models.CourseQuery) ([]models.Course, error) {
	f.courseCalls++
	return f.courses, nil
}

func setupCourseCache(t *testing.T) (*CourseCache, *fakeStudentDB, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	id := uuid.New()
	db := &fakeStudentDB{
		profiles: map[uuid.UUID]*models.StudentProfile{
			id: {ID: id, IndexNumber: "4211230001", Program: "IT", Level: 200},
		},
		courses: []models.Course{
			{ID: 1, Code: "IT 201", Name: "Data Structures", CreditHours: 3, Mounted: true},
		},
	}

	return NewCourseCache(NewCache(client), db, time.Minute, time.Minute), db, mr
}

func TestCourseCache_ListMountedCourses(t *testing.T) {
	cc, db, mr := setupCourseCache(t)
	ctx := context.Background()
	q := models.CourseQuery{Program: "IT", Level: 200, Semester: "Semester 1"}

	first, err := cc.ListMountedCourses(ctx, q)
	require.NoError(t, err)
	second, err := cc.ListMountedCourses(ctx, q)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, db.courseCalls, "second call must be served from cache")
	assert.True(t, mr.Exists("courses:it:200:semester_1"))

	require.NoError(t, cc.InvalidateCourses(ctx))
	_, err = cc.ListMountedCourses(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, db.courseCalls)
}

func TestCourseCache_GetStudentByIndexNumber(t *testing.T) {
	cc, db, mr := setupCourseCache(t)
	ctx := context.Background()

	profile, err := cc.GetStudentByIndexNumber(ctx, "4211230001")
	require.NoError(t, err)
	assert.True(t, mr.Exists(StudentKey(profile.ID)), "index lookup also populates the id key")

	_, err = cc.GetStudentByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, db.studentCalls)

	require.NoError(t, cc.InvalidateStudent(ctx, profile.ID, profile.IndexNumber))
	assert.False(t, mr.Exists(StudentKey(profile.ID)))
	assert.False(t, mr.Exists(StudentByIndexKey(profile.IndexNumber)))
}

func TestCourseCache_InvalidateStudentSeesUpdatedRow(t *testing.T) {
	cc, db, _ := setupCourseCache(t)
	ctx := context.Background()

	var id uuid.UUID
	for k := range db.profiles {
		id = k
	}

	_, err := cc.GetStudentByID(ctx, id)
	require.NoError(t, err)

	db.profiles[id] = &models.StudentProfile{ID: id, IndexNumber: "4211230001", Program: "IT", Level: 300}

	cached, err := cc.GetStudentByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 200, cached.Level, "served from cache until invalidated")

	require.NoError(t, cc.InvalidateStudent(ctx, id, ""))
	fresh, err := cc.GetStudentByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 300, fresh.Level)
	assert.Equal(t, 2, db.studentCalls)
}

func TestCourseCache_LoaderErrorNotCached(t *testing.T) {
	cc, db, mr := setupCourseCache(t)
	ctx := context.Background()
	missing := uuid.New()

	_, err := cc.GetStudentByID(ctx, missing)
	assert.ErrorIs(t, err, errNotFound)
	assert.False(t, mr.Exists(StudentKey(missing)))

	_, err = cc.GetStudentByID(ctx, missing)
	assert.ErrorIs(t, err, errNotFound)
	assert.Equal(t, 2, db.studentCalls)
}

func TestMountedCoursesKey(t *testing.T) {
	a := MountedCoursesKey(models.CourseQuery{Program: "IT", Level: 300, Semester: "Semester 2"})
	b := MountedCoursesKey(models.CourseQuery{Program: " it ", Level: 300, Semester: "semester 2"})

	assert.Equal(t, "courses:it:300:semester_2", a)
	assert.Equal(t, a, b)
}
