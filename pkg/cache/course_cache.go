package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/rs/zerolog/log"
)

// StudentDatabase defines the read queries the cache sits in front of.
type StudentDatabase interface {
	GetStudentByID(ctx context.Context, id uuid.UUID) (*models.StudentProfile, error)
	GetStudentByIndexNumber(ctx context.Context, indexNumber string) (*models.StudentProfile, error)
	ListMountedCourses(ctx context.Context, q models.CourseQuery) ([]models.Course, error)
}

// CourseCache provides read-through caching for catalog queries and student
// lookups. It satisfies the same interface as the database it wraps.
type CourseCache struct {
	cache      *Cache
	db         StudentDatabase
	courseTTL  time.Duration
	studentTTL time.Duration
}

// NewCourseCache creates a new read-through cache over db.
func NewCourseCache(cache *Cache, db StudentDatabase, courseTTL, studentTTL time.Duration) *CourseCache {
	return &CourseCache{
		cache:      cache,
		db:         db,
		courseTTL:  courseTTL,
		studentTTL: studentTTL,
	}
}

// GetStudentByID retrieves a student profile by id with caching.
func (cc *CourseCache) GetStudentByID(ctx context.Context, id uuid.UUID) (*models.StudentProfile, error) {
	var profile models.StudentProfile

	err := cc.cache.GetOrSet(ctx, StudentKey(id), cc.studentTTL, &profile, func() (interface{}, error) {
		return cc.db.GetStudentByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	return &profile, nil
}

// GetStudentByIndexNumber retrieves a student by index number with caching.
// The result is also stored under its id key.
func (cc *CourseCache) GetStudentByIndexNumber(ctx context.Context, indexNumber string) (*models.StudentProfile, error) {
	var profile models.StudentProfile

	err := cc.cache.GetOrSet(ctx, StudentByIndexKey(indexNumber), cc.studentTTL, &profile, func() (interface{}, error) {
		return cc.db.GetStudentByIndexNumber(ctx, indexNumber)
	})
	if err != nil {
		return nil, err
	}

	if err := cc.cache.Set(ctx, StudentKey(profile.ID), &profile, cc.studentTTL); err != nil {
		log.Warn().Err(err).Msg("Failed to cache student by ID")
	}

	return &profile, nil
}

// ListMountedCourses returns the mounted catalog for a query with caching.
// An empty result is cached as well.
func (cc *CourseCache) ListMountedCourses(ctx context.Context, q models.CourseQuery) ([]models.Course, error) {
	courses := []models.Course{}

	err := cc.cache.GetOrSet(ctx, MountedCoursesKey(q), cc.courseTTL, &courses, func() (interface{}, error) {
		return cc.db.ListMountedCourses(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	return courses, nil
}

// InvalidateStudent removes the cached lookups of a student. indexNumber
// may be empty when only the id key is known.
func (cc *CourseCache) InvalidateStudent(ctx context.Context, id uuid.UUID, indexNumber string) error {
	keys := []string{StudentKey(id)}
	if indexNumber != "" {
		keys = append(keys, StudentByIndexKey(indexNumber))
	}
	return cc.cache.Delete(ctx, keys...)
}

// InvalidateCourses drops every cached catalog query.
func (cc *CourseCache) InvalidateCourses(ctx context.Context) error {
	return cc.cache.DeletePattern(ctx, CoursesPattern())
}
