package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/ieraasyl/StudentPortal/internal/portal"
	"github.com/stretchr/testify/mock"
)

// Mock implementations for testing

type MockSessions struct {
	mock.Mock
}

func (m *MockSessions) Snapshot() portal.SessionState {
	return m.Called().Get(0).(portal.SessionState)
}

func (m *MockSessions) SignIn(ctx context.Context, identifier, password string) bool {
	return m.Called(ctx, identifier, password).Bool(0)
}

func (m *MockSessions) SignOut(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSessions) RequestPasswordReset(ctx context.Context, identifier string) bool {
	return m.Called(ctx, identifier).Bool(0)
}

func (m *MockSessions) Refresh(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSessions) CurrentUser() *models.User {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*models.User)
}

type MockNotifications struct {
	mock.Mock
}

func (m *MockNotifications) Snapshot() portal.NotificationState {
	return m.Called().Get(0).(portal.NotificationState)
}

func (m *MockNotifications) Entries() []portal.Entry {
	return m.Called().Get(0).([]portal.Entry)
}

func (m *MockNotifications) Pending() []int64 {
	return m.Called().Get(0).([]int64)
}

func (m *MockNotifications) FetchAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockNotifications) MarkAsRead(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockNotifications) MarkAllAsRead(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockAdminStore struct {
	mock.Mock
}

func (m *MockAdminStore) InsertNotification(ctx context.Context, n *models.Notification) error {
	return m.Called(ctx, n).Error(0)
}

func (m *MockAdminStore) InsertAnnouncement(ctx context.Context, a *models.Announcement) error {
	return m.Called(ctx, a).Error(0)
}

type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) PublishNotification(ctx context.Context, n models.Notification) error {
	return m.Called(ctx, n).Error(0)
}

func (m *MockBroadcaster) PublishAnnouncement(ctx context.Context, a models.Announcement) error {
	return m.Called(ctx, a).Error(0)
}

type MockResetter struct {
	mock.Mock
}

func (m *MockResetter) ResetPassword(ctx context.Context, token, newPassword string) error {
	return m.Called(ctx, token, newPassword).Error(0)
}

// fakeRegistration mirrors portal.Registration over a fixed course list.
type fakeRegistration struct {
	courses  []models.MountedCourse
	selected map[string]bool
}

func newFakeRegistration(courses ...models.MountedCourse) *fakeRegistration {
	return &fakeRegistration{courses: courses, selected: make(map[string]bool)}
}

func (f *fakeRegistration) Courses() []models.MountedCourse { return f.courses }

func (f *fakeRegistration) Toggle(code string) bool {
	f.selected[code] = !f.selected[code]
	return f.selected[code]
}

func (f *fakeRegistration) SelectAll() {
	all := f.AllSelected()
	for _, c := range f.courses {
		f.selected[c.Code] = !all
	}
}

func (f *fakeRegistration) Selected() []models.MountedCourse {
	var out []models.MountedCourse
	for _, c := range f.courses {
		if f.selected[c.Code] {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRegistration) AllSelected() bool {
	if len(f.courses) == 0 {
		return false
	}
	for _, c := range f.courses {
		if !f.selected[c.Code] {
			return false
		}
	}
	return true
}

func (f *fakeRegistration) TotalCredits() int {
	total := 0
	for _, c := range f.Selected() {
		total += c.CreditValue()
	}
	return total
}

// Test helper functions

type testAPI struct {
	sessions      *MockSessions
	notifications *MockNotifications
	store         *MockAdminStore
	feed          *MockBroadcaster
	resets        *MockResetter
	registration  *fakeRegistration
	alerts        *AlertLog
	router        http.Handler
}

const testAdminKey = "test-admin-key"

func setupAPI(t *testing.T) *testAPI {
	t.Helper()

	api := &testAPI{
		sessions:      new(MockSessions),
		notifications: new(MockNotifications),
		store:         new(MockAdminStore),
		feed:          new(MockBroadcaster),
		resets:        new(MockResetter),
		registration: newFakeRegistration(
			models.MountedCourse{Title: "Data Structures", Code: "IT 201", Credit: "3 Credit Hours"},
			models.MountedCourse{Title: "Networking", Code: "IT 202", Credit: "2 Credit Hours"},
		),
		alerts: NewAlertLog(10),
	}

	api.router = NewRouter(RouterConfig{
		Health:         NewHealthHandler(nil, nil),
		Portal:         NewPortalHandler(api.sessions, api.registration, api.notifications, api.alerts),
		Admin:          NewAdminHandler(api.store, api.feed),
		Password:       NewPasswordHandler(api.resets),
		Users:          api.sessions,
		AdminKey:       testAdminKey,
		AllowedOrigins: []string{"http://localhost:8081"},
	})

	t.Cleanup(func() {
		api.sessions.AssertExpectations(t)
		api.notifications.AssertExpectations(t)
		api.store.AssertExpectations(t)
		api.feed.AssertExpectations(t)
		api.resets.AssertExpectations(t)
	})
	return api
}

func (api *testAPI) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	return rec
}

// envelope is utils.SuccessResponse with a typed payload.
type envelope[T any] struct {
	Data      T      `json:"data"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}
