package portal

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/database"
	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/ieraasyl/StudentPortal/internal/testutil"
	"github.com/ieraasyl/StudentPortal/pkg/config"
	"github.com/stretchr/testify/require"
)

func testPortalConfig() *config.PortalConfig {
	return &config.PortalConfig{
		InstitutionDomain:   "live.gctu.edu.gh",
		ResetRedirectURL:    "gctu://reset-password",
		CurrentSemester:     "Semester 1",
		CallTimeout:         time.Second,
		ReadAttempts:        1,
		ReadBackoff:         time.Millisecond,
		AnnouncementsUnread: true,
	}
}

// fakeAuth is an in-memory AuthBackend that emits events synchronously.
type fakeAuth struct {
	mu        sync.Mutex
	session   *models.Session
	listeners map[int]AuthListener
	next      int

	getErr, setErr, signOutErr, resetErr error
	signOuts                             int
	resets                               [][2]string
	refreshOnGet                         bool // GetSession emits TOKEN_REFRESHED first
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{listeners: make(map[int]AuthListener)}
}

func (f *fakeAuth) GetSession(context.Context) (*models.Session, error) {
	f.mu.Lock()
	if f.getErr != nil {
		f.mu.Unlock()
		return nil, f.getErr
	}
	if f.session == nil {
		f.mu.Unlock()
		return nil, nil
	}
	s := *f.session
	refresh := f.refreshOnGet
	f.mu.Unlock()

	if refresh {
		event := s
		f.emit(models.AuthEvent{Type: models.AuthTokenRefreshed, Session: &event})
	}
	return &s, nil
}

func (f *fakeAuth) SetSession(_ context.Context, session *models.Session) error {
	f.mu.Lock()
	if f.setErr != nil {
		f.mu.Unlock()
		return f.setErr
	}
	s := *session
	f.session = &s
	f.mu.Unlock()

	f.emit(models.AuthEvent{Type: models.AuthSignedIn, Session: &s})
	return nil
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.mu.Lock()
	f.signOuts++
	if f.signOutErr != nil {
		f.mu.Unlock()
		return f.signOutErr
	}
	f.session = nil
	f.mu.Unlock()

	f.emit(models.AuthEvent{Type: models.AuthSignedOut})
	return nil
}

func (f *fakeAuth) ResetPasswordForEmail(_ context.Context, email, redirectTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, [2]string{email, redirectTo})
	return f.resetErr
}

func (f *fakeAuth) OnAuthStateChange(listener AuthListener) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.listeners[id] = listener
	return subFunc(func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
		return nil
	})
}

func (f *fakeAuth) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeAuth) emit(event models.AuthEvent) {
	f.mu.Lock()
	ids := make([]int, 0, len(f.listeners))
	for id := range f.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]AuthListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, f.listeners[id])
	}
	f.mu.Unlock()

	for _, l := range listeners {
		l(event)
	}
}

type subFunc func() error

func (f subFunc) Close() error { return f() }

// fakeSignIn returns a canned result.
type fakeSignIn struct {
	result *models.AuthResult
	err    error
	calls  int
}

func (f *fakeSignIn) SignIn(context.Context, string, string) (*models.AuthResult, error) {
	f.calls++
	return f.result, f.err
}

// fakeStudents filters its catalog the way the database query does.
type fakeStudents struct {
	mu         sync.Mutex
	byID       map[uuid.UUID]*models.StudentProfile
	courses    []models.Course
	getErr     error
	coursesErr error
	getCalls   int
	indexCalls int
	onGetByID  func(id uuid.UUID)
}

func newFakeStudents(students ...*models.StudentProfile) *fakeStudents {
	f := &fakeStudents{byID: make(map[uuid.UUID]*models.StudentProfile)}
	for _, s := range students {
		f.byID[s.ID] = s
	}
	return f
}

func (f *fakeStudents) GetStudentByID(_ context.Context, id uuid.UUID) (*models.StudentProfile, error) {
	f.mu.Lock()
	f.getCalls++
	hook := f.onGetByID
	f.onGetByID = nil
	err := f.getErr
	s, ok := f.byID[id]
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, database.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeStudents) GetStudentByIndexNumber(_ context.Context, indexNumber string) (*models.StudentProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexCalls++
	for _, s := range f.byID {
		if s.IndexNumber == indexNumber {
			c := *s
			return &c, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStudents) ListMountedCourses(_ context.Context, q models.CourseQuery) ([]models.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.coursesErr != nil {
		return nil, f.coursesErr
	}
	var out []models.Course
	for _, c := range f.courses {
		if c.Mounted && c.Program == q.Program && c.Level == q.Level && c.Semester == q.Semester {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakeNotifications keeps rows newest first.
type fakeNotifications struct {
	mu            sync.Mutex
	rows          []models.Notification
	announcements []models.Announcement
	listErr       error
	annErr        error
	markErr       error
	marked        [][]int64
	onMark        func()
	listCalls     int
}

func (f *fakeNotifications) ListNotifications(_ context.Context, studentID uuid.UUID) ([]models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []models.Notification{}
	for _, n := range f.rows {
		if n.StudentID == studentID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNotifications) ListAnnouncements(context.Context) ([]models.Announcement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.annErr != nil {
		return nil, f.annErr
	}
	return append([]models.Announcement{}, f.announcements...), nil
}

func (f *fakeNotifications) MarkNotificationsRead(_ context.Context, ids []int64) error {
	f.mu.Lock()
	f.marked = append(f.marked, append([]int64{}, ids...))
	hook := f.onMark
	f.onMark = nil
	err := f.markErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for i := range f.rows {
		if set[f.rows[i].ID] {
			f.rows[i].Read = true
		}
	}
	return nil
}

func (f *fakeNotifications) markCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.marked)
}

// fakeFeed delivers pushed rows to every open subscription.
type fakeFeed struct {
	mu       sync.Mutex
	subs     []*fakeSub
	open     int
	maxOpen  int
	notifErr error
	annErr   error
}

type fakeSub struct {
	feed   *fakeFeed
	closed bool
	notif  func(models.Notification)
	ann    func(models.Announcement)
}

func (s *fakeSub) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.feed.open--
	}
	return nil
}

func (f *fakeFeed) add(sub *fakeSub) {
	f.subs = append(f.subs, sub)
	f.open++
	if f.open > f.maxOpen {
		f.maxOpen = f.open
	}
}

func (f *fakeFeed) SubscribeNotifications(_ context.Context, handler func(models.Notification)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifErr != nil {
		return nil, f.notifErr
	}
	sub := &fakeSub{feed: f, notif: handler}
	f.add(sub)
	return sub, nil
}

func (f *fakeFeed) SubscribeAnnouncements(_ context.Context, handler func(models.Announcement)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.annErr != nil {
		return nil, f.annErr
	}
	sub := &fakeSub{feed: f, ann: handler}
	f.add(sub)
	return sub, nil
}

func (f *fakeFeed) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeFeed) pushNotification(n models.Notification) {
	f.mu.Lock()
	var handlers []func(models.Notification)
	for _, s := range f.subs {
		if !s.closed && s.notif != nil {
			handlers = append(handlers, s.notif)
		}
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(n)
	}
}

func (f *fakeFeed) pushAnnouncement(a models.Announcement) {
	f.mu.Lock()
	var handlers []func(models.Announcement)
	for _, s := range f.subs {
		if !s.closed && s.ann != nil {
			handlers = append(handlers, s.ann)
		}
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(a)
	}
}

type alert struct {
	title, message string
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []alert
}

func (r *alertRecorder) Alert(title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert{title, message})
}

func (r *alertRecorder) last() alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.alerts) == 0 {
		return alert{}
	}
	return r.alerts[len(r.alerts)-1]
}

func (r *alertRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

// harness wires both managers to fakes.
type harness struct {
	cfg           *config.PortalConfig
	auth          *fakeAuth
	signIn        *fakeSignIn
	students      *fakeStudents
	store         *fakeNotifications
	feed          *fakeFeed
	alerts        *alertRecorder
	student       *models.StudentProfile
	sessions      *SessionManager
	notifications *NotificationManager
}

func newHarness(t *testing.T, cfg *config.PortalConfig) *harness {
	t.Helper()

	if cfg == nil {
		cfg = testPortalConfig()
	}
	student := testutil.TestStudent()

	h := &harness{
		cfg:      cfg,
		auth:     newFakeAuth(),
		signIn:   &fakeSignIn{},
		students: newFakeStudents(student),
		store:    &fakeNotifications{},
		feed:     &fakeFeed{},
		alerts:   &alertRecorder{},
		student:  student,
	}
	h.students.courses = testutil.TestCourses(student, 3)

	h.sessions = NewSessionManager(h.auth, h.signIn, h.students, h.alerts, cfg)
	h.notifications = NewNotificationManager(h.sessions, h.store, h.feed, cfg)
	t.Cleanup(func() {
		h.notifications.Close()
		_ = h.sessions.Close()
	})

	return h
}

// login installs a session for the harness student through the backend,
// exactly as a successful SignIn does.
func (h *harness) login(t *testing.T) *models.Session {
	t.Helper()
	session := testutil.TestSession(testutil.TestUser(h.student))
	require.NoError(t, h.auth.SetSession(context.Background(), session))
	return session
}
