package portal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/metrics"
	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/ieraasyl/StudentPortal/pkg/config"
	"github.com/rs/zerolog/log"
)

// LoadState is the NotificationManager's fetch state.
type LoadState string

const (
	StateIdle    LoadState = "idle"
	StateLoading LoadState = "loading"
	StateReady   LoadState = "ready"
	StateError   LoadState = "error" // Previous data is still shown
)

// Identity is the part of the SessionManager the notification side needs.
type Identity interface {
	CurrentUser() *models.User
	StudentID(ctx context.Context) (uuid.UUID, error)
	OnUserChange(fn func(*models.User)) (unsubscribe func())
}

// NotificationState is a point-in-time copy of what the
// NotificationManager publishes.
type NotificationState struct {
	Notifications []models.Notification `json:"notifications"`
	Announcements []models.Announcement `json:"announcements"`
	UnreadCount   int                   `json:"unread_count"`
	State         LoadState             `json:"state"`
	Error         string                `json:"error,omitempty"`
}

// Entry is one row of the merged notification feed.
type Entry struct {
	Kind      string    `json:"kind"` // EntryNotification or EntryAnnouncement
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
	Icon      *string   `json:"icon,omitempty"`
	Color     *string   `json:"color,omitempty"`
	ActionURL *string   `json:"action_url,omitempty"`
}

// Entry kinds.
const (
	EntryNotification = "notification"
	EntryAnnouncement = "announcement"
)

// scope owns the realtime subscriptions of one signed-in user.
type scope struct {
	userID    uuid.UUID
	studentID uuid.UUID // Guarded by NotificationManager.mu; uuid.Nil until resolved

	mu     sync.Mutex
	closed bool
	subs   []Subscription
}

// attach hands sub to the scope. A scope that was already released closes
// sub at once and reports false.
func (s *scope) attach(sub Subscription) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.closeSub(sub)
		return false
	}
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return true
}

// release closes every attached subscription. Safe to call more than once
// and on a partially acquired or nil scope.
func (s *scope) release() {
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		s.closeSub(sub)
	}
	log.Debug().Str("user_id", s.userID.String()).Msg("Realtime scope released")
}

func (s *scope) closeSub(sub Subscription) {
	if err := sub.Close(); err != nil {
		log.Warn().Err(err).Str("user_id", s.userID.String()).Msg("Failed to close realtime subscription")
	}
}

// NotificationManager owns the student's notifications, the broadcast
// announcements and the unread badge, and keeps them live through realtime
// inserts for as long as a user is signed in.
//
// UnreadCount is max(0, unread notifications + announcements), where
// announcements only count when the AnnouncementsUnread policy is set.
type NotificationManager struct {
	identity Identity
	store    NotificationStore
	feed     Realtime
	cfg      *config.PortalConfig
	call     caller

	mu      sync.Mutex
	state   NotificationState
	user    uuid.UUID // uuid.Nil when signed out
	epoch   uint64
	scope   *scope
	pending map[int64]bool // true while the update is in flight, false while reconciling

	unsubscribe func()
	closeOnce   sync.Once
}

// NewNotificationManager creates the manager and follows identity's user
// changes. A user who is already signed in is picked up immediately.
func NewNotificationManager(identity Identity, store NotificationStore, feed Realtime, cfg *config.PortalConfig) *NotificationManager {
	m := &NotificationManager{
		identity: identity,
		store:    store,
		feed:     feed,
		cfg:      cfg,
		call:     newCaller(cfg),
		state:    emptyNotificationState(),
		pending:  make(map[int64]bool),
	}
	m.unsubscribe = identity.OnUserChange(m.handleUserChange)
	if user := identity.CurrentUser(); user != nil {
		m.handleUserChange(user)
	}
	return m
}

func emptyNotificationState() NotificationState {
	return NotificationState{
		Notifications: []models.Notification{},
		Announcements: []models.Announcement{},
		State:         StateIdle,
	}
}

// Close stops following user changes and releases the realtime scope.
func (m *NotificationManager) Close() {
	m.closeOnce.Do(func() {
		m.unsubscribe()

		m.mu.Lock()
		sc := m.scope
		m.scope = nil
		m.epoch++
		m.mu.Unlock()

		sc.release()
	})
}

// Snapshot returns a copy of the published state.
func (m *NotificationManager) Snapshot() NotificationState {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state
	s.Notifications = append([]models.Notification{}, m.state.Notifications...)
	s.Announcements = append([]models.Announcement{}, m.state.Announcements...)
	return s
}

// Pending returns the ids whose read update has not been confirmed yet.
func (m *NotificationManager) Pending() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Entries merges notifications and announcements into one feed, newest
// first.
func (m *NotificationManager) Entries() []Entry {
	s := m.Snapshot()

	entries := make([]Entry, 0, len(s.Notifications)+len(s.Announcements))
	for _, n := range s.Notifications {
		entries = append(entries, Entry{
			Kind:      EntryNotification,
			ID:        n.ID,
			Title:     n.Title,
			Message:   n.Message,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
			Icon:      n.Icon,
			Color:     n.Color,
			ActionURL: n.ActionURL,
		})
	}
	for _, a := range s.Announcements {
		entries = append(entries, Entry{
			Kind:      EntryAnnouncement,
			ID:        a.ID,
			Title:     a.Title,
			Message:   a.Message,
			Read:      !m.cfg.AnnouncementsUnread,
			CreatedAt: a.CreatedAt,
			Icon:      a.Icon,
			Color:     a.Color,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries
}

// FetchAll reloads notifications and announcements for the signed-in
// student. Both collections and the unread count are replaced together;
// any failure keeps the previous data and moves to StateError.
func (m *NotificationManager) FetchAll(ctx context.Context) error {
	m.mu.Lock()
	if m.user == uuid.Nil {
		m.mu.Unlock()
		return nil
	}
	epoch := m.epoch
	m.state.State = StateLoading
	m.mu.Unlock()

	studentID, err := m.identity.StudentID(ctx)
	if err != nil {
		return m.fetchFailed(epoch, err)
	}

	notifications, err := read(ctx, m.call, "list_notifications", func(ctx context.Context) ([]models.Notification, error) {
		return m.store.ListNotifications(ctx, studentID)
	})
	if err != nil {
		return m.fetchFailed(epoch, fmt.Errorf("failed to load notifications: %w", err))
	}

	announcements, err := read(ctx, m.call, "list_announcements", func(ctx context.Context) ([]models.Announcement, error) {
		return m.store.ListAnnouncements(ctx)
	})
	if err != nil {
		return m.fetchFailed(epoch, fmt.Errorf("failed to load announcements: %w", err))
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		log.Debug().Str("student_id", studentID.String()).Msg("Discarding notifications for previous user")
		return nil
	}

	if m.scope != nil && m.scope.studentID == uuid.Nil {
		m.scope.studentID = studentID
	}

	notifications = append([]models.Notification{}, notifications...)
	for i := range notifications {
		if m.pending[notifications[i].ID] {
			notifications[i].Read = true
		}
	}
	if announcements == nil {
		announcements = []models.Announcement{}
	}

	m.state = NotificationState{
		Notifications: notifications,
		Announcements: announcements,
		State:         StateReady,
	}
	m.state.UnreadCount = m.computeUnread()
	unread := m.state.UnreadCount
	m.mu.Unlock()

	metrics.SetUnreadCount(unread)

	log.Debug().
		Str("student_id", studentID.String()).
		Int("notifications", len(notifications)).
		Int("announcements", len(announcements)).
		Int("unread", unread).
		Msg("Notifications loaded")

	return nil
}

func (m *NotificationManager) fetchFailed(epoch uint64, err error) error {
	m.mu.Lock()
	if m.epoch == epoch {
		m.state.State = StateError
		m.state.Error = err.Error()
	}
	m.mu.Unlock()

	log.Error().Err(err).Msg("Failed to fetch notifications")
	return err
}

// computeUnread must be called with mu held.
func (m *NotificationManager) computeUnread() int {
	count := 0
	for _, n := range m.state.Notifications {
		if !n.Read {
			count++
		}
	}
	if m.cfg.AnnouncementsUnread {
		count += len(m.state.Announcements)
	}
	return max(0, count)
}

// MarkAsRead marks one notification read locally right away and then with
// the backend. If the backend update fails the manager re-fetches the
// authoritative state; if that fails too the local change is rolled back.
// The id is reported by Pending until one of these completes.
func (m *NotificationManager) MarkAsRead(ctx context.Context, id int64) error {
	m.mu.Lock()
	if m.user == uuid.Nil {
		m.mu.Unlock()
		return nil
	}
	epoch := m.epoch

	flipped := false
	for i, n := range m.state.Notifications {
		if n.ID != id {
			continue
		}
		if n.Read {
			m.mu.Unlock()
			return nil
		}
		notifications := append([]models.Notification{}, m.state.Notifications...)
		notifications[i].Read = true
		m.state.Notifications = notifications
		m.state.UnreadCount = max(0, m.state.UnreadCount-1)
		flipped = true
		break
	}
	m.pending[id] = true
	unread := m.state.UnreadCount
	m.mu.Unlock()

	metrics.SetUnreadCount(unread)

	err := m.call.once(ctx, "mark_notification_read", func(ctx context.Context) error {
		return m.store.MarkNotificationsRead(ctx, []int64{id})
	})
	if err == nil {
		m.clearPending(epoch, id)
		return nil
	}

	log.Error().Err(err).Int64("notification_id", id).Msg("Failed to mark notification read, reconciling")

	m.mu.Lock()
	if m.epoch == epoch {
		m.pending[id] = false
	}
	m.mu.Unlock()

	if ferr := m.FetchAll(ctx); ferr != nil && flipped {
		m.rollback(epoch, id)
	}
	m.clearPending(epoch, id)

	return fmt.Errorf("failed to mark notification %d read: %w", id, err)
}

func (m *NotificationManager) clearPending(epoch uint64, id int64) {
	m.mu.Lock()
	if m.epoch == epoch {
		delete(m.pending, id)
	}
	m.mu.Unlock()
}

func (m *NotificationManager) rollback(epoch uint64, id int64) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	for i, n := range m.state.Notifications {
		if n.ID == id && n.Read {
			notifications := append([]models.Notification{}, m.state.Notifications...)
			notifications[i].Read = false
			m.state.Notifications = notifications
			m.state.UnreadCount++
			break
		}
	}
	unread := m.state.UnreadCount
	m.mu.Unlock()

	metrics.SetUnreadCount(unread)
	log.Warn().Int64("notification_id", id).Msg("Rolled back optimistic read")
}

// MarkAllAsRead marks every currently unread notification read.
//
// The unread set is snapshotted before the backend call. Afterwards only
// those ids are flipped and UnreadCount drops by exactly the snapshot size,
// so a notification that arrives during the call stays unread and counted.
// Calling it again with nothing unread does nothing.
func (m *NotificationManager) MarkAllAsRead(ctx context.Context) error {
	m.mu.Lock()
	if m.user == uuid.Nil || len(m.state.Notifications) == 0 {
		m.mu.Unlock()
		return nil
	}
	epoch := m.epoch
	snapshot := make(map[int64]bool)
	var ids []int64
	for _, n := range m.state.Notifications {
		if !n.Read && !snapshot[n.ID] {
			snapshot[n.ID] = true
			ids = append(ids, n.ID)
		}
	}
	m.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	err := m.call.once(ctx, "mark_all_notifications_read", func(ctx context.Context) error {
		return m.store.MarkNotificationsRead(ctx, ids)
	})
	if err != nil {
		log.Error().Err(err).Int("count", len(ids)).Msg("Failed to mark all notifications read")
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return nil
	}
	notifications := append([]models.Notification{}, m.state.Notifications...)
	for i := range notifications {
		if snapshot[notifications[i].ID] {
			notifications[i].Read = true
		}
	}
	m.state.Notifications = notifications
	m.state.UnreadCount = max(0, m.state.UnreadCount-len(ids))
	unread := m.state.UnreadCount
	m.mu.Unlock()

	metrics.SetUnreadCount(unread)
	log.Info().Int("count", len(ids)).Msg("All notifications marked read")
	return nil
}

// handleUserChange tears down the previous user's scope and state, then
// acquires a scope and loads data for the new user.
func (m *NotificationManager) handleUserChange(user *models.User) {
	next := uuid.Nil
	if user != nil {
		next = user.ID
	}

	m.mu.Lock()
	if next == m.user {
		m.mu.Unlock()
		return
	}
	m.epoch++
	epoch := m.epoch
	old := m.scope
	m.scope = nil
	m.user = next
	m.state = emptyNotificationState()
	m.pending = make(map[int64]bool)
	m.mu.Unlock()

	old.release()
	metrics.SetUnreadCount(0)

	if user == nil {
		log.Debug().Msg("Notifications reset")
		return
	}

	ctx := context.Background()
	if err := m.acquireScope(ctx, epoch, user.ID); err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Failed to subscribe to realtime updates")
	}
	if err := m.FetchAll(ctx); err != nil {
		log.Debug().Err(err).Msg("Initial notification fetch failed")
	}
}

// acquireScope subscribes both feeds for userID. The scope is installed
// before subscribing so no event is lost; on any failure everything that
// was acquired is released. A student id that cannot be resolved yet does
// not block the feeds: notification events resolve it on arrival.
func (m *NotificationManager) acquireScope(ctx context.Context, epoch uint64, userID uuid.UUID) error {
	studentID, err := m.identity.StudentID(ctx)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("Student not resolved yet, subscribing anyway")
		studentID = uuid.Nil
	}

	sc := &scope{userID: userID, studentID: studentID}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return nil
	}
	m.scope = sc
	m.mu.Unlock()

	announcements, err := m.feed.SubscribeAnnouncements(ctx, func(a models.Announcement) {
		m.onAnnouncement(sc, a)
	})
	if err != nil {
		m.dropScope(sc)
		return fmt.Errorf("failed to subscribe to announcements: %w", err)
	}
	if !sc.attach(announcements) {
		return nil
	}

	notifications, err := m.feed.SubscribeNotifications(ctx, func(n models.Notification) {
		m.onNotification(sc, n)
	})
	if err != nil {
		m.dropScope(sc)
		return fmt.Errorf("failed to subscribe to notifications: %w", err)
	}
	if !sc.attach(notifications) {
		return nil
	}

	log.Debug().
		Str("user_id", userID.String()).
		Str("student_id", studentID.String()).
		Msg("Realtime scope acquired")
	return nil
}

// scopeStudentID returns the student whose notifications sc accepts,
// resolving it through identity when it was unknown at acquisition.
func (m *NotificationManager) scopeStudentID(sc *scope) (uuid.UUID, bool) {
	m.mu.Lock()
	if m.scope != sc {
		m.mu.Unlock()
		metrics.RecordRealtimeEvent(models.TableNotifications, "stale")
		return uuid.Nil, false
	}
	id := sc.studentID
	m.mu.Unlock()

	if id != uuid.Nil {
		return id, true
	}

	id, err := m.identity.StudentID(context.Background())
	if err != nil {
		log.Warn().Err(err).Str("user_id", sc.userID.String()).Msg("Dropping notification, student not resolved")
		metrics.RecordRealtimeEvent(models.TableNotifications, "unresolved")
		return uuid.Nil, false
	}

	m.mu.Lock()
	if m.scope == sc {
		sc.studentID = id
	}
	m.mu.Unlock()
	return id, true
}

func (m *NotificationManager) dropScope(sc *scope) {
	m.mu.Lock()
	if m.scope == sc {
		m.scope = nil
	}
	m.mu.Unlock()
	sc.release()
}

func (m *NotificationManager) onNotification(sc *scope, n models.Notification) {
	studentID, ok := m.scopeStudentID(sc)
	if !ok {
		return
	}

	m.mu.Lock()
	if m.scope != sc {
		m.mu.Unlock()
		metrics.RecordRealtimeEvent(models.TableNotifications, "stale")
		return
	}
	if n.StudentID != studentID {
		m.mu.Unlock()
		metrics.RecordRealtimeEvent(models.TableNotifications, "filtered")
		return
	}
	for _, existing := range m.state.Notifications {
		if existing.ID == n.ID {
			m.mu.Unlock()
			metrics.RecordRealtimeEvent(models.TableNotifications, "duplicate")
			return
		}
	}

	m.state.Notifications = append([]models.Notification{n}, m.state.Notifications...)
	if !n.Read {
		m.state.UnreadCount++
	}
	unread := m.state.UnreadCount
	m.mu.Unlock()

	metrics.RecordRealtimeEvent(models.TableNotifications, "accepted")
	metrics.SetUnreadCount(unread)

	log.Debug().
		Int64("notification_id", n.ID).
		Int("unread", unread).
		Msg("Notification received")
}

func (m *NotificationManager) onAnnouncement(sc *scope, a models.Announcement) {
	m.mu.Lock()
	if m.scope != sc {
		m.mu.Unlock()
		metrics.RecordRealtimeEvent(models.TableAnnouncements, "stale")
		return
	}
	for _, existing := range m.state.Announcements {
		if existing.ID == a.ID {
			m.mu.Unlock()
			metrics.RecordRealtimeEvent(models.TableAnnouncements, "duplicate")
			return
		}
	}

	m.state.Announcements = append([]models.Announcement{a}, m.state.Announcements...)
	if m.cfg.AnnouncementsUnread {
		m.state.UnreadCount++
	}
	unread := m.state.UnreadCount
	m.mu.Unlock()

	metrics.RecordRealtimeEvent(models.TableAnnouncements, "accepted")
	metrics.SetUnreadCount(unread)

	log.Debug().
		Int64("announcement_id", a.ID).
		Int("unread", unread).
		Msg("Announcement received")
}
