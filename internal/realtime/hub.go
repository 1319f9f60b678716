// Package realtime is the change feed between the backend and the portal
// client. Every inserted notification or announcement row is published as a
// models.ChangeEvent on a Redis pub/sub channel; subscribers decode the row
// and hand it to their handler.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	mathrand "math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ieraasyl/StudentPortal/internal/metrics"
	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/ieraasyl/StudentPortal/internal/portal"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Channel names, one per table.
const (
	ChannelNotifications = "realtime:notifications"
	ChannelAnnouncements = "realtime:announcements"
)

// Bus is the pub/sub transport.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// newEventID returns a lexicographically sortable event id.
func newEventID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Hub publishes and subscribes to table change events.
type Hub struct {
	bus Bus
}

// NewHub creates a hub on top of a pub/sub bus.
func NewHub(bus Bus) *Hub {
	return &Hub{bus: bus}
}

// PublishNotification announces a freshly inserted notification row.
func (h *Hub) PublishNotification(ctx context.Context, n models.Notification) error {
	return h.publish(ctx, ChannelNotifications, models.TableNotifications, n, n.CreatedAt)
}

// PublishAnnouncement announces a freshly inserted announcement row.
func (h *Hub) PublishAnnouncement(ctx context.Context, a models.Announcement) error {
	return h.publish(ctx, ChannelAnnouncements, models.TableAnnouncements, a, a.CreatedAt)
}

func (h *Hub) publish(ctx context.Context, channel, table string, record interface{}, committed time.Time) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", table, err)
	}

	event := models.ChangeEvent{
		ID:              newEventID(),
		Table:           table,
		Type:            models.ChangeEventInsert,
		Record:          raw,
		CommitTimestamp: committed,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}

	if err := h.bus.Publish(ctx, channel, payload); err != nil {
		return err
	}

	log.Debug().
		Str("event_id", event.ID).
		Str("table", table).
		Msg("Change event published")

	return nil
}

// SubscribeNotifications delivers every notification insert to handler.
func (h *Hub) SubscribeNotifications(ctx context.Context, handler func(models.Notification)) (portal.Subscription, error) {
	return subscribe(ctx, h.bus, ChannelNotifications, models.TableNotifications, handler)
}

// SubscribeAnnouncements delivers every announcement insert to handler.
func (h *Hub) SubscribeAnnouncements(ctx context.Context, handler func(models.Announcement)) (portal.Subscription, error) {
	return subscribe(ctx, h.bus, ChannelAnnouncements, models.TableAnnouncements, handler)
}

// subscription owns one pub/sub connection and its reader goroutine.
type subscription struct {
	ps     *redis.PubSub
	table  string
	closed atomic.Bool
	once   sync.Once
	err    error
}

// Close unsubscribes without waiting for the reader goroutine. A handler
// call already past the closed check may still run once; callers that need
// a hard cut-off check their own state in the handler. Close may be called
// from inside a handler and any number of times.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.err = s.ps.Close()
		log.Debug().Str("table", s.table).Msg("Realtime subscription closed")
	})
	return s.err
}

func subscribe[T any](ctx context.Context, bus Bus, channel, table string, handler func(T)) (portal.Subscription, error) {
	ps, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}

	sub := &subscription{ps: ps, table: table}

	go func() {
		for msg := range ps.Channel() {
			if sub.closed.Load() {
				return
			}

			record, err := decode[T](msg.Payload, table)
			if err != nil {
				metrics.RecordRealtimeEvent(table, "malformed")
				log.Warn().
					Err(err).
					Str("table", table).
					Msg("Dropping malformed change event")
				continue
			}

			handler(record)
		}
	}()

	log.Debug().Str("table", table).Msg("Realtime subscription opened")
	return sub, nil
}

func decode[T any](payload, table string) (T, error) {
	var zero T

	var event models.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return zero, fmt.Errorf("invalid envelope: %w", err)
	}
	if event.Table != table {
		return zero, fmt.Errorf("unexpected table %q", event.Table)
	}
	if event.Type != models.ChangeEventInsert {
		return zero, fmt.Errorf("unsupported change type %q", event.Type)
	}

	var record T
	if err := json.Unmarshal(event.Record, &record); err != nil {
		return zero, fmt.Errorf("invalid record: %w", err)
	}
	return record, nil
}
