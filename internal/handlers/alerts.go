package handlers

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// defaultAlertCapacity is how many alerts AlertLog keeps.
const defaultAlertCapacity = 50

// Alert is one user-facing message raised by the managers.
type Alert struct {
	Seq       uint64    `json:"seq"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// AlertLog is the portal.Alerter of the headless client. It logs every
// alert and keeps the most recent ones for GET /api/v1/alerts.
type AlertLog struct {
	mu       sync.Mutex
	alerts   []Alert
	seq      uint64
	capacity int
}

// NewAlertLog keeps up to capacity alerts; zero or less uses a default.
func NewAlertLog(capacity int) *AlertLog {
	if capacity <= 0 {
		capacity = defaultAlertCapacity
	}
	return &AlertLog{capacity: capacity}
}

// Alert records a message.
func (l *AlertLog) Alert(title, message string) {
	l.mu.Lock()
	l.seq++
	l.alerts = append(l.alerts, Alert{
		Seq:       l.seq,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
	if over := len(l.alerts) - l.capacity; over > 0 {
		l.alerts = append([]Alert(nil), l.alerts[over:]...)
	}
	seq := l.seq
	l.mu.Unlock()

	log.Info().
		Uint64("alert_seq", seq).
		Str("title", title).
		Str("message", message).
		Msg("Alert")
}

// Seq returns the sequence number of the latest alert.
func (l *AlertLog) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Since returns the retained alerts newer than seq, oldest first.
func (l *AlertLog) Since(seq uint64) []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := []Alert{}
	for _, a := range l.alerts {
		if a.Seq > seq {
			out = append(out, a)
		}
	}
	return out
}
