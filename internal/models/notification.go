package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification is a personal message addressed to one student.
// The backend owns it; the client keeps a read-through copy ordered by
// CreatedAt descending and flips Read through explicit mark-as-read calls.
type Notification struct {
	ID        int64     `json:"id" db:"id"`
	StudentID uuid.UUID `json:"student_id" db:"student_id"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	Read      bool      `json:"read" db:"read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Icon      *string   `json:"icon,omitempty" db:"icon"`
	Color     *string   `json:"color,omitempty" db:"color"`
	ActionURL *string   `json:"action_url,omitempty" db:"action_url"`
}

// Announcement is a broadcast message with no owning student.
type Announcement struct {
	ID        int64     `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Icon      *string   `json:"icon,omitempty" db:"icon"`
	Color     *string   `json:"color,omitempty" db:"color"`
}

// Realtime table names.
const (
	TableNotifications = "notifications"
	TableAnnouncements = "announcements"
)

// ChangeEventInsert is the only change type the feed delivers.
const ChangeEventInsert = "INSERT"

// ChangeEvent is the envelope published on the real-time feed for every
// inserted row.
//
// JSON example:
//
//	{
//	  "id": "01HV7Q2X4Y8Z0N6P3R5T7V9W1B",
//	  "table": "notifications",
//	  "type": "INSERT",
//	  "record": {"id": 42, "student_id": "...", "title": "Fees", "read": false},
//	  "commit_timestamp": "2024-09-02T08:15:00Z"
//	}
type ChangeEvent struct {
	ID              string          `json:"id"`
	Table           string          `json:"table"`
	Type            string          `json:"type"`
	Record          json.RawMessage `json:"record"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}
