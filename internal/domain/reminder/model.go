package reminder

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("notification not found")

// Kind is the notification type stored in notification.type.
type Kind string

const (
	KindAppointment Kind = "APPOINTMENT"
	KindFollowUp    Kind = "FOLLOW_UP"
	KindSystem      Kind = "SYSTEM"
)

func (k Kind) Valid() bool {
	switch k {
	case KindAppointment, KindFollowUp, KindSystem:
		return true
	}
	return false
}

// Notification maps to the notification table. A row with Sent=false is a
// pending reminder; RemindAt is never after ScheduledTime.
type Notification struct {
	ID            int64     `db:"id" json:"id"`
	UserID        int64     `db:"user_id" json:"user_id"`
	AppointmentID *int64    `db:"appointment_id" json:"appointment_id,omitempty"`
	Type          Kind      `db:"type" json:"type"`
	Title         string    `db:"title" json:"title"`
	Content       string    `db:"content" json:"content"`
	RemindAt      time.Time `db:"remind_at" json:"remind_at"`
	ScheduledTime time.Time `db:"scheduled_time" json:"scheduled_time"`
	Sent          bool      `db:"sent" json:"sent"`
	IsRead        bool      `db:"is_read" json:"is_read"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// LeadTime is how long before the event the reminder fires.
func (n *Notification) LeadTime() time.Duration {
	return n.ScheduledTime.Sub(n.RemindAt)
}

func (n *Notification) Validate() error {
	if n.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if !n.Type.Valid() {
		return fmt.Errorf("invalid notification type: %q", n.Type)
	}
	if n.Title == "" {
		return fmt.Errorf("title is required")
	}
	if n.RemindAt.After(n.ScheduledTime) {
		return fmt.Errorf("remind_at %s is after scheduled_time %s", n.RemindAt, n.ScheduledTime)
	}
	return nil
}

// PushPayload is the body of the "notification" event pushed to clients.
type PushPayload struct {
	ID            int64     `json:"id"`
	Type          Kind      `json:"type"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	AppointmentID *int64    `json:"appointmentId,omitempty"`
	RemindAt      time.Time `json:"remindAt"`
	ScheduledTime time.Time `json:"scheduledTime"`
}

func (n *Notification) PushPayload() PushPayload {
	return PushPayload{
		ID:            n.ID,
		Type:          n.Type,
		Title:         n.Title,
		Content:       n.Content,
		AppointmentID: n.AppointmentID,
		RemindAt:      n.RemindAt,
		ScheduledTime: n.ScheduledTime,
	}
}

// FormatLeadTime renders an offset as reminder text: "30 minutes",
// "1 hour", "24 hours", "2 days".
func FormatLeadTime(d time.Duration) string {
	const day = 24 * time.Hour
	switch {
	case d >= 2*day && d%day == 0:
		return plural(int64(d/day), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int64(d/time.Minute), "minute")
	default:
		return plural(int64(d/time.Second), "second")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
