package reminder

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id int64) (*Notification, error)
	// MarkSent returns ErrNotFound when the row no longer exists.
	MarkSent(ctx context.Context, id int64) error
	// DeletePending removes the unsent rows of t and returns them.
	DeletePending(ctx context.Context, t Target) ([]*Notification, error)
	// ListUnsent pages through unsent rows in id order, starting after afterID.
	ListUnsent(ctx context.Context, afterID int64, limit int) ([]*Notification, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Notification, int, error)
}

// Index is the time-ordered reminder index. Keys hold one user's entries;
// members are decimal notification ids.
type Index interface {
	Add(ctx context.Context, userID, notificationID int64, due time.Time) error
	Keys(ctx context.Context) ([]string, error)
	Due(ctx context.Context, key string, now time.Time) ([]string, error)
	Remove(ctx context.Context, key, member string) error
	RemoveNotification(ctx context.Context, userID, notificationID int64) error
	UserFromKey(key string) (int64, error)
}

// Renderer turns a template id and data into a title and content.
type Renderer interface {
	Render(templateID string, data map[string]string) (subject, body string, err error)
}

// Pusher delivers an event to every open session of a user.
type Pusher interface {
	SendToUser(ctx context.Context, userID int64, eventType string, payload any) error
}

// Mailer sends the reminder email.
type Mailer interface {
	SendReminder(ctx context.Context, to, scheduledTimeText, leadTimeText string) error
}

// Contacts resolves a user's email. "" means none on file.
type Contacts interface {
	ContactEmail(ctx context.Context, userID int64) (string, error)
}
