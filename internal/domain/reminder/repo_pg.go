package reminder

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

type notificationRepoPG struct{ pool *pgxpool.Pool }

func NewNotificationRepoPG(pool *pgxpool.Pool) Repository { return &notificationRepoPG{pool: pool} }

const notificationCols = `id, user_id, appointment_id, type, title, content,
	remind_at, scheduled_time, sent, is_read, created_at, updated_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.UserID, &n.AppointmentID, &n.Type, &n.Title, &n.Content,
		&n.RemindAt, &n.ScheduledTime, &n.Sent, &n.IsRead, &n.CreatedAt, &n.UpdatedAt)
	return &n, err
}

func collect(rows pgx.Rows) ([]*Notification, error) {
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (r *notificationRepoPG) Create(ctx context.Context, n *Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO notification (user_id, appointment_id, type, title, content, remind_at, scheduled_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, sent, is_read, created_at, updated_at`,
		n.UserID, n.AppointmentID, n.Type, n.Title, n.Content, n.RemindAt, n.ScheduledTime).
		Scan(&n.ID, &n.Sent, &n.IsRead, &n.CreatedAt, &n.UpdatedAt)
}

func (r *notificationRepoPG) GetByID(ctx context.Context, id int64) (*Notification, error) {
	n, err := scanNotification(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+notificationCols+` FROM notification WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (r *notificationRepoPG) MarkSent(ctx context.Context, id int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE notification SET sent = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *notificationRepoPG) DeletePending(ctx context.Context, t Target) ([]*Notification, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		DELETE FROM notification
		WHERE user_id = $1 AND appointment_id IS NOT DISTINCT FROM $2
		  AND scheduled_time = $3 AND type = $4 AND sent = FALSE
		RETURNING `+notificationCols,
		t.UserID, t.AppointmentID, t.ScheduledTime, t.Kind)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *notificationRepoPG) ListUnsent(ctx context.Context, afterID int64, limit int) ([]*Notification, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+notificationCols+` FROM notification
		WHERE sent = FALSE AND id > $1
		ORDER BY id LIMIT $2`,
		afterID, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *notificationRepoPG) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Notification, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM notification WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `
		SELECT `+notificationCols+` FROM notification
		WHERE user_id = $1 ORDER BY remind_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
