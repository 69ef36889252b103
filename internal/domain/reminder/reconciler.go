package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Reconciler removes the pending reminders of an event that will no longer
// happen at the scheduled time.
type Reconciler struct {
	repo   Repository
	index  Index
	logger zerolog.Logger
}

func NewReconciler(repo Repository, index Index, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		repo:   repo,
		index:  index,
		logger: logger.With().Str("component", "reminder-reconciler").Logger(),
	}
}

// Target identifies the reminders of one scheduled event. A nil
// AppointmentID matches only rows stored without one.
type Target struct {
	UserID        int64
	AppointmentID *int64
	ScheduledTime time.Time
	Kind          Kind
}

// Purge deletes the unsent reminders of t and returns them. Run it in the
// same transaction as the status change and pass the result to Forget once
// that transaction commits. Sent reminders are kept as history.
func (r *Reconciler) Purge(ctx context.Context, t Target) ([]*Notification, error) {
	t.ScheduledTime = t.ScheduledTime.Truncate(time.Microsecond)
	removed, err := r.repo.DeletePending(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("purge reminders: %w", err)
	}
	return removed, nil
}

// Forget removes purged reminders from the index and returns how many
// removals failed. Failures are only logged: the dispatcher drops entries
// whose row is gone.
func (r *Reconciler) Forget(ctx context.Context, removed []*Notification) int {
	failed := 0
	for _, n := range removed {
		if err := r.index.RemoveNotification(ctx, n.UserID, n.ID); err != nil {
			failed++
			r.logger.Warn().Err(err).
				Int64("notification_id", n.ID).
				Int64("user_id", n.UserID).
				Msg("remove purged reminder from index")
		}
	}
	if len(removed) > 0 {
		r.logger.Debug().Int("purged", len(removed)).Int("index_failures", failed).Msg("reminders purged")
	}
	return failed
}
