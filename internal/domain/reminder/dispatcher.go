package reminder

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// EventNotification is the push event type for a delivered reminder.
const EventNotification = "notification"

type DispatcherConfig struct {
	PollInterval    time.Duration
	DeliveryTimeout time.Duration
	// Location renders the scheduled time in reminder email.
	Location *time.Location
}

// CycleStats summarizes one dispatch cycle.
type CycleStats struct {
	Skipped      bool `json:"skipped"`
	Keys         int  `json:"keys"`
	Due          int  `json:"due"`
	Delivered    int  `json:"delivered"`
	Stale        int  `json:"stale"`
	Invalid      int  `json:"invalid"`
	PushFailed   int  `json:"push_failed"`
	EmailFailed  int  `json:"email_failed"`
	EmailSkipped int  `json:"email_skipped"`
	AbortedKeys  int  `json:"aborted_keys"`
}

// Dispatcher drains due entries from the index and delivers them. Delivery
// is at least once: an entry leaves the index only after its row is marked
// sent, or once it is known to be stale or invalid.
type Dispatcher struct {
	repo     Repository
	index    Index
	push     Pusher
	mail     Mailer
	contacts Contacts
	cfg      DispatcherConfig
	now      func() time.Time
	running  atomic.Bool
	logger   zerolog.Logger
}

func NewDispatcher(repo Repository, index Index, push Pusher, mail Mailer, contacts Contacts, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Dispatcher{
		repo:     repo,
		index:    index,
		push:     push,
		mail:     mail,
		contacts: contacts,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With().Str("component", "reminder-dispatcher").Logger(),
	}
}

// Run executes a cycle immediately and then every PollInterval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info().Dur("interval", d.cfg.PollInterval).Msg("reminder dispatcher started")
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		d.RunCycle(ctx)
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("reminder dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunCycle processes every due entry once. A cycle that starts while
// another is still running returns immediately with Skipped set. Errors
// are logged and counted; none escape the cycle.
func (d *Dispatcher) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats
	if !d.running.CompareAndSwap(false, true) {
		stats.Skipped = true
		d.logger.Warn().Msg("previous dispatch cycle still running, skipping")
		return stats
	}
	defer d.running.Store(false)

	start := d.now()
	keys, err := d.index.Keys(ctx)
	if err != nil {
		d.logger.Error().Err(err).Msg("list reminder keys")
		return stats
	}
	stats.Keys = len(keys)

	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		d.processKey(ctx, key, start, &stats)
	}

	if stats.Due > 0 || stats.AbortedKeys > 0 {
		d.logger.Info().
			Int("due", stats.Due).
			Int("delivered", stats.Delivered).
			Int("stale", stats.Stale).
			Int("invalid", stats.Invalid).
			Int("push_failed", stats.PushFailed).
			Int("email_failed", stats.EmailFailed).
			Int("aborted_keys", stats.AbortedKeys).
			Dur("elapsed", d.now().Sub(start)).
			Msg("dispatch cycle finished")
	}
	return stats
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeStale
	outcomeInvalid
	outcomePushFailed
	outcomeAbortKey
)

func (d *Dispatcher) processKey(ctx context.Context, key string, now time.Time, stats *CycleStats) {
	log := d.logger.With().Str("key", key).Logger()

	userID, err := d.index.UserFromKey(key)
	if err != nil {
		log.Warn().Err(err).Msg("skipping unrecognised reminder key")
		return
	}

	members, err := d.index.Due(ctx, key, now)
	if err != nil {
		log.Error().Err(err).Msg("read due reminders")
		stats.AbortedKeys++
		return
	}

	for _, member := range members {
		stats.Due++
		switch d.processEntry(ctx, key, userID, member, stats) {
		case outcomeDelivered:
			stats.Delivered++
		case outcomeStale:
			stats.Stale++
		case outcomeInvalid:
			stats.Invalid++
		case outcomePushFailed:
			stats.PushFailed++
		case outcomeAbortKey:
			stats.AbortedKeys++
			return
		}
	}
}

func (d *Dispatcher) processEntry(ctx context.Context, key string, userID int64, member string, stats *CycleStats) outcome {
	log := d.logger.With().Str("key", key).Str("member", member).Logger()

	id, err := strconv.ParseInt(member, 10, 64)
	if err != nil || id <= 0 {
		log.Warn().Msg("dropping malformed reminder entry")
		d.remove(ctx, key, member)
		return outcomeInvalid
	}

	n, err := d.repo.GetByID(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		log.Info().Msg("dropping reminder entry without a backing row")
		d.remove(ctx, key, member)
		return outcomeInvalid
	case err != nil:
		log.Error().Err(err).Msg("load reminder; leaving the rest of this key for the next cycle")
		return outcomeAbortKey
	}

	if n.UserID != userID {
		log.Warn().Int64("owner", n.UserID).Msg("dropping reminder entry filed under the wrong user")
		d.remove(ctx, key, member)
		return outcomeInvalid
	}
	if n.Sent {
		d.remove(ctx, key, member)
		return outcomeStale
	}

	pushCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	err = d.push.SendToUser(pushCtx, n.UserID, EventNotification, n.PushPayload())
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("push failed, will retry next cycle")
		return outcomePushFailed
	}

	d.sendEmail(ctx, n, stats, log)

	switch err := d.repo.MarkSent(ctx, n.ID); {
	case errors.Is(err, ErrNotFound):
		// Cancelled while being delivered.
		log.Info().Msg("reminder row removed during delivery")
	case err != nil:
		log.Error().Err(err).Msg("mark reminder sent; leaving the rest of this key for the next cycle")
		return outcomeAbortKey
	}

	d.remove(ctx, key, member)
	return outcomeDelivered
}

func (d *Dispatcher) sendEmail(ctx context.Context, n *Notification, stats *CycleStats, log zerolog.Logger) {
	mailCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	defer cancel()

	email, err := d.contacts.ContactEmail(mailCtx, n.UserID)
	if err != nil {
		stats.EmailFailed++
		log.Warn().Err(err).Msg("look up reminder email")
		return
	}
	if email == "" {
		stats.EmailSkipped++
		return
	}

	scheduled := n.ScheduledTime.In(d.cfg.Location).Format("Mon, 02 Jan 2006 15:04 MST")
	if err := d.mail.SendReminder(mailCtx, email, scheduled, FormatLeadTime(n.LeadTime())); err != nil {
		stats.EmailFailed++
		log.Warn().Err(err).Msg("reminder email failed")
	}
}

func (d *Dispatcher) remove(ctx context.Context, key, member string) {
	if err := d.index.Remove(ctx, key, member); err != nil {
		d.logger.Warn().Err(err).Str("key", key).Str("member", member).Msg("remove reminder entry")
	}
}
