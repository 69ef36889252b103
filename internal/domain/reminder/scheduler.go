package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Request describes the event reminders are scheduled for. Data is passed
// to the template together with the lead_time, date and time keys.
type Request struct {
	UserID        int64
	AppointmentID *int64
	Kind          Kind
	TargetTime    time.Time
	TemplateID    string
	Data          map[string]string
}

// Target returns the key that purges the reminders stored for r.
func (r Request) Target() Target {
	return Target{UserID: r.UserID, AppointmentID: r.AppointmentID, ScheduledTime: r.TargetTime, Kind: r.Kind}
}

// ScheduleResult reports what ScheduleReminders did. IndexFailures counts
// rows that were stored but could not be indexed; the reindex sweep picks
// them up.
type ScheduleResult struct {
	Created       []*Notification
	Skipped       int
	IndexFailures int
}

type Scheduler struct {
	repo      Repository
	index     Index
	templates Renderer
	offsets   []time.Duration
	loc       *time.Location
	now       func() time.Time
	logger    zerolog.Logger
}

// NewScheduler returns a Scheduler that creates one reminder per offset
// before the target time. Times in reminder text are rendered in loc.
func NewScheduler(repo Repository, index Index, templates Renderer, offsets []time.Duration, loc *time.Location, logger zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		repo:      repo,
		index:     index,
		templates: templates,
		offsets:   offsets,
		loc:       loc,
		now:       time.Now,
		logger:    logger.With().Str("component", "reminder-scheduler").Logger(),
	}
}

func (req *Request) validate() error {
	if req.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if !req.Kind.Valid() {
		return fmt.Errorf("invalid reminder kind: %q", req.Kind)
	}
	if req.TargetTime.IsZero() {
		return fmt.Errorf("target time is required")
	}
	if req.TemplateID == "" {
		return fmt.Errorf("template id is required")
	}
	return nil
}

// ScheduleReminders stores and indexes one reminder per configured offset
// whose due time is still in the future. A store failure aborts and is
// returned; rows created before it stay in place. Index failures are logged
// and counted.
func (s *Scheduler) ScheduleReminders(ctx context.Context, req Request) (*ScheduleResult, error) {
	res, err := s.StoreReminders(ctx, req)
	s.IndexReminders(ctx, res)
	return res, err
}

// StoreReminders writes the reminder rows without touching the index. Call
// it inside a transaction and IndexReminders after the commit, so the
// dispatcher never sees an entry whose row is not yet visible.
func (s *Scheduler) StoreReminders(ctx context.Context, req Request) (*ScheduleResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	target := req.TargetTime.Truncate(time.Microsecond)
	now := s.now()
	res := &ScheduleResult{}

	for _, offset := range s.offsets {
		due := target.Add(-offset)
		if !due.After(now) {
			res.Skipped++
			continue
		}

		data := make(map[string]string, len(req.Data)+3)
		for k, v := range req.Data {
			data[k] = v
		}
		local := target.In(s.loc)
		data["lead_time"] = FormatLeadTime(offset)
		data["date"] = local.Format("2006-01-02")
		data["time"] = local.Format("15:04")

		title, content, err := s.templates.Render(req.TemplateID, data)
		if err != nil {
			return res, fmt.Errorf("render reminder: %w", err)
		}

		n := &Notification{
			UserID:        req.UserID,
			AppointmentID: req.AppointmentID,
			Type:          req.Kind,
			Title:         title,
			Content:       content,
			RemindAt:      due,
			ScheduledTime: target,
		}
		if err := s.repo.Create(ctx, n); err != nil {
			return res, fmt.Errorf("store reminder: %w", err)
		}
		res.Created = append(res.Created, n)
	}

	s.logger.Debug().
		Int64("user_id", req.UserID).
		Str("kind", string(req.Kind)).
		Time("target", target).
		Int("created", len(res.Created)).
		Int("skipped", res.Skipped).
		Msg("reminders stored")
	return res, nil
}

// IndexReminders adds the rows in res to the index. Failures are logged and
// counted in res.IndexFailures.
func (s *Scheduler) IndexReminders(ctx context.Context, res *ScheduleResult) {
	if res == nil {
		return
	}
	for _, n := range res.Created {
		if err := s.index.Add(ctx, n.UserID, n.ID, n.RemindAt); err != nil {
			res.IndexFailures++
			s.logger.Error().Err(err).
				Int64("notification_id", n.ID).
				Int64("user_id", n.UserID).
				Msg("reminder stored but not indexed; the reindex sweep will add it")
		}
	}
}
