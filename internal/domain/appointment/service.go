package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/reminder"
	"github.com/clinic/clinic/internal/platform/notification"
	"github.com/clinic/clinic/pkg/pagination"
)

// Service books and transitions appointments. Reminder rows are written and
// purged in the same transaction as the appointment change; the Redis index
// is touched only after commit.
type Service struct {
	appointments AppointmentRepository
	followUps    FollowUpRepository
	tx           Transactor
	reminders    ReminderScheduler
	reconciler   ReminderReconciler
	now          func() time.Time
	logger       zerolog.Logger
}

func NewService(appointments AppointmentRepository, followUps FollowUpRepository, tx Transactor,
	reminders ReminderScheduler, reconciler ReminderReconciler, logger zerolog.Logger) *Service {
	return &Service{
		appointments: appointments,
		followUps:    followUps,
		tx:           tx,
		reminders:    reminders,
		reconciler:   reconciler,
		now:          time.Now,
		logger:       logger.With().Str("component", "appointment-service").Logger(),
	}
}

func (s *Service) requireFuture(t time.Time) error {
	if !t.After(s.now()) {
		return invalid("scheduled_time must be in the future")
	}
	return nil
}

func (s *Service) ensureSlotFree(ctx context.Context, doctorID int64, at time.Time, excludeID int64) error {
	taken, err := s.appointments.ExistsForDoctorAt(ctx, doctorID, at, excludeID)
	if err != nil {
		return fmt.Errorf("check doctor availability: %w", err)
	}
	if taken {
		return ErrConflict
	}
	return nil
}

func appointmentRequest(a *Appointment) reminder.Request {
	id := a.ID
	return reminder.Request{
		UserID:        a.UserID,
		AppointmentID: &id,
		Kind:          reminder.KindAppointment,
		TargetTime:    a.ScheduledTime,
		TemplateID:    notification.TemplateAppointmentReminder,
	}
}

// Book creates a SCHEDULED appointment and its reminders. A reminder store
// failure rolls the booking back.
func (s *Service) Book(ctx context.Context, a *Appointment) (*reminder.ScheduleResult, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireFuture(a.ScheduledTime); err != nil {
		return nil, err
	}
	a.Status = StatusScheduled

	var res *reminder.ScheduleResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ensureSlotFree(ctx, a.DoctorID, a.ScheduledTime, 0); err != nil {
			return err
		}
		if err := s.appointments.Create(ctx, a); err != nil {
			return err
		}
		var err error
		res, err = s.reminders.StoreReminders(ctx, appointmentRequest(a))
		if err != nil {
			return fmt.Errorf("store reminders: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.reminders.IndexReminders(ctx, res)
	s.logger.Info().Int64("appointment_id", a.ID).Int64("user_id", a.UserID).
		Int("reminders", len(res.Created)).Msg("appointment booked")
	return res, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, userID int64, p pagination.Params) ([]*Appointment, int, error) {
	return s.appointments.ListByPatient(ctx, userID, p.Limit, p.Offset)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID int64, p pagination.Params) ([]*Appointment, int, error) {
	return s.appointments.ListByDoctor(ctx, doctorID, p.Limit, p.Offset)
}

func (s *Service) ListFollowUps(ctx context.Context, appointmentID int64) ([]*FollowUp, error) {
	return s.followUps.ListByAppointment(ctx, appointmentID)
}

// Update applies p to a SCHEDULED appointment. Moving it to a new time
// replaces its pending reminders.
func (s *Service) Update(ctx context.Context, id int64, p UpdateParams) (*Appointment, *reminder.ScheduleResult, error) {
	var (
		updated *Appointment
		removed []*reminder.Notification
		res     *reminder.ScheduleResult
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := a.Status.terminalError(); err != nil {
			return err
		}

		oldTime := a.ScheduledTime
		if p.ServiceID != nil {
			a.ServiceID = *p.ServiceID
		}
		if p.Note != nil {
			a.Note = *p.Note
		}
		if p.ScheduledTime != nil {
			a.ScheduledTime = *p.ScheduledTime
		}
		if err := a.Validate(); err != nil {
			return err
		}

		moved := !a.ScheduledTime.Equal(oldTime)
		if moved {
			if err := s.requireFuture(a.ScheduledTime); err != nil {
				return err
			}
			if err := s.ensureSlotFree(ctx, a.DoctorID, a.ScheduledTime, a.ID); err != nil {
				return err
			}
		}
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		if moved {
			old := appointmentRequest(a)
			old.TargetTime = oldTime
			if removed, err = s.reconciler.Purge(ctx, old.Target()); err != nil {
				return fmt.Errorf("purge reminders: %w", err)
			}
			if res, err = s.reminders.StoreReminders(ctx, appointmentRequest(a)); err != nil {
				return fmt.Errorf("store reminders: %w", err)
			}
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if res != nil {
		s.reconciler.Forget(ctx, removed)
		s.reminders.IndexReminders(ctx, res)
		s.logger.Info().Int64("appointment_id", id).Int("purged", len(removed)).
			Int("reminders", len(res.Created)).Msg("appointment rescheduled")
	}
	return updated, res, nil
}

// transition moves a SCHEDULED appointment to a terminal status and purges
// its pending reminders. It returns how many were removed.
func (s *Service) transition(ctx context.Context, id int64, to Status) (int, error) {
	var removed []*reminder.Notification
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := a.Status.terminalError(); err != nil {
			return err
		}
		if err := s.appointments.UpdateStatus(ctx, id, to); err != nil {
			return err
		}
		removed, err = s.reconciler.Purge(ctx, appointmentRequest(a).Target())
		if err != nil {
			return fmt.Errorf("purge reminders: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if failed := s.reconciler.Forget(ctx, removed); failed > 0 {
		s.logger.Warn().Int64("appointment_id", id).Int("failed", failed).
			Msg("index entries left behind; dispatcher will drop them")
	}
	s.logger.Info().Int64("appointment_id", id).Str("status", string(to)).
		Int("purged", len(removed)).Msg("appointment status changed")
	return len(removed), nil
}

// Cancel cancels a SCHEDULED appointment and returns a confirmation message.
func (s *Service) Cancel(ctx context.Context, id int64) (string, error) {
	n, err := s.transition(ctx, id, StatusCancelled)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Appointment %d cancelled, %d pending reminder(s) removed", id, n), nil
}

// Complete marks a SCHEDULED appointment as completed.
func (s *Service) Complete(ctx context.Context, id int64) error {
	_, err := s.transition(ctx, id, StatusCompleted)
	return err
}

// CreateFollowUp records a follow-up visit for an existing appointment and
// schedules FOLLOW_UP reminders for it.
func (s *Service) CreateFollowUp(ctx context.Context, f *FollowUp) (*reminder.ScheduleResult, error) {
	if f.AppointmentID <= 0 {
		return nil, invalid("appointment_id is required")
	}
	if f.ScheduledTime.IsZero() {
		return nil, invalid("scheduled_time is required")
	}
	f.ScheduledTime = f.ScheduledTime.Truncate(time.Microsecond)
	if err := s.requireFuture(f.ScheduledTime); err != nil {
		return nil, err
	}

	var res *reminder.ScheduleResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, f.AppointmentID)
		if err != nil {
			return err
		}
		if a.Status == StatusCancelled {
			return ErrAlreadyCancelled
		}
		f.UserID = a.UserID
		if f.DoctorID == 0 {
			f.DoctorID = a.DoctorID
		}
		if err := s.followUps.Create(ctx, f); err != nil {
			return err
		}
		apptID := a.ID
		res, err = s.reminders.StoreReminders(ctx, reminder.Request{
			UserID:        f.UserID,
			AppointmentID: &apptID,
			Kind:          reminder.KindFollowUp,
			TargetTime:    f.ScheduledTime,
			TemplateID:    notification.TemplateFollowUpReminder,
		})
		if err != nil {
			return fmt.Errorf("store reminders: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.reminders.IndexReminders(ctx, res)
	s.logger.Info().Int64("follow_up_id", f.ID).Int64("appointment_id", f.AppointmentID).
		Int("reminders", len(res.Created)).Msg("follow-up created")
	return res, nil
}
