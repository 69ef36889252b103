package appointment

import (
	"context"
	"time"

	"github.com/clinic/clinic/internal/domain/reminder"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id int64) (*Appointment, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
	// ExistsForDoctorAt reports whether a non-cancelled appointment other
	// than excludeID occupies the doctor's slot.
	ExistsForDoctorAt(ctx context.Context, doctorID int64, at time.Time, excludeID int64) (bool, error)
	ListByPatient(ctx context.Context, userID int64, limit, offset int) ([]*Appointment, int, error)
	ListByDoctor(ctx context.Context, doctorID int64, limit, offset int) ([]*Appointment, int, error)
}

type FollowUpRepository interface {
	Create(ctx context.Context, f *FollowUp) error
	ListByAppointment(ctx context.Context, appointmentID int64) ([]*FollowUp, error)
}

// Transactor runs fn in a transaction carried by the context it receives.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReminderScheduler is the part of reminder.Scheduler the service uses.
type ReminderScheduler interface {
	StoreReminders(ctx context.Context, req reminder.Request) (*reminder.ScheduleResult, error)
	IndexReminders(ctx context.Context, res *reminder.ScheduleResult)
}

// ReminderReconciler is the part of reminder.Reconciler the service uses.
type ReminderReconciler interface {
	Purge(ctx context.Context, t reminder.Target) ([]*reminder.Notification, error)
	Forget(ctx context.Context, removed []*reminder.Notification) int
}
