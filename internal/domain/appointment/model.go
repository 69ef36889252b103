package appointment

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound         = errors.New("appointment not found")
	ErrConflict         = errors.New("doctor already has an appointment at that time")
	ErrAlreadyCancelled = errors.New("appointment is already cancelled")
	ErrAlreadyCompleted = errors.New("appointment is already completed")
	ErrInvalid          = errors.New("invalid appointment")
)

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// terminalError returns the sentinel for a terminal status, or nil.
func (s Status) terminalError() error {
	switch s {
	case StatusCancelled:
		return ErrAlreadyCancelled
	case StatusCompleted:
		return ErrAlreadyCompleted
	}
	return nil
}

// Appointment maps to the appointment table. UserID is the patient.
type Appointment struct {
	ID            int64     `db:"id" json:"id"`
	DoctorID      int64     `db:"doctor_id" json:"doctor_id"`
	UserID        int64     `db:"user_id" json:"user_id"`
	ServiceID     int64     `db:"service_id" json:"service_id"`
	ScheduledTime time.Time `db:"scheduled_time" json:"scheduled_time"`
	Note          string    `db:"note" json:"note"`
	Status        Status    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks required fields and normalizes ScheduledTime to the
// precision the database stores.
func (a *Appointment) Validate() error {
	if a.DoctorID <= 0 {
		return invalid("doctor_id is required")
	}
	if a.UserID <= 0 {
		return invalid("user_id is required")
	}
	if a.ServiceID <= 0 {
		return invalid("service_id is required")
	}
	if a.ScheduledTime.IsZero() {
		return invalid("scheduled_time is required")
	}
	a.ScheduledTime = a.ScheduledTime.Truncate(time.Microsecond)
	return nil
}

// FollowUp is a revisit prescribed during an appointment.
type FollowUp struct {
	ID            int64     `db:"id" json:"id"`
	AppointmentID int64     `db:"appointment_id" json:"appointment_id"`
	UserID        int64     `db:"user_id" json:"user_id"`
	DoctorID      int64     `db:"doctor_id" json:"doctor_id"`
	ScheduledTime time.Time `db:"scheduled_time" json:"scheduled_time"`
	Note          string    `db:"note" json:"note"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// UpdateParams lists the fields Update may change. Nil fields are left alone.
type UpdateParams struct {
	ScheduledTime *time.Time
	ServiceID     *int64
	Note          *string
}
