package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

const uniqueViolation = "23505"

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, doctor_id, user_id, service_id, scheduled_time, note, status, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.UserID, &a.ServiceID, &a.ScheduledTime,
		&a.Note, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

// mapWriteErr turns a hit on the doctor/time unique index into ErrConflict.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment (doctor_id, user_id, service_id, scheduled_time, note, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at, updated_at`,
		a.DoctorID, a.UserID, a.ServiceID, a.ScheduledTime, a.Note, a.Status).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	return mapWriteErr(err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id int64) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1 FOR UPDATE`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointment SET service_id=$2, scheduled_time=$3, note=$4, status=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.ServiceID, a.ScheduledTime, a.Note, a.Status).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return mapWriteErr(err)
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE appointment SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) ExistsForDoctorAt(ctx context.Context, doctorID int64, at time.Time, excludeID int64) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointment
			WHERE doctor_id = $1 AND scheduled_time = $2 AND status <> 'CANCELLED' AND id <> $3
		)`, doctorID, at, excludeID).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoPG) listBy(ctx context.Context, column string, id int64, limit, offset int) ([]*Appointment, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE `+column+` = $1`, id).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+apptCols+` FROM appointment WHERE `+column+` = $1 ORDER BY scheduled_time DESC LIMIT $2 OFFSET $3`, id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, userID int64, limit, offset int) ([]*Appointment, int, error) {
	return r.listBy(ctx, "user_id", userID, limit, offset)
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID int64, limit, offset int) ([]*Appointment, int, error) {
	return r.listBy(ctx, "doctor_id", doctorID, limit, offset)
}

// =========== Follow-up Repository ===========

type followUpRepoPG struct{ pool *pgxpool.Pool }

func NewFollowUpRepoPG(pool *pgxpool.Pool) FollowUpRepository { return &followUpRepoPG{pool: pool} }

const followUpCols = `id, appointment_id, user_id, doctor_id, scheduled_time, note, created_at`

func (r *followUpRepoPG) Create(ctx context.Context, f *FollowUp) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO follow_up (appointment_id, user_id, doctor_id, scheduled_time, note)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at`,
		f.AppointmentID, f.UserID, f.DoctorID, f.ScheduledTime, f.Note).Scan(&f.ID, &f.CreatedAt)
}

func (r *followUpRepoPG) ListByAppointment(ctx context.Context, appointmentID int64) ([]*FollowUp, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+followUpCols+` FROM follow_up WHERE appointment_id = $1 ORDER BY scheduled_time`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*FollowUp
	for rows.Next() {
		var f FollowUp
		if err := rows.Scan(&f.ID, &f.AppointmentID, &f.UserID, &f.DoctorID, &f.ScheduledTime, &f.Note, &f.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &f)
	}
	return items, rows.Err()
}
