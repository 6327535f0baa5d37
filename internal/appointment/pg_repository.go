package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/healthcare-booking/internal/db"
)

const activeSlotIndex = "appointments_active_slot_uq"

const appointmentColumns = `id, patient_id, doctor_id, service_id, appt_date, appt_time,
	status, payment_status, price, is_free, is_paid, transaction_id,
	patient_notes, doctor_notes, prescription, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var prescription []byte

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.ServiceID,
		&a.Date,
		&a.Time,
		&a.Status,
		&a.PaymentStatus,
		&a.Price,
		&a.IsFree,
		&a.IsPaid,
		&a.TransactionID,
		&a.PatientNotes,
		&a.DoctorNotes,
		&prescription,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if len(prescription) > 0 {
		var p Prescription
		if err := json.Unmarshal(prescription, &p); err != nil {
			return nil, fmt.Errorf("decode prescription for %s: %w", a.ID, err)
		}
		a.Prescription = &p
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Reads

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByTransaction(ctx context.Context, tranID string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE transaction_id = $1`, tranID)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	var conds []string
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.Date != "" {
		add("appt_date = $%d", f.Date)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}

	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY appt_date, appt_time LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindActiveForSlot(ctx context.Context, doctorID uuid.UUID, date, clock string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appt_date = $2
		  AND appt_time = $3
		  AND status IN ('pending', 'scheduled')
	`, doctorID, date, clock)
	return scanAppointment(row)
}

func (r *PgRepository) CountBillable(ctx context.Context, patientID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE patient_id = $1
		  AND status IN ('completed', 'scheduled')
	`, patientID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	return n, nil
}

// ListDoctorPatients returns one row per patient who ever booked with the
// doctor, whatever the booking's status.
func (r *PgRepository) ListDoctorPatients(ctx context.Context, doctorID uuid.UUID) ([]PatientSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.id, u.name, u.email, u.phone_number,
		       max(a.appt_date) FILTER (WHERE a.status = 'completed'),
		       count(*) FILTER (WHERE a.status = 'completed')
		FROM appointments a
		JOIN users u ON u.id = a.patient_id
		WHERE a.doctor_id = $1
		GROUP BY u.id, u.name, u.email, u.phone_number
		ORDER BY u.name, u.id
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list doctor patients: %w", err)
	}
	defer rows.Close()

	var out []PatientSummary
	for rows.Next() {
		var p PatientSummary
		if err := rows.Scan(&p.PatientID, &p.Name, &p.Email, &p.PhoneNumber, &p.LastVisit, &p.TotalVisits); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgRepository) ListPatientHistory(ctx context.Context, doctorID, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND patient_id = $2
		ORDER BY appt_date DESC, appt_time DESC
	`, doctorID, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient history: %w", err)
	}
	return collectAppointments(rows)
}

// ListUpcoming returns the doctor's active bookings on or after fromDate.
func (r *PgRepository) ListUpcoming(ctx context.Context, doctorID uuid.UUID, fromDate string, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appt_date >= $2
		  AND status IN ('pending', 'scheduled')
		ORDER BY appt_date, appt_time
		LIMIT $3
	`, doctorID, fromDate, limit)
	if err != nil {
		return nil, fmt.Errorf("list upcoming appointments: %w", err)
	}
	return collectAppointments(rows)
}

// Writes

func (r *PgRepository) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, service_id, appt_date, appt_time,
		                          status, payment_status, price, is_free, patient_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DoctorID, a.ServiceID, a.Date, a.Time,
		a.Status, a.PaymentStatus, a.Price, a.IsFree, a.PatientNotes,
	)

	created, err := scanAppointment(row)
	if err != nil {
		if db.IsUniqueViolation(err, activeSlotIndex) {
			return nil, ErrSlotConflict
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

// UpdateAppointmentStatus only applies when the row is still in from, so
// concurrent transitions cannot both win.
func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from)

	a, err := scanAppointment(row)
	if err != nil && db.IsUniqueViolation(err, activeSlotIndex) {
		return nil, ErrSlotConflict
	}
	return a, err
}

func (r *PgRepository) SavePrescription(ctx context.Context, id uuid.UUID, p Prescription) (*Appointment, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode prescription: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET prescription = $2,
		    doctor_notes = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'completed'
		RETURNING `+appointmentColumns,
		id, data, p.Notes)
	return scanAppointment(row)
}

func (r *PgRepository) FindAbandoned(ctx context.Context, createdBefore time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND payment_status = 'pending'
		  AND created_at < $1
		ORDER BY created_at
	`, createdBefore)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// DeleteUnpaid removes a booking only while it is still awaiting payment.
func (r *PgRepository) DeleteUnpaid(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = $1
		  AND status = 'pending'
		  AND payment_status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("delete unpaid appointment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Payment reconciliation

func (r *PgRepository) SetTransactionID(ctx context.Context, id uuid.UUID, tranID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET transaction_id = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, tranID)
	if err != nil {
		return fmt.Errorf("set transaction id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// ConfirmPayment moves a paid booking to scheduled. Replays against an already
// confirmed booking return it unchanged.
func (r *PgRepository) ConfirmPayment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'scheduled',
		    payment_status = 'completed',
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'scheduled')
		RETURNING `+appointmentColumns,
		id)
	return scanAppointment(row)
}

func (r *PgRepository) RecordIPN(ctx context.Context, tranID string, valid bool) (*Appointment, error) {
	var row pgx.Row
	if valid {
		row = r.pool.QueryRow(ctx, `
			UPDATE appointments
			SET is_paid = TRUE,
			    payment_status = 'completed',
			    updated_at = now()
			WHERE transaction_id = $1
			RETURNING `+appointmentColumns,
			tranID)
	} else {
		row = r.pool.QueryRow(ctx, `
			UPDATE appointments
			SET payment_status = 'failed',
			    updated_at = now()
			WHERE transaction_id = $1
			RETURNING `+appointmentColumns,
			tranID)
	}
	return scanAppointment(row)
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
