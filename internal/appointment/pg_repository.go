package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const appointmentColumns = `
	booking_id, patient_id, patient_email, doctor_id, approved_doctor_id,
	chief_complaint, appointment_date, appointment_time, starts_at, status,
	original_booking_id, created_at, updated_at`

// queryer is satisfied by both the pool and a transaction.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.BookingID,
		&a.PatientID,
		&a.PatientEmail,
		&a.DoctorID,
		&a.ApprovedDoctorID,
		&a.ChiefComplaint,
		&a.AppointmentDate,
		&a.AppointmentTime,
		&a.StartsAt,
		&a.Status,
		&a.OriginalBookingID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func queryAppointments(ctx context.Context, q queryer, sql string, args ...any) ([]Appointment, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Appointment{}
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Interface methods

func (r *PgRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		// no-op after a successful commit
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, bookingID string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE booking_id = $1
	`, bookingID)
	return scanAppointment(row)
}

// CountActiveByTime counts from the appointments themselves rather than the
// reservation counters, so the ledger reflects the records patients can see.
func (r *PgRepository) CountActiveByTime(ctx context.Context, date string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_time, count(*)
		FROM appointments
		WHERE appointment_date = $1
		  AND status IN ('pending', 'confirmed')
		GROUP BY appointment_time
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		counts[label] = n
	}
	return counts, rows.Err()
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]Appointment, error) {
	return queryAppointments(ctx, r.pool, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY created_at DESC, booking_id DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
}

func (r *PgRepository) ListByStatus(ctx context.Context, status AppointmentStatus, limit, offset int) ([]Appointment, error) {
	return queryAppointments(ctx, r.pool, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = $1
		ORDER BY starts_at ASC, booking_id ASC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
}

func (r *PgRepository) ListAll(ctx context.Context, limit, offset int) ([]Appointment, error) {
	return queryAppointments(ctx, r.pool, `
		SELECT `+appointmentColumns+`
		FROM appointments
		ORDER BY created_at DESC, booking_id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
}

func (r *PgRepository) FindOverdue(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	return queryAppointments(ctx, r.pool, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('pending', 'confirmed')
		  AND starts_at < $1
		ORDER BY starts_at ASC
		LIMIT $2
	`, now, limit)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_events (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

// ListEvents returns the history of a booking, oldest first.
func (r *PgRepository) ListEvents(ctx context.Context, bookingID string) ([]EventLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, booking_id, payload, created_at
		FROM appointment_events
		WHERE booking_id = $1
		ORDER BY id
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventLog
	for rows.Next() {
		var ev EventLog
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.BookingID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetForUpdate(ctx context.Context, bookingID string) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE booking_id = $1
		FOR UPDATE
	`, bookingID)
	return scanAppointment(row)
}

// LockSlots creates missing counter rows and locks them in key order. The no-op
// update is what takes the row lock; DO NOTHING would not.
func (t *pgTx) LockSlots(ctx context.Context, keys ...SlotKey) error {
	for _, key := range sortedSlotKeys(keys) {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO slot_counters (appointment_date, appointment_time, booked)
			VALUES ($1, $2, 0)
			ON CONFLICT (appointment_date, appointment_time)
			DO UPDATE SET booked = slot_counters.booked
		`, key.Date, key.Time)
		if err != nil {
			return fmt.Errorf("lock slot %s %s: %w", key.Date, key.Time, err)
		}
	}
	return nil
}

// ReserveSlot increments the slot counter only while it is below capacity. The
// upsert takes the counter row lock, so concurrent reservations for the same slot
// queue on it and the losers see no row returned.
func (t *pgTx) ReserveSlot(ctx context.Context, key SlotKey, capacity int) error {
	var booked int
	err := t.tx.QueryRow(ctx, `
		INSERT INTO slot_counters (appointment_date, appointment_time, booked)
		VALUES ($1, $2, 1)
		ON CONFLICT (appointment_date, appointment_time)
		DO UPDATE SET booked = slot_counters.booked + 1
		WHERE slot_counters.booked < $3
		RETURNING booked
	`, key.Date, key.Time, capacity).Scan(&booked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("reserve slot: %w", err)
	}
	if booked > capacity {
		return ErrSlotUnavailable
	}
	return nil
}

func (t *pgTx) ReleaseSlot(ctx context.Context, key SlotKey) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE slot_counters
		SET booked = booked - 1
		WHERE appointment_date = $1
		  AND appointment_time = $2
		  AND booked > 0
	`, key.Date, key.Time)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (booking_id) DO NOTHING
	`,
		a.BookingID, a.PatientID, a.PatientEmail, a.DoctorID, a.ApprovedDoctorID,
		a.ChiefComplaint, a.AppointmentDate, a.AppointmentTime, a.StartsAt, a.Status,
		a.OriginalBookingID, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateBookingID
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateBookingID
	}
	return nil
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a *Appointment, from AppointmentStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    doctor_id = $3,
		    approved_doctor_id = $4,
		    updated_at = $5
		WHERE booking_id = $1
		  AND status = $6
	`, a.BookingID, a.Status, a.DoctorID, a.ApprovedDoctorID, a.UpdatedAt, from)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is no longer %s", ErrInvalidTransition, a.BookingID, from)
	}
	return nil
}
