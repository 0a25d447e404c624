package appointment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrDuplicateBookingID  = errors.New("booking id already exists")
)

// Repository contains all storage interactions needed by the service.
//
// Capacity is enforced by the storage layer itself: Tx.ReserveSlot must refuse
// the seat that would push a slot past its capacity even when called from many
// processes at once. Everything done inside InTx commits or rolls back as a unit.
type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetAppointment(ctx context.Context, bookingID string) (*Appointment, error)

	// Capacity ledger: active appointments per slot label for a date.
	CountActiveByTime(ctx context.Context, date string) (map[string]int, error)

	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]Appointment, error)
	ListByStatus(ctx context.Context, status AppointmentStatus, limit, offset int) ([]Appointment, error)
	ListAll(ctx context.Context, limit, offset int) ([]Appointment, error)

	// Expiry sweep
	FindOverdue(ctx context.Context, now time.Time, limit int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Tx is the unit of work the booking transaction and lifecycle transitions run in.
type Tx interface {
	// GetForUpdate loads an appointment and holds it against concurrent writers
	// until the transaction ends.
	GetForUpdate(ctx context.Context, bookingID string) (*Appointment, error)

	// LockSlots holds the counters of every key against concurrent writers until
	// the transaction ends. Keys are locked in (date, time) order, so callers that
	// touch more than one slot never wait on each other in a cycle.
	LockSlots(ctx context.Context, keys ...SlotKey) error

	// ReserveSlot takes one seat in the slot or fails with ErrSlotUnavailable
	// when capacity seats are already held.
	ReserveSlot(ctx context.Context, key SlotKey, capacity int) error
	// ReleaseSlot gives one seat back.
	ReleaseSlot(ctx context.Context, key SlotKey) error

	// InsertAppointment fails with ErrDuplicateBookingID on an id collision.
	InsertAppointment(ctx context.Context, a *Appointment) error

	// UpdateAppointment writes status, doctor ids and updated_at, but only if the
	// stored status still equals from. Otherwise it fails with ErrInvalidTransition.
	UpdateAppointment(ctx context.Context, a *Appointment, from AppointmentStatus) error
}
