package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps everything in process memory. One transaction runs at a
// time and a failed transaction is undone from its journal, so it gives the same
// capacity guarantees as the Postgres store within a single process.
type MemoryRepository struct {
	mu       sync.Mutex
	appts    map[string]*Appointment
	counters map[SlotKey]int
	events   []EventLog
	nextID   int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appts:    make(map[string]*Appointment),
		counters: make(map[SlotKey]int),
	}
}

func (r *MemoryRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{repo: r}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	return fn(ctx, tx)
}

func (r *MemoryRepository) GetAppointment(_ context.Context, bookingID string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[bookingID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) CountActiveByTime(_ context.Context, date string) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[string]int)
	for _, a := range r.appts {
		if a.AppointmentDate == date && a.Status.Active() {
			counts[a.AppointmentTime]++
		}
	}
	return counts, nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]Appointment, error) {
	return r.list(func(a *Appointment) bool { return a.PatientID == patientID }, newestFirst, limit, offset), nil
}

func (r *MemoryRepository) ListByStatus(_ context.Context, status AppointmentStatus, limit, offset int) ([]Appointment, error) {
	return r.list(func(a *Appointment) bool { return a.Status == status }, soonestFirst, limit, offset), nil
}

func (r *MemoryRepository) ListAll(_ context.Context, limit, offset int) ([]Appointment, error) {
	return r.list(func(*Appointment) bool { return true }, newestFirst, limit, offset), nil
}

func (r *MemoryRepository) FindOverdue(_ context.Context, now time.Time, limit int) ([]Appointment, error) {
	return r.list(func(a *Appointment) bool {
		return a.Status.Active() && a.StartsAt.Before(now)
	}, soonestFirst, limit, 0), nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	ev.ID = r.nextID
	r.events = append(r.events, ev)
	return nil
}

// Events returns the recorded history for a booking, oldest first.
func (r *MemoryRepository) Events(bookingID string) []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []EventLog
	for _, ev := range r.events {
		if ev.BookingID == bookingID {
			out = append(out, ev)
		}
	}
	return out
}

// SeatsHeld reports the reservation counter for a slot.
func (r *MemoryRepository) SeatsHeld(key SlotKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[key]
}

func newestFirst(a, b *Appointment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.BookingID > b.BookingID
}

func soonestFirst(a, b *Appointment) bool {
	if !a.StartsAt.Equal(b.StartsAt) {
		return a.StartsAt.Before(b.StartsAt)
	}
	return a.BookingID < b.BookingID
}

func (r *MemoryRepository) list(match func(*Appointment) bool, less func(a, b *Appointment) bool, limit, offset int) []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hits []*Appointment
	for _, a := range r.appts {
		if match(a) {
			hits = append(hits, a)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return less(hits[i], hits[j]) })

	if offset >= len(hits) {
		return []Appointment{}
	}
	hits = hits[offset:]
	if limit > 0 && limit < len(hits) {
		hits = hits[:limit]
	}

	out := make([]Appointment, len(hits))
	for i, a := range hits {
		out[i] = *a
	}
	return out
}

// memTx records an undo step for every write so rollback restores the exact
// prior state.
type memTx struct {
	repo *MemoryRepository
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) GetForUpdate(_ context.Context, bookingID string) (*Appointment, error) {
	a, ok := t.repo.appts[bookingID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

// LockSlots is a no-op: InTx already holds the repository mutex.
func (t *memTx) LockSlots(context.Context, ...SlotKey) error {
	return nil
}

func (t *memTx) ReserveSlot(_ context.Context, key SlotKey, capacity int) error {
	held := t.repo.counters[key]
	if held >= capacity {
		return ErrSlotUnavailable
	}
	t.repo.counters[key] = held + 1
	t.undo = append(t.undo, func() { t.repo.counters[key] = held })
	return nil
}

func (t *memTx) ReleaseSlot(_ context.Context, key SlotKey) error {
	held := t.repo.counters[key]
	if held == 0 {
		return nil
	}
	t.repo.counters[key] = held - 1
	t.undo = append(t.undo, func() { t.repo.counters[key] = held })
	return nil
}

func (t *memTx) InsertAppointment(_ context.Context, a *Appointment) error {
	if _, exists := t.repo.appts[a.BookingID]; exists {
		return ErrDuplicateBookingID
	}
	cp := *a
	id := a.BookingID
	t.repo.appts[id] = &cp
	t.undo = append(t.undo, func() { delete(t.repo.appts, id) })
	return nil
}

func (t *memTx) UpdateAppointment(_ context.Context, a *Appointment, from AppointmentStatus) error {
	cur, ok := t.repo.appts[a.BookingID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if cur.Status != from {
		return fmt.Errorf("%w: status is %s, expected %s", ErrInvalidTransition, cur.Status, from)
	}

	prev := *cur
	cur.Status = a.Status
	cur.DoctorID = a.DoctorID
	cur.ApprovedDoctorID = a.ApprovedDoctorID
	cur.UpdatedAt = a.UpdatedAt
	t.undo = append(t.undo, func() { *cur = prev })
	return nil
}
