package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
	"github.com/hackgods/clinic-appointment-scheduling/internal/slotgrid"
)

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentExpired     = "APPOINTMENT_EXPIRED"
)

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidSlot        = errors.New("invalid slot")
	ErrSlotUnavailable    = errors.New("slot is fully booked")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrAppointmentInPast  = errors.New("appointment is in the past")
	ErrNotOwner           = errors.New("appointment belongs to another patient")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

const (
	maxIDAttempts = 3
	expiryBatch   = 500
)

// SnapshotCache holds serialized availability snapshots. It is advisory only.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}

type Service struct {
	repo     Repository
	grid     *slotgrid.Grid
	notifier Notifier
	cache    SnapshotCache
	metrics  *metrics.Metrics
	log      zerolog.Logger

	capacity      int
	horizonDays   int
	notifyTimeout time.Duration
	loc           *time.Location
	now           func() time.Time
	newID         IDGenerator

	inflight sync.WaitGroup
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithCache(c SnapshotCache) Option { return func(s *Service) { s.cache = c } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l.With().Str("component", "appointment").Logger() }
}

// WithClock replaces time.Now and the location wall-clock slot times are read in.
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(s *Service) {
		s.now = now
		s.loc = loc
	}
}

func WithIDGenerator(g IDGenerator) Option { return func(s *Service) { s.newID = g } }

func NewService(repo Repository, grid *slotgrid.Grid, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		grid:          grid,
		log:           zerolog.Nop(),
		capacity:      cfg.MaxSlotsPerTime,
		horizonDays:   cfg.BookingHorizonDays,
		notifyTimeout: cfg.NotifyTimeout,
		loc:           time.Local,
		now:           time.Now,
		newID:         NewBookingID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.capacity <= 0 {
		s.capacity = 1
	}
	if s.notifyTimeout <= 0 {
		s.notifyTimeout = 30 * time.Second
	}
	return s
}

// Capacity is the per-slot limit on active appointments.
func (s *Service) Capacity() int {
	return s.capacity
}

func (s *Service) Policy() slotgrid.Policy {
	return s.grid.Policy()
}

// Slots returns the day's grid under the active policy.
func (s *Service) Slots() []slotgrid.TimeSlot {
	return s.grid.Slots()
}

// UpcomingDates lists the next n dates patients can pick from.
func (s *Service) UpcomingDates(n int) []slotgrid.UpcomingDate {
	return slotgrid.UpcomingDates(s.now().In(s.loc), n, s.grid.Policy().SkipWeekends)
}

// GetAvailability builds the capacity ledger for a date: every slot of the grid
// with the number of pending or confirmed appointments holding it. The result is
// a snapshot for display; CreateBooking is what actually enforces capacity.
func (s *Service) GetAvailability(ctx context.Context, date string) ([]SlotAvailability, error) {
	if _, err := slotgrid.ParseDate(date, s.loc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSlot, err)
	}

	// The generation is read before counting. A write that commits after this
	// point replaces it, so a stale count is filed under a key nobody reads.
	gen, cacheable := s.generation(ctx, date)
	key := availabilityKey(date, gen)
	if cacheable {
		if cached, ok := s.cachedAvailability(ctx, key); ok {
			return cached, nil
		}
	}

	counts, err := s.repo.CountActiveByTime(ctx, date)
	if err != nil {
		return nil, s.storageErr("count booked slots", err)
	}

	slots := s.grid.Slots()
	out := make([]SlotAvailability, 0, len(slots))
	for _, slot := range slots {
		booked := counts[slot.Label]
		out = append(out, SlotAvailability{
			Label:       slot.Label,
			StartMinute: slot.StartMinute,
			EndMinute:   slot.EndMinute,
			BookedCount: booked,
			Capacity:    s.capacity,
			IsAvailable: booked < s.capacity,
		})
	}

	if cacheable {
		s.storeAvailability(ctx, key, out)
	}
	return out, nil
}

// CreateBooking reserves a seat in the requested slot and records a pending
// appointment. The seat reservation and the insert commit together; when the slot
// is full at commit time the call fails with ErrSlotUnavailable.
func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest) (*Appointment, error) {
	if err := validateBookingRequest(req); err != nil {
		s.metrics.BookingAttempt("invalid")
		return nil, err
	}

	slot, startsAt, err := s.resolveSlot(req.Date, req.Time)
	if err != nil {
		s.metrics.BookingAttempt("invalid_slot")
		return nil, err
	}

	now := s.now()
	appt := &Appointment{
		PatientID:       strings.TrimSpace(req.PatientID),
		PatientEmail:    strings.TrimSpace(req.PatientEmail),
		ChiefComplaint:  strings.TrimSpace(req.ChiefComplaint),
		AppointmentDate: req.Date,
		AppointmentTime: slot.Label,
		StartsAt:        startsAt,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.ReserveSlot(ctx, appt.SlotKey(), s.capacity); err != nil {
			return err
		}
		return s.insertWithFreshID(ctx, tx, appt, PrefixBooking)
	})
	if err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			s.metrics.BookingAttempt("slot_unavailable")
			return nil, fmt.Errorf("%w: %s at %s has %d of %d seats taken",
				ErrSlotUnavailable, appt.AppointmentDate, appt.AppointmentTime, s.capacity, s.capacity)
		}
		s.metrics.BookingAttempt("error")
		return nil, s.storageErr("create booking", err)
	}

	s.metrics.BookingAttempt("success")

	// The booking exists from here on; follow-up work must not depend on the
	// caller still waiting.
	bg := context.WithoutCancel(ctx)
	s.invalidate(bg, appt.AppointmentDate)
	s.logEvent(bg, appt.BookingID, EventAppointmentCreated, map[string]any{
		"patient_id": appt.PatientID,
		"date":       appt.AppointmentDate,
		"time":       appt.AppointmentTime,
	})
	s.notify(Notification{Kind: NotifyBooked, Appointment: *appt})

	s.log.Info().
		Str("booking_id", appt.BookingID).
		Str("date", appt.AppointmentDate).
		Str("time", appt.AppointmentTime).
		Msg("appointment booked")

	return appt, nil
}

// ConfirmAppointment moves a pending appointment to confirmed and assigns the
// doctor. The row is locked for the duration so only one of two racing doctors wins.
func (s *Service) ConfirmAppointment(ctx context.Context, bookingID, doctorID string) (*Appointment, error) {
	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, fmt.Errorf("%w: doctorId is required", ErrInvalidRequest)
	}

	var confirmed *Appointment
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if appt.Status != StatusPending {
			return fmt.Errorf("%w: cannot confirm a %s appointment", ErrInvalidTransition, appt.Status)
		}
		if !appt.StartsAt.After(s.now()) {
			return fmt.Errorf("%w: appointment start has already passed", ErrInvalidTransition)
		}

		appt.Status = StatusConfirmed
		appt.DoctorID = &doctorID
		appt.ApprovedDoctorID = &doctorID
		appt.UpdatedAt = s.now()
		if err := tx.UpdateAppointment(ctx, appt, StatusPending); err != nil {
			return err
		}
		confirmed = appt
		return nil
	})
	if err != nil {
		s.metrics.Transition("confirm", resultOf(err))
		return nil, s.storageErr("confirm appointment", err)
	}

	s.metrics.Transition("confirm", "success")

	bg := context.WithoutCancel(ctx)
	s.logEvent(bg, confirmed.BookingID, EventAppointmentConfirmed, map[string]any{
		"doctor_id": doctorID,
	})
	s.notify(Notification{Kind: NotifyConfirmed, Appointment: *confirmed})

	return confirmed, nil
}

// RescheduleAppointment books the new slot and retires the old record in one
// transaction. If the new slot is full nothing changes.
func (s *Service) RescheduleAppointment(ctx context.Context, bookingID string, req RescheduleRequest) (*RescheduleResult, error) {
	slot, startsAt, err := s.resolveSlot(req.NewDate, req.NewTime)
	if err != nil {
		s.metrics.Transition("reschedule", "invalid_slot")
		return nil, err
	}
	doctorID := strings.TrimSpace(req.DoctorID)

	var result RescheduleResult
	err = s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		old, err := tx.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !CanTransition(old.Status, StatusRescheduled) {
			return fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, old.Status)
		}

		newKey := SlotKey{Date: req.NewDate, Time: slot.Label}
		if err := tx.LockSlots(ctx, old.SlotKey(), newKey); err != nil {
			return err
		}

		// Give the old seat back first so moving within a full slot, or to the
		// same slot, does not count the patient twice.
		if err := tx.ReleaseSlot(ctx, old.SlotKey()); err != nil {
			return err
		}

		now := s.now()
		oldID := old.BookingID
		repl := &Appointment{
			PatientID:         old.PatientID,
			PatientEmail:      old.PatientEmail,
			ChiefComplaint:    old.ChiefComplaint,
			AppointmentDate:   req.NewDate,
			AppointmentTime:   slot.Label,
			StartsAt:          startsAt,
			Status:            StatusPending,
			OriginalBookingID: &oldID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if doctorID != "" {
			repl.Status = StatusConfirmed
			repl.DoctorID = &doctorID
			repl.ApprovedDoctorID = &doctorID
		}

		if err := tx.ReserveSlot(ctx, repl.SlotKey(), s.capacity); err != nil {
			return err
		}
		if err := s.insertWithFreshID(ctx, tx, repl, PrefixReschedule); err != nil {
			return err
		}

		from := old.Status
		old.Status = StatusRescheduled
		old.UpdatedAt = now
		if err := tx.UpdateAppointment(ctx, old, from); err != nil {
			return err
		}

		result = RescheduleResult{Original: old, Replacement: repl}
		return nil
	})
	if err != nil {
		s.metrics.Transition("reschedule", resultOf(err))
		if errors.Is(err, ErrSlotUnavailable) {
			return nil, fmt.Errorf("%w: %s at %s", ErrSlotUnavailable, req.NewDate, slot.Label)
		}
		return nil, s.storageErr("reschedule appointment", err)
	}

	s.metrics.Transition("reschedule", "success")

	bg := context.WithoutCancel(ctx)
	s.invalidate(bg, result.Original.AppointmentDate, result.Replacement.AppointmentDate)
	s.logEvent(bg, result.Original.BookingID, EventAppointmentRescheduled, map[string]any{
		"new_booking_id": result.Replacement.BookingID,
		"doctor_id":      doctorID,
	})
	s.logEvent(bg, result.Replacement.BookingID, EventAppointmentCreated, map[string]any{
		"original_booking_id": result.Original.BookingID,
		"date":                result.Replacement.AppointmentDate,
		"time":                result.Replacement.AppointmentTime,
	})
	prev := *result.Original
	s.notify(Notification{Kind: NotifyRescheduled, Appointment: *result.Replacement, Previous: &prev})

	return &result, nil
}

// CancelAppointment cancels a future pending or confirmed appointment and frees
// its seat. Cancelling an already cancelled appointment succeeds without changes.
func (s *Service) CancelAppointment(ctx context.Context, bookingID string, req CancelRequest) (*TransitionResult, error) {
	requester := strings.TrimSpace(req.RequesterID)
	if requester == "" {
		return nil, fmt.Errorf("%w: requesterId is required", ErrInvalidRequest)
	}
	role := req.Role
	if role == "" {
		role = RolePatient
	}
	if role != RolePatient && role != RoleDoctor {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, req.Role)
	}

	var result TransitionResult
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if role == RolePatient && appt.PatientID != requester {
			return ErrNotOwner
		}

		result.Appointment = appt
		if appt.Status == StatusCancelled {
			return nil
		}
		if !CanTransition(appt.Status, StatusCancelled) {
			return fmt.Errorf("%w: cannot cancel a %s appointment", ErrInvalidTransition, appt.Status)
		}
		if !appt.StartsAt.After(s.now()) {
			return ErrAppointmentInPast
		}

		from := appt.Status
		appt.Status = StatusCancelled
		appt.UpdatedAt = s.now()
		if err := tx.UpdateAppointment(ctx, appt, from); err != nil {
			return err
		}
		if err := tx.ReleaseSlot(ctx, appt.SlotKey()); err != nil {
			return err
		}
		result.Changed = true
		return nil
	})
	if err != nil {
		s.metrics.Transition("cancel", resultOf(err))
		return nil, s.storageErr("cancel appointment", err)
	}

	if !result.Changed {
		s.metrics.Transition("cancel", "noop")
		return &result, nil
	}
	s.metrics.Transition("cancel", "success")

	bg := context.WithoutCancel(ctx)
	s.invalidate(bg, result.Appointment.AppointmentDate)
	s.logEvent(bg, bookingID, EventAppointmentCancelled, map[string]any{
		"requester_id": requester,
		"role":         string(role),
	})
	s.notify(Notification{Kind: NotifyCancelled, Appointment: *result.Appointment})

	return &result, nil
}

// ExpireOverdueAppointments is intended to be called by the worker periodically.
// It flips pending and confirmed appointments whose start has passed to expired.
// Failures on single records are logged and left for the next run.
func (s *Service) ExpireOverdueAppointments(ctx context.Context) (int, error) {
	now := s.now()
	expired := 0
	touched := map[string]struct{}{}

	for {
		candidates, err := s.repo.FindOverdue(ctx, now, expiryBatch)
		if err != nil {
			return expired, s.storageErr("find overdue appointments", err)
		}

		progressed := 0
		for _, cand := range candidates {
			ok, err := s.expireOne(ctx, cand.BookingID, now)
			if err != nil {
				s.log.Error().Err(err).Str("booking_id", cand.BookingID).Msg("failed to expire appointment")
				continue
			}
			if !ok {
				continue
			}
			progressed++
			expired++
			touched[cand.AppointmentDate] = struct{}{}
			s.logEvent(ctx, cand.BookingID, EventAppointmentExpired, map[string]any{
				"reason": "worker",
			})
		}

		if len(candidates) < expiryBatch || progressed == 0 {
			break
		}
	}

	dates := make([]string, 0, len(touched))
	for d := range touched {
		dates = append(dates, d)
	}
	s.invalidate(ctx, dates...)
	s.metrics.Expired(expired)

	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, bookingID string, now time.Time) (bool, error) {
	changed := false
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !CanTransition(appt.Status, StatusExpired) || appt.StartsAt.After(now) {
			return nil
		}

		from := appt.Status
		appt.Status = StatusExpired
		appt.UpdatedAt = now
		if err := tx.UpdateAppointment(ctx, appt, from); err != nil {
			return err
		}
		if err := tx.ReleaseSlot(ctx, appt.SlotKey()); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// GetAppointment retrieves one appointment by booking id.
func (s *Service) GetAppointment(ctx context.Context, bookingID string) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, bookingID)
	if err != nil {
		return nil, s.storageErr("get appointment", err)
	}
	return appt, nil
}

// ListAppointmentsByPatient returns a patient's history, newest first.
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID string, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	appts, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, s.storageErr("list appointments by patient", err)
	}
	return appts, nil
}

// ListPendingAppointments is the doctors' work queue, soonest first.
func (s *Service) ListPendingAppointments(ctx context.Context, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	appts, err := s.repo.ListByStatus(ctx, StatusPending, limit, offset)
	if err != nil {
		return nil, s.storageErr("list pending appointments", err)
	}
	return appts, nil
}

// ListAllAppointments returns every appointment, newest first.
func (s *Service) ListAllAppointments(ctx context.Context, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	appts, err := s.repo.ListAll(ctx, limit, offset)
	if err != nil {
		return nil, s.storageErr("list appointments", err)
	}
	return appts, nil
}

// WaitNotifications blocks until every dispatched notification has finished.
func (s *Service) WaitNotifications() {
	s.inflight.Wait()
}

// resolveSlot checks that (date, label) is a slot the active policy generates on
// a bookable day that has not started yet, and returns the canonical slot.
func (s *Service) resolveSlot(date, label string) (slotgrid.TimeSlot, time.Time, error) {
	day, err := slotgrid.ParseDate(date, s.loc)
	if err != nil {
		return slotgrid.TimeSlot{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidSlot, err)
	}

	slot, ok := s.grid.Lookup(label)
	if !ok {
		return slotgrid.TimeSlot{}, time.Time{}, fmt.Errorf("%w: %s", ErrInvalidSlot, s.grid.Explain(label))
	}

	if s.grid.Policy().SkipWeekends && slotgrid.IsWeekend(day) {
		return slotgrid.TimeSlot{}, time.Time{}, fmt.Errorf("%w: the clinic is closed on %s", ErrInvalidSlot, day.Weekday())
	}

	now := s.now().In(s.loc)
	startsAt := slot.On(day)
	if !startsAt.After(now) {
		return slotgrid.TimeSlot{}, time.Time{}, fmt.Errorf("%w: %s at %s has already started", ErrInvalidSlot, date, slot.Label)
	}

	if s.horizonDays > 0 {
		last := slotgrid.StartOfDay(now).AddDate(0, 0, s.horizonDays)
		if day.After(last) {
			return slotgrid.TimeSlot{}, time.Time{}, fmt.Errorf("%w: bookings open at most %d days ahead", ErrInvalidSlot, s.horizonDays)
		}
	}

	return slot, startsAt, nil
}

func (s *Service) insertWithFreshID(ctx context.Context, tx Tx, appt *Appointment, prefix string) error {
	var err error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		appt.BookingID = s.newID(prefix, s.now())
		err = tx.InsertAppointment(ctx, appt)
		if !errors.Is(err, ErrDuplicateBookingID) {
			return err
		}
		s.log.Warn().Str("booking_id", appt.BookingID).Msg("booking id collision, regenerating")
	}
	return err
}

func validateBookingRequest(req CreateBookingRequest) error {
	var missing []string
	if strings.TrimSpace(req.PatientID) == "" {
		missing = append(missing, "patientId")
	}
	if strings.TrimSpace(req.PatientEmail) == "" {
		missing = append(missing, "patientEmail")
	}
	if strings.TrimSpace(req.ChiefComplaint) == "" {
		missing = append(missing, "chiefComplaint")
	}
	if strings.TrimSpace(req.Date) == "" {
		missing = append(missing, "date")
	}
	if strings.TrimSpace(req.Time) == "" {
		missing = append(missing, "time")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// storageErr passes domain errors through and classifies everything else as an
// infrastructure failure.
func (s *Service) storageErr(op string, err error) error {
	for _, domain := range []error{
		ErrInvalidRequest, ErrInvalidSlot, ErrSlotUnavailable, ErrInvalidTransition,
		ErrAppointmentInPast, ErrNotOwner, ErrAppointmentNotFound,
	} {
		if errors.Is(err, domain) {
			return err
		}
	}
	s.log.Error().Err(err).Str("op", op).Msg("storage failure")
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrInvalidTransition):
		return "conflict"
	case errors.Is(err, ErrAppointmentNotFound):
		return "not_found"
	case errors.Is(err, ErrAppointmentInPast), errors.Is(err, ErrNotOwner), errors.Is(err, ErrInvalidRequest):
		return "rejected"
	default:
		return "error"
	}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func availabilityKey(date, gen string) string {
	return "availability:" + date + ":" + gen
}

func generationKey(date string) string {
	return "availability-gen:" + date
}

// generation returns the token the date's snapshot is filed under. The second
// result is false when the cache is off or unreadable.
func (s *Service) generation(ctx context.Context, date string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	data, ok, err := s.cache.Get(ctx, generationKey(date))
	if err != nil {
		s.metrics.CacheLookup("error")
		s.log.Warn().Err(err).Str("date", date).Msg("availability generation read failed")
		return "", false
	}
	if !ok {
		return "0", true
	}
	return string(data), true
}

func (s *Service) cachedAvailability(ctx context.Context, key string) ([]SlotAvailability, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.metrics.CacheLookup("error")
		s.log.Warn().Err(err).Str("key", key).Msg("availability cache read failed")
		return nil, false
	}
	if !ok {
		s.metrics.CacheLookup("miss")
		return nil, false
	}

	var out []SlotAvailability
	if err := json.Unmarshal(data, &out); err != nil {
		s.metrics.CacheLookup("error")
		return nil, false
	}
	s.metrics.CacheLookup("hit")
	return out, true
}

func (s *Service) storeAvailability(ctx context.Context, key string, v []SlotAvailability) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("availability cache write failed")
	}
}

func (s *Service) invalidate(ctx context.Context, dates ...string) {
	if s.cache == nil || len(dates) == 0 {
		return
	}
	// A fresh generation orphans any snapshot still being computed from counts
	// taken before this write. The current snapshot is dropped as well.
	var stale []string
	for _, d := range dates {
		if gen, ok := s.generation(ctx, d); ok {
			stale = append(stale, availabilityKey(d, gen))
		}
		if err := s.cache.Set(ctx, generationKey(d), []byte(uuid.NewString())); err != nil {
			s.log.Warn().Err(err).Str("date", d).Msg("availability generation bump failed")
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := s.cache.Delete(ctx, stale...); err != nil {
		s.log.Warn().Err(err).Strs("keys", stale).Msg("availability cache invalidation failed")
	}
}

func (s *Service) logEvent(ctx context.Context, bookingID string, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		BookingID: bookingID,
		Payload:   data,
		CreatedAt: s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Str("booking_id", bookingID).Msg("failed to insert event log")
	}
}
