package appointment

import (
	"sort"
	"time"
)

type AppointmentStatus string

const (
	StatusPending     AppointmentStatus = "pending"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusRescheduled AppointmentStatus = "rescheduled"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusExpired     AppointmentStatus = "expired"
)

// transitions is the lifecycle table. Rescheduled, cancelled and expired are terminal.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusRescheduled, StatusCancelled, StatusExpired},
	StatusConfirmed: {StatusRescheduled, StatusCancelled, StatusExpired},
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to AppointmentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Active statuses hold a seat in their slot and count toward capacity.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s AppointmentStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRescheduled, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

type Appointment struct {
	BookingID         string
	PatientID         string
	PatientEmail      string
	DoctorID          *string
	ApprovedDoctorID  *string
	ChiefComplaint    string
	AppointmentDate   string // YYYY-MM-DD
	AppointmentTime   string // slot label, e.g. "10:00 AM"
	StartsAt          time.Time
	Status            AppointmentStatus
	OriginalBookingID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SlotKey identifies the capacity bucket the appointment occupies.
func (a *Appointment) SlotKey() SlotKey {
	return SlotKey{Date: a.AppointmentDate, Time: a.AppointmentTime}
}

type SlotKey struct {
	Date string
	Time string
}

// sortedSlotKeys returns keys deduplicated and ordered by date, then label.
func sortedSlotKeys(keys []SlotKey) []SlotKey {
	out := make([]SlotKey, 0, len(keys))
	seen := make(map[SlotKey]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out
}

// SlotAvailability is one row of the capacity ledger for a date.
type SlotAvailability struct {
	Label       string `json:"label"`
	StartMinute int    `json:"startMinute"`
	EndMinute   int    `json:"endMinute"`
	BookedCount int    `json:"bookedCount"`
	Capacity    int    `json:"capacity"`
	IsAvailable bool   `json:"isAvailable"`
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID string
	Payload   []byte
	CreatedAt time.Time
}

// CreateBookingRequest carries the caller-supplied identity and the requested slot.
type CreateBookingRequest struct {
	PatientID      string
	PatientEmail   string
	ChiefComplaint string
	Date           string
	Time           string
}

// RescheduleRequest moves a booking to a new slot. A non-empty DoctorID marks the
// reschedule as doctor-initiated and the new record is confirmed immediately.
type RescheduleRequest struct {
	NewDate  string
	NewTime  string
	DoctorID string
}

type RequesterRole string

const (
	RolePatient RequesterRole = "patient"
	RoleDoctor  RequesterRole = "doctor"
)

type CancelRequest struct {
	RequesterID string
	Role        RequesterRole
}

// TransitionResult reports the record after a lifecycle action and whether the
// action changed anything. Cancelling an already cancelled booking is a no-op.
type TransitionResult struct {
	Appointment *Appointment
	Changed     bool
}

// RescheduleResult holds both sides of a reschedule.
type RescheduleResult struct {
	Original    *Appointment
	Replacement *Appointment
}
