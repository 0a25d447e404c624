package api

import (
	"time"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/slotgrid"
)

type CreateAppointmentRequest struct {
	PatientID      string `json:"patientId" validate:"required,max=64"`
	PatientEmail   string `json:"patientEmail" validate:"required,email,max=254"`
	ChiefComplaint string `json:"chiefComplaint" validate:"required,max=1000"`
	Date           string `json:"date" validate:"required,datetime=2006-01-02"`
	Time           string `json:"time" validate:"required,max=16"`
}

type ConfirmAppointmentRequest struct {
	DoctorID string `json:"doctorId" validate:"required,max=64"`
}

type RescheduleAppointmentRequest struct {
	NewDate  string `json:"newDate" validate:"required,datetime=2006-01-02"`
	NewTime  string `json:"newTime" validate:"required,max=16"`
	DoctorID string `json:"doctorId" validate:"omitempty,max=64"`
}

type CancelAppointmentRequest struct {
	RequesterID string `json:"requesterId" validate:"required,max=64"`
	Role        string `json:"role" validate:"omitempty,oneof=patient doctor"`
}

type AppointmentResponse struct {
	BookingID         string    `json:"bookingId"`
	PatientID         string    `json:"patientId"`
	PatientEmail      string    `json:"patientEmail"`
	DoctorID          *string   `json:"doctorId,omitempty"`
	ApprovedDoctorID  *string   `json:"approvedDoctorId,omitempty"`
	ChiefComplaint    string    `json:"chiefComplaint"`
	AppointmentDate   string    `json:"appointmentDate"`
	AppointmentTime   string    `json:"appointmentTime"`
	StartsAt          time.Time `json:"startsAt"`
	Status            string    `json:"status"`
	OriginalBookingID *string   `json:"originalBookingId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	ConfirmedByMe     *bool     `json:"confirmedByMe,omitempty"`
}

type CreateAppointmentResponse struct {
	BookingID   string              `json:"bookingId"`
	Appointment AppointmentResponse `json:"appointment"`
}

type RescheduleResponse struct {
	BookingID           string              `json:"bookingId"`
	NewAppointment      AppointmentResponse `json:"newAppointment"`
	OriginalAppointment AppointmentResponse `json:"originalAppointment"`
}

type CancelResponse struct {
	Changed     bool                `json:"changed"`
	Appointment AppointmentResponse `json:"appointment"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type AvailabilityResponse struct {
	Date     string                         `json:"date"`
	Capacity int                            `json:"capacity"`
	Slots    []appointment.SlotAvailability `json:"slots"`
}

type SlotsResponse struct {
	Policy slotgrid.Policy     `json:"policy"`
	Slots  []slotgrid.TimeSlot `json:"slots"`
}

type DatesResponse struct {
	Dates []slotgrid.UpcomingDate `json:"dates"`
}

type ErrorResponse struct {
	Error   string       `json:"error"`
	Details string       `json:"details,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		BookingID:         a.BookingID,
		PatientID:         a.PatientID,
		PatientEmail:      a.PatientEmail,
		DoctorID:          a.DoctorID,
		ApprovedDoctorID:  a.ApprovedDoctorID,
		ChiefComplaint:    a.ChiefComplaint,
		AppointmentDate:   a.AppointmentDate,
		AppointmentTime:   a.AppointmentTime,
		StartsAt:          a.StartsAt,
		Status:            string(a.Status),
		OriginalBookingID: a.OriginalBookingID,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func toAppointmentList(appts []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, len(appts))
	for i := range appts {
		out[i] = toAppointmentResponse(&appts[i])
	}
	return out
}
