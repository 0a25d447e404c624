package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

const (
	defaultUpcomingDays = 7
	maxUpcomingDays     = 60
)

type Handler struct {
	svc *appointment.Service
}

func NewHandler(svc *appointment.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) slots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SlotsResponse{
		Policy: h.svc.Policy(),
		Slots:  h.svc.Slots(),
	})
}

func (h *Handler) dates(w http.ResponseWriter, r *http.Request) {
	days := defaultUpcomingDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxUpcomingDays {
			writeError(w, http.StatusBadRequest, "invalid_days", "days must be between 1 and 60")
			return
		}
		days = n
	}
	writeJSON(w, http.StatusOK, DatesResponse{Dates: h.svc.UpcomingDates(days)})
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "missing_date", "date query parameter is required (YYYY-MM-DD)")
		return
	}

	slots, err := h.svc.GetAvailability(r.Context(), date)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityResponse{
		Date:     date,
		Capacity: h.svc.Capacity(),
		Slots:    slots,
	})
}

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	appt, err := h.svc.CreateBooking(r.Context(), appointment.CreateBookingRequest{
		PatientID:      req.PatientID,
		PatientEmail:   req.PatientEmail,
		ChiefComplaint: req.ChiefComplaint,
		Date:           req.Date,
		Time:           req.Time,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateAppointmentResponse{
		BookingID:   appt.BookingID,
		Appointment: toAppointmentResponse(appt),
	})
}

func (h *Handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.GetAppointment(r.Context(), chi.URLParam(r, "bookingId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) listByPatient(w http.ResponseWriter, r *http.Request) {
	patientID := strings.TrimSpace(r.URL.Query().Get("patientId"))
	if patientID == "" {
		writeError(w, http.StatusBadRequest, "missing_patient_id", "patientId query parameter is required")
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	appts, err := h.svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AppointmentListResponse{Appointments: toAppointmentList(appts), Limit: limit, Offset: offset})
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	appts, err := h.svc.ListPendingAppointments(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AppointmentListResponse{Appointments: toAppointmentList(appts), Limit: limit, Offset: offset})
}

// listAll is the doctors' overview; with doctorId set each record says whether
// that doctor confirmed it.
func (h *Handler) listAll(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctorId"))

	appts, err := h.svc.ListAllAppointments(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := toAppointmentList(appts)
	if doctorID != "" {
		for i := range appts {
			mine := appts[i].ApprovedDoctorID != nil && *appts[i].ApprovedDoctorID == doctorID
			out[i].ConfirmedByMe = &mine
		}
	}
	writeJSON(w, http.StatusOK, AppointmentListResponse{Appointments: out, Limit: limit, Offset: offset})
}

func (h *Handler) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	var req ConfirmAppointmentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	appt, err := h.svc.ConfirmAppointment(r.Context(), chi.URLParam(r, "bookingId"), req.DoctorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req RescheduleAppointmentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.svc.RescheduleAppointment(r.Context(), chi.URLParam(r, "bookingId"), appointment.RescheduleRequest{
		NewDate:  req.NewDate,
		NewTime:  req.NewTime,
		DoctorID: req.DoctorID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RescheduleResponse{
		BookingID:           res.Replacement.BookingID,
		NewAppointment:      toAppointmentResponse(res.Replacement),
		OriginalAppointment: toAppointmentResponse(res.Original),
	})
}

func (h *Handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req CancelAppointmentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.svc.CancelAppointment(r.Context(), chi.URLParam(r, "bookingId"), appointment.CancelRequest{
		RequesterID: req.RequesterID,
		Role:        appointment.RequesterRole(req.Role),
	})
	if err != nil {
		// Cancelling a rescheduled or expired record is a bad request, not a race.
		if errors.Is(err, appointment.ErrInvalidTransition) {
			writeError(w, http.StatusBadRequest, "appointment_not_cancellable", err.Error())
			return
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CancelResponse{
		Changed:     res.Changed,
		Appointment: toAppointmentResponse(res.Appointment),
	})
}

func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	limit, offset = 20, 0

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 100")
			return 0, 0, false
		}
		limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
