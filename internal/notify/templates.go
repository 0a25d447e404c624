package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

type detail struct {
	label string
	value string
}

// BuildMessage renders the patient email for a lifecycle notification.
func BuildMessage(clinic string, n appointment.Notification) (Message, error) {
	if clinic == "" {
		clinic = "Clinic"
	}
	a := n.Appointment

	var (
		subject string
		heading string
		intro   string
		outro   string
		rows    []detail
	)

	switch n.Kind {
	case appointment.NotifyBooked:
		subject = "Appointment Booked Successfully"
		heading = "Your Appointment has been Booked"
		intro = "Your appointment has been successfully booked with the following details:"
		outro = "Your appointment will be confirmed once a doctor approves it. You will receive another email with the confirmed details."
		rows = []detail{
			{"Booking ID", a.BookingID},
			{"Date", a.AppointmentDate},
			{"Time", a.AppointmentTime},
			{"Chief Complaint", a.ChiefComplaint},
		}

	case appointment.NotifyConfirmed:
		subject = fmt.Sprintf("Appointment Confirmed - %s", clinic)
		heading = "Your Appointment Has Been Confirmed"
		intro = "Your appointment has been confirmed with the following details:"
		outro = "Please arrive 15 minutes before your scheduled time."
		rows = []detail{
			{"Booking ID", a.BookingID},
			{"Date", a.AppointmentDate},
			{"Time", a.AppointmentTime},
			{"Chief Complaint", a.ChiefComplaint},
			{"Doctor ID", deref(a.ApprovedDoctorID)},
		}

	case appointment.NotifyRescheduled:
		if n.Previous == nil {
			return Message{}, &RenderError{Kind: n.Kind, BookingID: a.BookingID, Reason: "no previous appointment"}
		}
		subject = fmt.Sprintf("Appointment Rescheduled - %s", clinic)
		heading = "Your Appointment Has Been Rescheduled"
		intro = "Your appointment has been rescheduled with the following new details:"
		outro = "Please make note of the new appointment time and booking ID."
		rows = []detail{
			{"New Booking ID", a.BookingID},
			{"New Date", a.AppointmentDate},
			{"New Time", a.AppointmentTime},
			{"Previous Date", n.Previous.AppointmentDate},
			{"Previous Time", n.Previous.AppointmentTime},
			{"Chief Complaint", a.ChiefComplaint},
			{"Status", string(a.Status)},
		}
		if a.ApprovedDoctorID != nil {
			rows = append(rows, detail{"Doctor ID", *a.ApprovedDoctorID})
		}

	case appointment.NotifyCancelled:
		subject = fmt.Sprintf("Appointment Cancelled - %s", clinic)
		heading = "Your Appointment Has Been Cancelled"
		intro = "The following appointment has been cancelled:"
		outro = "You can book a new appointment at any time."
		rows = []detail{
			{"Booking ID", a.BookingID},
			{"Date", a.AppointmentDate},
			{"Time", a.AppointmentTime},
		}

	default:
		return Message{}, &RenderError{Kind: n.Kind, BookingID: a.BookingID, Reason: "unknown notification kind"}
	}

	return Message{
		Kind:      n.Kind,
		BookingID: a.BookingID,
		To:        []string{a.PatientEmail},
		Subject:   subject,
		TextBody:  renderText(clinic, intro, outro, rows),
		HTMLBody:  renderHTML(clinic, heading, intro, outro, rows),
	}, nil
}

func renderText(clinic, intro, outro string, rows []detail) string {
	var b strings.Builder
	b.WriteString("Dear Patient,\n\n")
	b.WriteString(intro)
	b.WriteString("\n\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "  %s: %s\n", r.label, r.value)
	}
	b.WriteString("\n")
	b.WriteString(outro)
	fmt.Fprintf(&b, "\n\nThank you for choosing %s.\n", clinic)
	return b.String()
}

func renderHTML(clinic, heading, intro, outro string, rows []detail) string {
	var items strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&items, "\n        <li><strong>%s:</strong> %s</li>", html.EscapeString(r.label), html.EscapeString(r.value))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2 style="color: #2563eb;">%s</h2>
    <p>Dear Patient,</p>
    <p>%s</p>
    <ul>%s
    </ul>
    <p>%s</p>
    <p style="color: #6b7280; font-size: 14px; margin-top: 30px;">Thank you for choosing %s.</p>
</body>
</html>`,
		html.EscapeString(heading), html.EscapeString(intro), items.String(),
		html.EscapeString(outro), html.EscapeString(clinic))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
