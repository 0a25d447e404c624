package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

// EmailNotifier renders lifecycle notifications and hands them to a Sender.
type EmailNotifier struct {
	clinic string
	sender Sender
}

func NewEmailNotifier(clinic string, sender Sender) *EmailNotifier {
	return &EmailNotifier{clinic: clinic, sender: sender}
}

// Notify returns nil when the patient has no address on file. Any other
// failure is a *RenderError or a *DeliveryError naming the notification.
func (n *EmailNotifier) Notify(ctx context.Context, note appointment.Notification) error {
	if strings.TrimSpace(note.Appointment.PatientEmail) == "" {
		return nil
	}

	msg, err := BuildMessage(n.clinic, note)
	if err != nil {
		return err
	}

	err = n.sender.Send(ctx, msg)
	if err == nil {
		return nil
	}

	var (
		rendErr  *RenderError
		delivErr *DeliveryError
	)
	if errors.As(err, &rendErr) || errors.As(err, &delivErr) {
		return err
	}
	return &DeliveryError{Kind: note.Kind, BookingID: note.Appointment.BookingID, Recipients: msg.To, Err: err}
}
