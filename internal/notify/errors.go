package notify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

// ErrRelayDisabled is returned by SMTPSender when no relay host is configured.
var ErrRelayDisabled = errors.New("notify: smtp relay not configured")

// RenderError means a notification could not be turned into a deliverable email.
type RenderError struct {
	Kind      appointment.NotificationKind
	BookingID string
	Reason    string
}

func (e *RenderError) Error() string {
	if e.Kind == "" {
		return "notify: cannot render email: " + e.Reason
	}
	return fmt.Sprintf("notify: cannot render %s email for %s: %s", e.Kind, e.BookingID, e.Reason)
}

// DeliveryError means the relay did not accept a rendered notification.
type DeliveryError struct {
	Kind       appointment.NotificationKind
	BookingID  string
	Recipients []string
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notify: %s email for %s to %s: %v",
		e.Kind, e.BookingID, strings.Join(e.Recipients, ","), e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
