package notify

import (
	"context"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

// Message is a rendered email. Kind and BookingID identify the lifecycle
// change it reports and travel with any delivery error.
type Message struct {
	Kind      appointment.NotificationKind
	BookingID string
	To        []string
	Subject   string
	TextBody  string
	HTMLBody  string
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}
