package appointment

import (
	"context"
	"time"
)

type NotificationKind string

const (
	NotifyBooked      NotificationKind = "booked"
	NotifyConfirmed   NotificationKind = "confirmed"
	NotifyRescheduled NotificationKind = "rescheduled"
	NotifyCancelled   NotificationKind = "cancelled"
)

// Notification describes a lifecycle change the patient should hear about.
// Previous is only set for reschedules.
type Notification struct {
	Kind        NotificationKind
	Appointment Appointment
	Previous    *Appointment
}

// Notifier delivers notifications. Delivery never affects the booking outcome.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// notify hands n to the notifier in the background and only logs failures.
func (s *Service) notify(n Notification) {
	if s.notifier == nil {
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		start := time.Now()
		err := s.notifier.Notify(ctx, n)
		if err != nil {
			s.metrics.Notification(string(n.Kind), "error")
			s.log.Warn().
				Err(err).
				Str("kind", string(n.Kind)).
				Str("booking_id", n.Appointment.BookingID).
				Dur("elapsed", time.Since(start)).
				Msg("notification failed")
			return
		}
		s.metrics.Notification(string(n.Kind), "sent")
	}()
}
