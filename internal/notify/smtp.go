package notify

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
)

const defaultSMTPTimeout = 15 * time.Second

// SMTPSender relays patient mail through the clinic's SMTP server. Each Send
// opens its own connection.
type SMTPSender struct {
	relay   config.SMTPConfig
	timeout time.Duration
	dial    func(m ...*gomail.Message) error
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	s := &SMTPSender{relay: cfg, timeout: defaultSMTPTimeout}
	s.dial = func(m ...*gomail.Message) error {
		return s.dialer().DialAndSend(m...)
	}
	return s
}

// Send renders m as MIME and hands it to the relay. Relay failures and timeouts
// come back as *DeliveryError carrying the notification kind and booking id.
func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	if !s.relay.Enabled() {
		return ErrRelayDisabled
	}

	mail, to, err := s.compose(m)
	if err != nil {
		return err
	}

	if err := s.relayWithin(ctx, mail); err != nil {
		return &DeliveryError{Kind: m.Kind, BookingID: m.BookingID, Recipients: to, Err: err}
	}
	return nil
}

// relayWithin waits for the relay at most s.timeout, or less if ctx ends first.
// The dial goroutine is left to finish on its own after a timeout.
func (s *SMTPSender) relayWithin(ctx context.Context, mail *gomail.Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.dial(mail) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SMTPSender) compose(m Message) (*gomail.Message, []string, error) {
	reject := func(reason string) (*gomail.Message, []string, error) {
		return nil, nil, &RenderError{Kind: m.Kind, BookingID: m.BookingID, Reason: reason}
	}

	from := strings.TrimSpace(s.relay.From)
	if from == "" {
		return reject("no sender address configured")
	}
	to := recipients(m.To)
	if len(to) == 0 {
		return reject("no recipient")
	}
	subject := strings.TrimSpace(m.Subject)
	if subject == "" {
		return reject("empty subject")
	}

	mail := gomail.NewMessage()
	mail.SetHeader("From", from)
	mail.SetHeader("To", to...)
	mail.SetHeader("Subject", subject)
	if m.BookingID != "" {
		mail.SetHeader("X-Booking-ID", m.BookingID)
	}

	// The plain part goes first so text-only clients show it.
	text, rich := strings.TrimSpace(m.TextBody) != "", strings.TrimSpace(m.HTMLBody) != ""
	switch {
	case text:
		mail.SetBody("text/plain", m.TextBody)
		if rich {
			mail.AddAlternative("text/html", m.HTMLBody)
		}
	case rich:
		mail.SetBody("text/html", m.HTMLBody)
	default:
		return reject("empty body")
	}

	return mail, to, nil
}

func (s *SMTPSender) dialer() *gomail.Dialer {
	d := gomail.NewDialer(s.relay.Host, s.relay.Port, s.relay.Username, s.relay.Password)

	// 465 speaks TLS from the first byte, other ports upgrade with STARTTLS.
	d.SSL = s.relay.UseTLS && s.relay.Port == 465
	if s.relay.UseTLS {
		d.TLSConfig = &tls.Config{ServerName: s.relay.Host, MinVersion: tls.VersionTLS12}
	}
	return d
}

// recipients trims addresses and drops blanks and case-insensitive repeats.
func recipients(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, addr := range in {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	return out
}
