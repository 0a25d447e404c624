package notify

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// LogSender writes messages to the log instead of sending them. It is used when
// no SMTP relay is configured.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log.With().Str("component", "notify").Logger()}
}

func (s *LogSender) Send(_ context.Context, m Message) error {
	s.log.Info().
		Str("to", strings.Join(m.To, ",")).
		Str("subject", m.Subject).
		Msg("email (not sent, smtp disabled)")
	return nil
}
