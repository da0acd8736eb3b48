package notify

import (
	"context"

	"github.com/rs/zerolog"

	"eleve/internal/logging"
)

// LogSender only logs what would have been sent. It is used when no email
// provider is configured. Message bodies carry initial secrets and are never logged.
type LogSender struct {
	log zerolog.Logger
}

// NewLogSender creates a sender that writes to the application log
func NewLogSender() *LogSender {
	return &LogSender{log: logging.Component("email")}
}

// Send logs the message envelope
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.log.Info().
		Str("to", msg.ToEmail).
		Str("subject", msg.Subject).
		Str("request_id", msg.Tags[TagRequestID]).
		Msg("email sending disabled, message not delivered")
	return nil
}
