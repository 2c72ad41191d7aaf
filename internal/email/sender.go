package email

import (
	"context"
	"fmt"

	"github.com/carenest/authcore/internal/config"
	"github.com/carenest/authcore/internal/logger"
)

// Sender delivers a single email message
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message represents an email message to be sent.
type Message struct {
	To       string // recipient email address
	Subject  string // email subject
	HTMLBody string // HTML email body
	TextBody string // plain-text fallback body
}

// LogSender records messages in the log instead of delivering them. It is
// used in development and wherever no provider is configured.
type LogSender struct {
	log *logger.Logger
}

// NewLogSender creates a new LogSender
func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log.WithComponent("email")}
}

// Send logs the message envelope
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("email not delivered (log provider)")
	return nil
}

// NewSender builds the sender selected by cfg.Provider
func NewSender(ctx context.Context, cfg config.EmailConfig, log *logger.Logger) (Sender, error) {
	switch cfg.Provider {
	case "", "log":
		return NewLogSender(log), nil
	case "gmail":
		return NewGmailSender(ctx, cfg.Gmail)
	default:
		return nil, fmt.Errorf("unsupported email provider %q", cfg.Provider)
	}
}
