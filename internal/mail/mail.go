// Package mail delivers generated documents to users.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mcnijman/go-emailaddress"
)

// ErrNoRecipients is returned by Send for a message with no To addresses.
var ErrNoRecipients = errors.New("mail: no recipients")

// Attachment is one file carried by a Message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is one outgoing mail.
type Message struct {
	To          []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Sink delivers messages.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// NormalizeRecipients parses every address in to and returns them in
// canonical form. All invalid addresses are reported together.
func NormalizeRecipients(to []string) ([]string, error) {
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}

	out := make([]string, 0, len(to))

	var errs []error

	for _, raw := range to {
		addr, err := emailaddress.Parse(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, fmt.Errorf("mail: invalid recipient %q: %w", raw, err))
			continue
		}

		out = append(out, addr.String())
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return out, nil
}

// LogSink records delivery metadata instead of sending. Message contents
// are never logged.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogSink{logger: logger}
}

// Send logs the recipients, subject and attachment sizes.
func (s *LogSink) Send(_ context.Context, msg Message) error {
	to, err := NormalizeRecipients(msg.To)
	if err != nil {
		return err
	}

	attrs := []any{
		slog.String("to", strings.Join(to, ", ")),
		slog.String("subject", msg.Subject),
		slog.Int("attachments", len(msg.Attachments)),
	}

	for _, a := range msg.Attachments {
		attrs = append(attrs, slog.Int(a.Filename, len(a.Data)))
	}

	s.logger.Info("mail delivered to log", attrs...)

	return nil
}
