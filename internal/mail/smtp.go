package mail

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// DefaultSMTPTimeout bounds a whole delivery when SMTPConfig.Timeout is zero.
const DefaultSMTPTimeout = 30 * time.Second

// SMTP TLS policies accepted by SMTPConfig.TLS.
const (
	TLSMandatory     = "mandatory"
	TLSOpportunistic = "opportunistic"
	TLSNone          = "none"
)

// SMTPConfig addresses the outgoing mail server.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	// TLS is the STARTTLS policy. Empty means mandatory.
	TLS string
	// Timeout bounds every network operation of one delivery.
	Timeout time.Duration
}

// SMTPSink sends multipart messages through an SMTP server.
type SMTPSink struct {
	cfg    SMTPConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewSMTPSink creates a sink for cfg.
func NewSMTPSink(cfg SMTPConfig, logger *slog.Logger) *SMTPSink {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}

	return &SMTPSink{cfg: cfg, logger: logger, now: time.Now}
}

// Send builds msg and delivers it over one connection. The connection
// deadline is the earlier of ctx's deadline and the configured timeout, so
// a server that stops answering fails the send instead of hanging it.
func (s *SMTPSink) Send(ctx context.Context, msg Message) error {
	to, err := NormalizeRecipients(msg.To)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mail: send canceled: %w", err)
	}

	m, err := s.build(to, msg)
	if err != nil {
		return err
	}

	client, err := gomail.NewClient(s.cfg.Host, s.clientOptions(ctx)...)
	if err != nil {
		return fmt.Errorf("mail: configuring client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("mail: sending via %s: %w", client.ServerAddr(), err)
	}

	s.logger.Info("mail sent",
		slog.String("to", strings.Join(to, ", ")),
		slog.String("subject", msg.Subject),
		slog.Int("attachments", len(msg.Attachments)),
	)

	return nil
}

func (s *SMTPSink) build(to []string, msg Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()

	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("mail: sender %q: %w", s.cfg.From, err)
	}

	if err := m.To(to...); err != nil {
		return nil, fmt.Errorf("mail: recipients: %w", err)
	}

	m.Subject(msg.Subject)
	m.SetDateWithValue(s.now())
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)

	for _, a := range msg.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}

		err := m.AttachReader(a.Filename, bytes.NewReader(a.Data),
			gomail.WithFileContentType(gomail.ContentType(ct)))
		if err != nil {
			return nil, fmt.Errorf("mail: attaching %s: %w", a.Filename, err)
		}
	}

	return m, nil
}

func (s *SMTPSink) clientOptions(ctx context.Context) []gomail.Option {
	opts := []gomail.Option{
		gomail.WithTLSPortPolicy(tlsPolicy(s.cfg.TLS)),
		gomail.WithPort(s.cfg.Port),
		gomail.WithTimeout(s.cfg.Timeout),
		gomail.WithDialContextFunc(s.dialer(ctx)),
	}

	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}

	return opts
}

// dialer returns a dial func whose connections carry a deadline. The
// client only bounds the dial itself; the greeting read has no deadline
// of its own.
func (s *SMTPSink) dialer(sendCtx context.Context) gomail.DialContextFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		var d net.Dialer

		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		deadline := time.Now().Add(s.cfg.Timeout)
		if dl, ok := sendCtx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}

		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}

		return conn, nil
	}
}

func tlsPolicy(name string) gomail.TLSPolicy {
	switch name {
	case TLSOpportunistic:
		return gomail.TLSOpportunistic
	case TLSNone:
		return gomail.NoTLS
	default:
		return gomail.TLSMandatory
	}
}
