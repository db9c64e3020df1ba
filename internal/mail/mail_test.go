package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	netmail "net/mail"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"
)

func TestNormalizeRecipients(t *testing.T) {
	got, err := NormalizeRecipients([]string{" a@example.com ", "b@example.org"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.org"}, got)

	_, err = NormalizeRecipients(nil)
	require.ErrorIs(t, err, ErrNoRecipients)

	_, err = NormalizeRecipients([]string{"ok@example.com", "not-an-address", "also bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-an-address")
	assert.Contains(t, err.Error(), "also bad")
}

// smtpServer is a minimal SMTP peer that accepts every command and keeps
// the envelope and DATA of each delivery.
type smtpServer struct {
	ln net.Listener

	mu    sync.Mutex
	from  string
	rcpts []string
	data  []string
}

func newSMTPServer(t *testing.T) *smtpServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &smtpServer{ln: ln}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go srv.serve(conn)
		}
	}()

	return srv
}

func (s *smtpServer) port(t *testing.T) int {
	t.Helper()

	_, p, err := net.SplitHostPort(s.ln.Addr().String())
	require.NoError(t, err)

	port, err := strconv.Atoi(p)
	require.NoError(t, err)

	return port
}

func (s *smtpServer) serve(conn net.Conn) {
	defer conn.Close()

	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 localhost ESMTP")

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}

		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])

		switch verb {
		case "EHLO", "HELO":
			_ = tp.PrintfLine("250 localhost")
		case "MAIL":
			s.mu.Lock()
			s.from = line
			s.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case "RCPT":
			s.mu.Lock()
			s.rcpts = append(s.rcpts, line)
			s.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case "DATA":
			_ = tp.PrintfLine("354 go ahead")

			body, err := tp.ReadDotBytes()
			if err != nil {
				return
			}

			s.mu.Lock()
			s.data = append(s.data, string(body))
			s.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("250 OK")
		}
	}
}

func (s *smtpServer) delivered() (string, []string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.from, append([]string(nil), s.rcpts...), append([]string(nil), s.data...)
}

func TestSMTPSink_Send(t *testing.T) {
	srv := newSMTPServer(t)

	sink := NewSMTPSink(SMTPConfig{
		Host: "127.0.0.1", Port: srv.port(t), From: "noreply@example.com",
		TLS: TLSNone, Timeout: 5 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sink.now = func() time.Time { return time.Date(2025, 10, 14, 10, 0, 0, 0, time.UTC) }

	csv := bytes.Repeat([]byte("Title,Start\n"), 20)

	require.NoError(t, sink.Send(context.Background(), Message{
		To:      []string{" u@example.com "},
		Subject: "Upcoming calendar events",
		Body:    "Attached.",
		Attachments: []Attachment{
			{Filename: "upcoming_events.csv", ContentType: "text/csv", Data: csv},
		},
	}))

	from, rcpts, data := srv.delivered()
	assert.Contains(t, from, "<noreply@example.com>")
	require.Len(t, rcpts, 1)
	assert.Contains(t, rcpts[0], "u@example.com")
	require.Len(t, data, 1)

	msg, err := netmail.ReadMessage(strings.NewReader(data[0]))
	require.NoError(t, err)
	assert.Contains(t, msg.Header.Get("To"), "u@example.com")
	assert.Equal(t, "Upcoming calendar events", decodeHeader(t, msg.Header.Get("Subject")))

	mt, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mt)

	mr := multipart.NewReader(msg.Body, params["boundary"])

	body, err := mr.NextPart()
	require.NoError(t, err)
	text, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "Attached.", strings.TrimSpace(string(text)))

	att, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "upcoming_events.csv", att.FileName())
	assert.Contains(t, att.Header.Get("Content-Type"), "text/csv")

	encoded, err := io.ReadAll(att)
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(string(encoded)), ""))
	require.NoError(t, err)
	assert.Equal(t, csv, decoded)
}

func decodeHeader(t *testing.T, v string) string {
	t.Helper()

	out, err := new(mime.WordDecoder).DecodeHeader(v)
	require.NoError(t, err)

	return out
}

func TestSMTPSink_SilentServerTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)

	t.Cleanup(func() {
		ln.Close()

		mu.Lock()
		defer mu.Unlock()

		for _, c := range conns {
			c.Close()
		}
	})

	// Accept connections and never send a greeting.
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}

			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()

	_, p, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)

	sink := NewSMTPSink(SMTPConfig{
		Host: "127.0.0.1", Port: port, From: "noreply@example.com",
		TLS: TLSNone, Timeout: 200 * time.Millisecond,
	}, nil)

	errc := make(chan error, 1)
	go func() {
		errc <- sink.Send(context.Background(), Message{To: []string{"u@example.com"}})
	}()

	select {
	case err := <-errc:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mail: sending via")
	case <-time.After(5 * time.Second):
		t.Fatal("Send did not return against a silent server")
	}
}

func TestSMTPSink_ContextDeadlineBoundsDelivery(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		// Hold the connection open without speaking.
		_, _ = io.Copy(io.Discard, c)
	}()

	_, p, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)

	sink := NewSMTPSink(SMTPConfig{
		Host: "127.0.0.1", Port: port, From: "noreply@example.com",
		TLS: TLSNone, Timeout: time.Minute,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.Error(t, sink.Send(ctx, Message{To: []string{"u@example.com"}}))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestSMTPSink_Errors(t *testing.T) {
	// Nothing listens on a closed listener's port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	sink := NewSMTPSink(SMTPConfig{
		Host: "127.0.0.1", Port: addr.Port, From: "a@example.com",
		TLS: TLSNone, Timeout: time.Second,
	}, nil)

	err = sink.Send(context.Background(), Message{To: []string{"u@example.com"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail: sending via")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sink.Send(ctx, Message{To: []string{"u@example.com"}}), context.Canceled)

	require.ErrorIs(t, sink.Send(context.Background(), Message{}), ErrNoRecipients)

	bad := NewSMTPSink(SMTPConfig{Host: "127.0.0.1", Port: addr.Port, From: "not an address"}, nil)
	err = bad.Send(context.Background(), Message{To: []string{"u@example.com"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail: sender")
}

func TestSMTPSink_MandatoryTLSRefusesPlainServer(t *testing.T) {
	srv := newSMTPServer(t)

	sink := NewSMTPSink(SMTPConfig{
		Host: "127.0.0.1", Port: srv.port(t), From: "noreply@example.com",
		Timeout: 5 * time.Second,
	}, nil)

	require.Error(t, sink.Send(context.Background(), Message{To: []string{"u@example.com"}}))

	_, _, data := srv.delivered()
	assert.Empty(t, data)
}

func TestTLSPolicy(t *testing.T) {
	assert.Equal(t, gomail.TLSMandatory, tlsPolicy(""))
	assert.Equal(t, gomail.TLSMandatory, tlsPolicy(TLSMandatory))
	assert.Equal(t, gomail.TLSOpportunistic, tlsPolicy(TLSOpportunistic))
	assert.Equal(t, gomail.NoTLS, tlsPolicy(TLSNone))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer

	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, sink.Send(context.Background(), Message{
		To:          []string{"u@example.com"},
		Subject:     "export",
		Body:        "secret body",
		Attachments: []Attachment{{Filename: "a.csv", Data: []byte("xyz")}},
	}))

	assert.Contains(t, buf.String(), "u@example.com")
	assert.Contains(t, buf.String(), "a.csv=3")
	assert.NotContains(t, buf.String(), "secret body")
}
