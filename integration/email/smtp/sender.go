package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/relay/core/email"
	"github.com/dmitrymomot/relay/core/notification"
)

const (
	TLSModeStartTLS = "starttls"
	TLSModeTLS      = "tls"
	TLSModePlain    = "plain"
)

const defaultTimeout = 30 * time.Second

// Sender delivers email notifications over SMTP. It is safe for concurrent
// use; every Send opens its own connection.
type Sender struct {
	config    Config
	auth      smtp.Auth
	templates email.Templates
	now       func() time.Time
}

var _ notification.Sender = (*Sender)(nil)

// Option configures a Sender.
type Option func(*Sender)

// WithClock overrides the Date header source.
func WithClock(now func() time.Time) Option {
	return func(s *Sender) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an SMTP-backed sender rendering with templates.
func New(cfg Config, templates email.Templates, opts ...Option) (*Sender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: Host is required", email.ErrInvalidConfig)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: Port must be between 1 and 65535", email.ErrInvalidConfig)
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("%w: Username is required", email.ErrInvalidConfig)
	}
	if cfg.Password == "" {
		return nil, fmt.Errorf("%w: Password is required", email.ErrInvalidConfig)
	}
	switch cfg.TLSMode {
	case TLSModeStartTLS, TLSModeTLS, TLSModePlain:
	default:
		return nil, fmt.Errorf("%w: TLSMode must be starttls, tls, or plain", email.ErrInvalidConfig)
	}
	if !email.IsValidAddress(cfg.SenderEmail) {
		return nil, fmt.Errorf("%w: SenderEmail must be a valid email address", email.ErrInvalidConfig)
	}
	if !email.IsValidAddress(cfg.SupportEmail) {
		return nil, fmt.Errorf("%w: SupportEmail must be a valid email address", email.ErrInvalidConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	s := &Sender{
		config:    cfg,
		auth:      smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host),
		templates: templates,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MustNew is New that panics on invalid configuration.
func MustNew(cfg Config, templates email.Templates, opts ...Option) *Sender {
	s, err := New(cfg, templates, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Send renders msg and hands it to the SMTP server. Any transport or server
// rejection is reported as not delivered, so the deliverer retries.
func (s *Sender) Send(ctx context.Context, msg *notification.Message) (bool, error) {
	content, err := s.templates.Render(msg)
	if err != nil {
		return false, err
	}
	if !email.IsValidAddress(msg.Recipient) {
		return false, fmt.Errorf("%w: invalid recipient %q", email.ErrFailedToSendEmail, msg.Recipient)
	}
	if err := ctx.Err(); err != nil {
		return false, errors.Join(email.ErrFailedToSendEmail, err)
	}

	body, err := s.buildMessage(msg, content)
	if err != nil {
		return false, err
	}
	if err := s.deliver(ctx, msg.Recipient, body); err != nil {
		return false, errors.Join(email.ErrFailedToSendEmail, err)
	}
	return true, nil
}

func (s *Sender) deliver(ctx context.Context, to string, body []byte) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.config.Timeout)
	}

	var (
		conn net.Conn
		err  error
	)
	dialer := &net.Dialer{Deadline: deadline}
	if s.config.TLSMode == TLSModeTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: s.config.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if s.config.TLSMode == TLSModeStartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
			return fmt.Errorf("start TLS: %w", err)
		}
	}
	if err := client.Auth(s.auth); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if err := client.Mail(s.config.SenderEmail); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("open data writer: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data writer: %w", err)
	}

	// The message is accepted once DATA closes; some servers drop the
	// connection instead of answering QUIT.
	_ = client.Quit()
	return nil
}

// buildMessage renders the MIME message. With both bodies present it is
// multipart/alternative, plain text first.
func (s *Sender) buildMessage(msg *notification.Message, content email.Content) ([]byte, error) {
	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }

	header("From", s.config.SenderEmail)
	header("To", msg.Recipient)
	header("Reply-To", s.config.SupportEmail)
	header("Subject", mime.QEncoding.Encode("utf-8", content.Subject))
	header("Date", s.now().Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", messageID(msg), s.config.Host))
	header("X-Tag", strings.ReplaceAll(content.Tag, " ", "_"))
	header("MIME-Version", "1.0")

	switch {
	case content.HTMLBody != "" && content.TextBody != "":
		mw := multipart.NewWriter(&buf)
		header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
		buf.WriteString("\r\n")
		for _, part := range []struct{ kind, body string }{
			{"text/plain", content.TextBody},
			{"text/html", content.HTMLBody},
		} {
			pw, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type": {part.kind + `; charset="UTF-8"`},
			})
			if err != nil {
				return nil, err
			}
			if _, err := pw.Write([]byte(part.body)); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
	case content.HTMLBody != "":
		header("Content-Type", `text/html; charset="UTF-8"`)
		buf.WriteString("\r\n")
		buf.WriteString(content.HTMLBody)
	default:
		header("Content-Type", `text/plain; charset="UTF-8"`)
		buf.WriteString("\r\n")
		buf.WriteString(content.TextBody)
	}
	return buf.Bytes(), nil
}

// messageID is stable per notification, so a resend after a lost reply
// carries the same Message-ID.
func messageID(msg *notification.Message) string {
	if msg.ID != uuid.Nil {
		return msg.ID.String()
	}
	return uuid.NewString()
}
