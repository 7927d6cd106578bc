// Package email sends verification emails over SMTP.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/wneessen/go-mail"
)

// DefaultSMTPPort is used when SMTP_PORT is unset.
const DefaultSMTPPort = 587

// Sender delivers a plain-text email. Implemented by SMTPSender, LogSender and MockSender.
type Sender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Opts holds configuration options for the SMTP sender.
type Opts struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Option defines a configuration option for the SMTP sender.
type Option func(*Opts)

// WithHost sets the SMTP server host.
func WithHost(host string) Option {
	return func(o *Opts) { o.Host = host }
}

// WithPort sets the SMTP server port.
func WithPort(port int) Option {
	return func(o *Opts) { o.Port = port }
}

// WithCredentials sets SMTP AUTH credentials.
func WithCredentials(username, password string) Option {
	return func(o *Opts) {
		o.Username = username
		o.Password = password
	}
}

// WithFrom sets the envelope sender address.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// SMTPSender sends mail through an SMTP relay. A new connection is dialed per message.
type SMTPSender struct {
	client *mail.Client
	from   string
}

// NewSMTPSender builds a sender from options, falling back to SMTP_HOST, SMTP_PORT,
// SMTP_USER, SMTP_PASS and EMAIL_FROM.
func NewSMTPSender(opts ...Option) (*SMTPSender, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Host == "" {
		cfg.Host = os.Getenv("SMTP_HOST")
	}
	if cfg.Port == 0 {
		if v := os.Getenv("SMTP_PORT"); v != "" {
			port, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid SMTP_PORT %q: %w", v, err)
			}
			cfg.Port = port
		} else {
			cfg.Port = DefaultSMTPPort
		}
	}
	if cfg.Username == "" {
		cfg.Username = os.Getenv("SMTP_USER")
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("SMTP_PASS")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("EMAIL_FROM")
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	slog.Debug("SMTP sender config loaded", "host", cfg.Host, "port", cfg.Port, "auth", cfg.Username != "")

	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("sender address must be provided")
	}

	clientOpts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return &SMTPSender{client: client, from: cfg.From}, nil
}

// buildMessage assembles a plain-text message.
func buildMessage(from, to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

// SendEmail sends one plain-text message.
func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) error {
	msg, err := buildMessage(s.from, to, subject, body)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		slog.Error("SMTPSender.SendEmail: delivery failed", "to", to, "error", err)
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	slog.Debug("SMTPSender.SendEmail: sent", "to", to)
	return nil
}

// LogSender logs emails instead of sending them. The body is not logged since it
// carries the verification code.
type LogSender struct{}

func (LogSender) SendEmail(ctx context.Context, to, subject, body string) error {
	slog.Info("LogSender.SendEmail", "to", to, "subject", subject, "body_length", len(body))
	return nil
}

// MockSender records emails for tests.
type MockSender struct {
	mu   sync.Mutex
	Sent []Message
	// Err, when set, is returned from every SendEmail call.
	Err error
}

// Message is one email recorded by MockSender.
type Message struct {
	To      string
	Subject string
	Body    string
}

func NewMockSender() *MockSender {
	return &MockSender{}
}

func (m *MockSender) SendEmail(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, Message{To: to, Subject: subject, Body: body})
	return nil
}

// Messages returns a copy of the recorded emails.
func (m *MockSender) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.Sent...)
}
