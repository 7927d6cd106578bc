// Package dispatch executes the side effects computed by the conversation engine.
//
// Notification effects run in the order they were emitted. Persistence always runs
// last and is the point at which a turn becomes durable. A failed notification never
// prevents persistence; a failed persistence fails the turn.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/flow"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/metrics"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
)

// ChatSender delivers a chat message to a transport address.
type ChatSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// EmailSender delivers an email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// RecordWriter is the write side of the identity record store.
type RecordWriter interface {
	CreateIdentityRecord(ctx context.Context, record *models.IdentityRecord) error
	SaveIdentityRecord(ctx context.Context, record *models.IdentityRecord) error
	DeleteIdentityRecord(ctx context.Context, identity string) error
}

// Result reports the outcome of dispatching one turn's effects.
type Result struct {
	// NotificationErr joins every failed chat or email send. Reported, never fatal.
	NotificationErr error
	// PersistErr is set when the record could not be written.
	PersistErr error
	// Persisted is true when a persistence effect completed.
	Persisted bool
}

// Err returns the error that fails the turn, if any.
func (r Result) Err() error {
	return r.PersistErr
}

// Opts holds configuration options for the Dispatcher.
type Opts struct {
	Metrics *metrics.Metrics
}

// Option defines a configuration option for the Dispatcher.
type Option func(*Opts)

// WithMetrics records effect failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// Dispatcher runs effects against the chat transport, the email sender, and the store.
type Dispatcher struct {
	chat    ChatSender
	email   EmailSender
	records RecordWriter
	metrics *metrics.Metrics
}

// New creates a Dispatcher.
func New(chat ChatSender, email EmailSender, records RecordWriter, opts ...Option) *Dispatcher {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{chat: chat, email: email, records: records, metrics: cfg.Metrics}
}

// Execute runs effects for one turn. Persistence effects are deferred until every
// notification has been attempted, whatever their position in the slice.
func (d *Dispatcher) Execute(ctx context.Context, effects []flow.Effect) Result {
	var (
		res      Result
		notifErr []error
		persist  []flow.Effect
	)

	for _, e := range effects {
		if e.Kind.IsPersistence() {
			persist = append(persist, e)
			continue
		}
		if err := d.notify(ctx, e); err != nil {
			slog.Error("Dispatcher.Execute: notification failed", "kind", e.Kind, "identity", e.Identity, "error", err)
			d.metrics.IncrementEffectFailure(string(e.Kind))
			notifErr = append(notifErr, err)
		}
	}
	res.NotificationErr = errors.Join(notifErr...)

	for _, e := range persist {
		if err := d.persist(ctx, e); err != nil {
			slog.Error("Dispatcher.Execute: persistence failed", "kind", e.Kind, "identity", e.Identity, "error", err)
			d.metrics.IncrementEffectFailure(string(e.Kind))
			res.PersistErr = err
			return res
		}
		res.Persisted = true
	}
	return res
}

func (d *Dispatcher) notify(ctx context.Context, e flow.Effect) error {
	switch e.Kind {
	case flow.EffectSendMessage:
		if d.chat == nil {
			return fmt.Errorf("no chat sender configured")
		}
		if err := d.chat.SendMessage(ctx, e.Identity, e.Text); err != nil {
			return fmt.Errorf("send message to %s: %w", e.Identity, err)
		}
		slog.Debug("Dispatcher.notify: message sent", "identity", e.Identity)
		return nil
	case flow.EffectSendEmail:
		if d.email == nil {
			return fmt.Errorf("no email sender configured")
		}
		if err := d.email.SendEmail(ctx, e.To, e.Subject, e.Body); err != nil {
			return fmt.Errorf("send email for %s: %w", e.Identity, err)
		}
		slog.Debug("Dispatcher.notify: email sent", "identity", e.Identity)
		return nil
	default:
		return fmt.Errorf("unknown effect kind %q", e.Kind)
	}
}

func (d *Dispatcher) persist(ctx context.Context, e flow.Effect) error {
	switch e.Kind {
	case flow.EffectPersistRecord:
		if e.Record == nil {
			return fmt.Errorf("persist effect for %s carries no record", e.Identity)
		}
		if err := e.Record.Validate(); err != nil {
			return fmt.Errorf("record for %s is invalid: %w", e.Identity, err)
		}
		if e.Create {
			err := d.records.CreateIdentityRecord(ctx, e.Record)
			if errors.Is(err, models.ErrConflict) {
				// Another node created it first; that record stands.
				slog.Warn("Dispatcher.persist: record already exists", "identity", e.Identity)
				return nil
			}
			return err
		}
		return d.records.SaveIdentityRecord(ctx, e.Record)
	case flow.EffectDeleteRecord:
		return d.records.DeleteIdentityRecord(ctx, e.Identity)
	default:
		return fmt.Errorf("unknown persistence kind %q", e.Kind)
	}
}
