// Package flow implements the conversation state machine for the registration bot.
//
// The Engine is a pure decision function: given the identity's persisted record and
// the inbound text it returns the next record state and the ordered side effects to
// perform. It never performs I/O itself except reading the FAQ catalog, and draws OTP
// codes from the injected otp.Policy so tests can substitute a deterministic source.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/credential"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/otp"
)

// Outcome labels attached to transitions.
const (
	OutcomeWelcome            = "welcome"
	OutcomeNameSaved          = "name_saved"
	OutcomeNameRejected       = "name_rejected"
	OutcomeCredentialSaved    = "credential_saved"
	OutcomeCredentialRejected = "credential_rejected"
	OutcomeEmailRejected      = "email_rejected"
	OutcomeCodeIssued         = "code_issued"
	OutcomeVerified           = "otp_verified"
	OutcomeIncorrectCode      = "otp_incorrect"
	OutcomeAutoResent         = "otp_auto_resent"
	OutcomeResent             = "otp_resent"
	OutcomeResendRateLimited  = "otp_resend_rate_limited"
	OutcomeResendRejected     = "otp_resend_rejected"
	OutcomeReset              = "reset"
	OutcomeResetRejected      = "reset_rejected"
	OutcomeMenuRendered       = "menu_rendered"
	OutcomeMenuSelected       = "menu_selected"
	OutcomeMenuInvalid        = "menu_invalid"
	OutcomeFAQListed          = "faq_listed"
	OutcomeFAQAnswered        = "faq_answered"
	OutcomeFAQInvalid         = "faq_invalid"
	OutcomeSubscribed         = "subscribed"
	OutcomeAlreadySubscribed  = "already_subscribed"
)

// IssuesCode reports whether a transition with this outcome emitted a fresh OTP.
func IssuesCode(outcome string) bool {
	switch outcome {
	case OutcomeCodeIssued, OutcomeResent, OutcomeAutoResent:
		return true
	}
	return false
}

// FAQCatalog is the read side of the FAQ collaborator.
type FAQCatalog interface {
	ListFAQs(ctx context.Context) ([]models.FAQEntry, error)
}

// Opts holds configuration options for the Engine.
type Opts struct {
	Policy *otp.Policy
	Hasher credential.Hasher
	Clock  func() time.Time
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithPolicy sets the OTP policy.
func WithPolicy(p *otp.Policy) Option {
	return func(o *Opts) { o.Policy = p }
}

// WithHasher sets the credential hasher.
func WithHasher(h credential.Hasher) Option {
	return func(o *Opts) { o.Hasher = h }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// Engine computes conversation transitions.
type Engine struct {
	policy *otp.Policy
	hasher credential.Hasher
	faqs   FAQCatalog
	now    func() time.Time
}

// NewEngine creates an Engine reading FAQs from the given catalog.
func NewEngine(faqs FAQCatalog, opts ...Option) *Engine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Policy == nil {
		cfg.Policy = otp.NewPolicy()
	}
	if cfg.Hasher == nil {
		cfg.Hasher = credential.NewBcryptHasher()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{policy: cfg.Policy, hasher: cfg.Hasher, faqs: faqs, now: cfg.Clock}
}

// turn accumulates the decisions for a single transition.
type turn struct {
	identity string
	rec      *models.IdentityRecord
	now      time.Time
	effects  []Effect
	reply    string
	outcome  string
	dirty    bool
	create   bool
	deleted  bool
}

func (t *turn) say(text string) {
	t.effects = append(t.effects, SendMessage(t.identity, text))
	t.reply = text
}

func (t *turn) finish() Transition {
	switch {
	case t.deleted:
		t.effects = append(t.effects, DeleteRecord(t.identity))
		t.rec = nil
	case t.dirty:
		t.rec.UpdatedAt = t.now
		t.effects = append(t.effects, PersistRecord(t.rec, t.create))
	}
	return Transition{Record: t.rec, Effects: t.effects, Reply: t.reply, Outcome: t.outcome}
}

// normalize folds text for command and keyword comparison.
func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// ComputeTransition decides the next state for identity given its current record
// (nil when none exists) and the inbound text. The passed record is never mutated.
func (e *Engine) ComputeTransition(ctx context.Context, identity string, record *models.IdentityRecord, text string) (Transition, error) {
	t := &turn{identity: identity, rec: record.Clone(), now: e.now()}

	// Global commands are checked before any step logic.
	switch normalize(text) {
	case CommandStartOver:
		e.startOver(t)
		return t.finish(), nil
	case CommandResendOTP:
		e.resendRequested(t)
		return t.finish(), nil
	}

	if t.rec == nil {
		t.rec = models.NewIdentityRecord(identity, t.now)
		t.create = true
		t.dirty = true
		t.outcome = OutcomeWelcome
		t.say(MsgWelcome)
		return t.finish(), nil
	}

	switch t.rec.Phase {
	case models.PhaseAwaitingName:
		e.acceptName(t, text)
	case models.PhaseAwaitingCredential:
		if err := e.acceptCredential(t, text); err != nil {
			return Transition{}, err
		}
	case models.PhaseAwaitingEmail:
		e.acceptEmail(t, text)
	case models.PhaseAwaitingCode:
		e.acceptCode(t, text)
	case models.PhaseVerified:
		if err := e.menu(ctx, t, text); err != nil {
			return Transition{}, err
		}
	default:
		return Transition{}, fmt.Errorf("identity %s has unknown phase %q", identity, t.rec.Phase)
	}
	return t.finish(), nil
}

func (e *Engine) startOver(t *turn) {
	if t.rec != nil && t.rec.Verified {
		t.outcome = OutcomeResetRejected
		t.say(MsgAlreadyRegistered)
		return
	}
	if t.rec != nil {
		t.deleted = true
	}
	t.outcome = OutcomeReset
	t.say(MsgWelcome)
}

func (e *Engine) resendRequested(t *turn) {
	if t.rec == nil || t.rec.Verified || !t.rec.HasPendingCode() {
		t.outcome = OutcomeResendRejected
		t.say(MsgNotInRegistration)
		return
	}
	ref := otp.ResendReference(t.rec.LastResendRequestedAt, t.rec.CodeIssuedAt)
	if remaining := e.policy.Remaining(ref, t.now); remaining > 0 {
		slog.Debug("Engine.resendRequested: cooldown active", "identity", t.identity, "remaining", remaining)
		t.outcome = OutcomeResendRateLimited
		t.say(waitBeforeResend(remaining))
		return
	}
	e.issueCode(t)
	requested := t.now
	t.rec.LastResendRequestedAt = &requested
	t.outcome = OutcomeResent
	t.say(MsgNewCodeSent)
}

func (e *Engine) acceptName(t *turn, text string) {
	if strings.TrimSpace(text) == "" {
		t.outcome = OutcomeNameRejected
		t.say(MsgNameRequired)
		return
	}
	t.rec.DisplayName = text
	t.rec.Phase = models.PhaseAwaitingCredential
	t.dirty = true
	t.outcome = OutcomeNameSaved
	t.say(askPassword(text))
}

func (e *Engine) acceptCredential(t *turn, text string) error {
	if err := credential.ValidatePassword(text); err != nil {
		slog.Debug("Engine.acceptCredential: password rejected", "identity", t.identity, "reason", err)
		t.outcome = OutcomeCredentialRejected
		t.say(MsgPasswordWeak)
		return nil
	}
	hash, err := e.hasher.Hash(text)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			t.outcome = OutcomeCredentialRejected
			t.say(MsgPasswordWeak)
			return nil
		}
		return fmt.Errorf("hash credential for %s: %w", t.identity, err)
	}
	t.rec.CredentialHash = hash
	t.rec.Phase = models.PhaseAwaitingEmail
	t.dirty = true
	t.outcome = OutcomeCredentialSaved
	t.say(MsgAskEmail)
	return nil
}

func (e *Engine) acceptEmail(t *turn, text string) {
	email, err := credential.NormalizeEmail(text)
	if err != nil {
		slog.Debug("Engine.acceptEmail: email rejected", "identity", t.identity)
		t.outcome = OutcomeEmailRejected
		t.say(MsgInvalidEmail)
		return
	}
	t.rec.ContactEmail = email
	t.rec.Phase = models.PhaseAwaitingCode
	e.issueCode(t)
	t.outcome = OutcomeCodeIssued
	t.say(MsgCheckEmail)
}

func (e *Engine) acceptCode(t *turn, text string) {
	if e.policy.Matches(t.rec.PendingCode, strings.TrimSpace(text)) {
		t.rec.Verified = true
		t.rec.PendingCode = ""
		t.rec.CodeIssuedAt = nil
		t.rec.LastResendRequestedAt = nil
		t.rec.Phase = models.PhaseVerified
		t.rec.Step = models.StepMenu
		t.dirty = true
		t.outcome = OutcomeVerified
		t.say(MsgVerified)
		return
	}
	if !t.rec.HasPendingCode() || e.policy.CooldownElapsed(t.rec.CodeIssuedAt, t.now) {
		// Wrong guess after the window: replace the stale code.
		e.issueCode(t)
		t.outcome = OutcomeAutoResent
		t.say(MsgNewCodeSent)
		return
	}
	t.outcome = OutcomeIncorrectCode
	t.say(MsgIncorrectCode)
}

// issueCode replaces any pending code with a fresh one and emails it.
func (e *Engine) issueCode(t *turn) {
	code := e.policy.NewCode()
	issued := t.now
	t.rec.PendingCode = code
	t.rec.CodeIssuedAt = &issued
	t.dirty = true
	t.effects = append(t.effects, SendEmail(t.identity, t.rec.ContactEmail, EmailOTPSubject, otpEmailBody(code)))
}
