package flow

import "github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"

// EffectKind identifies the side effect a turn asks the dispatcher to perform.
type EffectKind string

const (
	// EffectSendMessage sends a chat message to the identity.
	EffectSendMessage EffectKind = "send_message"
	// EffectSendEmail sends an email to the identity's contact address.
	EffectSendEmail EffectKind = "send_email"
	// EffectPersistRecord writes the record. Create is set for first-contact records.
	EffectPersistRecord EffectKind = "persist_record"
	// EffectDeleteRecord removes the identity's record entirely.
	EffectDeleteRecord EffectKind = "delete_record"
)

// IsPersistence reports whether the effect makes the turn's outcome durable.
func (k EffectKind) IsPersistence() bool {
	return k == EffectPersistRecord || k == EffectDeleteRecord
}

// Effect is one side effect emitted by the engine, executed in order by the dispatcher.
type Effect struct {
	Kind     EffectKind
	Identity string
	// Text is the chat message body for EffectSendMessage.
	Text string
	// To, Subject and Body describe an EffectSendEmail.
	To      string
	Subject string
	Body    string
	// Record is the full replacement for EffectPersistRecord.
	Record *models.IdentityRecord
	Create bool
}

// SendMessage builds a chat message effect.
func SendMessage(identity, text string) Effect {
	return Effect{Kind: EffectSendMessage, Identity: identity, Text: text}
}

// SendEmail builds an email effect.
func SendEmail(identity, to, subject, body string) Effect {
	return Effect{Kind: EffectSendEmail, Identity: identity, To: to, Subject: subject, Body: body}
}

// PersistRecord builds a persistence effect carrying a snapshot of the record.
func PersistRecord(record *models.IdentityRecord, create bool) Effect {
	return Effect{Kind: EffectPersistRecord, Identity: record.Identity, Record: record.Clone(), Create: create}
}

// DeleteRecord builds a deletion effect.
func DeleteRecord(identity string) Effect {
	return Effect{Kind: EffectDeleteRecord, Identity: identity}
}

// Transition is the engine's decision for one turn.
type Transition struct {
	// Record is the record state after the turn; nil when the record was deleted
	// or never existed.
	Record *models.IdentityRecord
	// Effects are ordered; a persistence effect, when present, is last.
	Effects []Effect
	// Reply is the chat text the turn answers with.
	Reply string
	// Outcome is a short label for logs and metrics (e.g. "otp_verified").
	Outcome string
}

// Mutated reports whether the transition carries a persistence effect.
func (t Transition) Mutated() bool {
	for _, e := range t.Effects {
		if e.Kind.IsPersistence() {
			return true
		}
	}
	return false
}
