// Package models defines the core data structures for the chatbot.
//
// It includes the per-identity registration record, the FAQ catalog entry, and the
// inbound message shape shared by the transport, engine, and store modules.
package models

import (
	"errors"
	"time"
)

// Error variables shared across modules. Stores return these (optionally wrapped)
// and the conversation layer maps them to user-facing replies.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

// Phase is the registration phase of an identity. Transitions are driven by the
// conversation engine; the phase is persisted so it never has to be inferred from
// which optional fields happen to be set.
type Phase string

const (
	PhaseAwaitingName       Phase = "awaiting_name"
	PhaseAwaitingCredential Phase = "awaiting_credential"
	PhaseAwaitingEmail      Phase = "awaiting_email"
	PhaseAwaitingCode       Phase = "awaiting_code"
	PhaseVerified           Phase = "verified"
)

// IsValidPhase checks if the given phase is known.
func IsValidPhase(p Phase) bool {
	switch p {
	case PhaseAwaitingName, PhaseAwaitingCredential, PhaseAwaitingEmail, PhaseAwaitingCode, PhaseVerified:
		return true
	default:
		return false
	}
}

// ConversationStep governs post-verification navigation.
type ConversationStep string

const (
	StepMenu                  ConversationStep = "menu"
	StepAwaitingMenuSelection ConversationStep = "awaiting_menu_selection"
	StepFaqSelection          ConversationStep = "faq_selection"
)

// IdentityRecord is the sole source of truth for one external identity across turns.
type IdentityRecord struct {
	Identity              string           `json:"identity"`
	DisplayName           string           `json:"display_name,omitempty"`
	CredentialHash        string           `json:"-"`
	ContactEmail          string           `json:"contact_email,omitempty"`
	Verified              bool             `json:"verified"`
	PendingCode           string           `json:"-"`
	CodeIssuedAt          *time.Time       `json:"code_issued_at,omitempty"`
	LastResendRequestedAt *time.Time       `json:"last_resend_requested_at,omitempty"`
	Phase                 Phase            `json:"phase"`
	Step                  ConversationStep `json:"conversation_step"`
	Subscribed            bool             `json:"subscribed"`
	// FaqSnapshot holds the FAQ entry IDs in the order they were last rendered,
	// so a numeric selection resolves against the list the user actually saw.
	FaqSnapshot []int64   `json:"faq_snapshot,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewIdentityRecord returns an empty unverified record for a first-contact identity.
func NewIdentityRecord(identity string, now time.Time) *IdentityRecord {
	return &IdentityRecord{
		Identity:  identity,
		Phase:     PhaseAwaitingName,
		Step:      StepMenu,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasPendingCode reports whether an OTP challenge is outstanding.
func (r *IdentityRecord) HasPendingCode() bool {
	return r != nil && r.PendingCode != ""
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (r *IdentityRecord) Clone() *IdentityRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.CodeIssuedAt != nil {
		t := *r.CodeIssuedAt
		c.CodeIssuedAt = &t
	}
	if r.LastResendRequestedAt != nil {
		t := *r.LastResendRequestedAt
		c.LastResendRequestedAt = &t
	}
	if r.FaqSnapshot != nil {
		c.FaqSnapshot = append([]int64(nil), r.FaqSnapshot...)
	}
	return &c
}

// Validate checks the record invariants that must hold before persistence.
func (r *IdentityRecord) Validate() error {
	if r.Identity == "" {
		return errors.New("identity cannot be empty")
	}
	if !IsValidPhase(r.Phase) {
		return errors.New("invalid phase")
	}
	if r.Verified && r.PendingCode != "" {
		return errors.New("verified record cannot hold a pending code")
	}
	if r.PendingCode != "" && r.CodeIssuedAt == nil {
		return errors.New("pending code requires an issue time")
	}
	return nil
}

// FAQEntry is one question/answer pair from the FAQ catalog.
type FAQEntry struct {
	ID       int64  `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// InboundMessage is a single message received from the transport.
type InboundMessage struct {
	// MessageID is the transport's message identifier, used for redelivery dedup.
	// Empty when the transport does not supply one.
	MessageID string `json:"message_id,omitempty"`
	// From is the canonical identity (e.g. "+15551234567").
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}
