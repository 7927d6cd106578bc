package store

import (
	"database/sql"
	"time"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullableTime maps a nil pointer to SQL NULL.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// timePtr converts a scanned nullable timestamp.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// identityColumns is the column list shared by every identity_records SELECT.
const identityColumns = `identity, display_name, credential_hash, contact_email, verified, pending_code,
	code_issued_at, last_resend_requested_at, phase, conversation_step, subscribed, faq_snapshot,
	created_at, updated_at`
