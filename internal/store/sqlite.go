// Package store provides storage backends for the chatbot.
//
// This file implements an SQLite-backed store for identity records and FAQs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dsn+sep+"_busy_timeout=5000")
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between them.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db}, nil
}

func encodeSnapshot(ids []int64) (interface{}, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanSQLiteRecord(row rowScanner) (*models.IdentityRecord, error) {
	var (
		r                  models.IdentityRecord
		pendingCode        sql.NullString
		issuedAt, resendAt sql.NullTime
		snapshot           sql.NullString
		phase, step        string
	)
	err := row.Scan(&r.Identity, &r.DisplayName, &r.CredentialHash, &r.ContactEmail, &r.Verified, &pendingCode,
		&issuedAt, &resendAt, &phase, &step, &r.Subscribed, &snapshot, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.PendingCode = pendingCode.String
	r.CodeIssuedAt = timePtr(issuedAt)
	r.LastResendRequestedAt = timePtr(resendAt)
	r.Phase = models.Phase(phase)
	r.Step = models.ConversationStep(step)
	if snapshot.Valid && snapshot.String != "" {
		if err := json.Unmarshal([]byte(snapshot.String), &r.FaqSnapshot); err != nil {
			return nil, fmt.Errorf("decode faq snapshot: %w", err)
		}
	}
	return &r, nil
}

func (s *SQLiteStore) FindIdentityRecord(ctx context.Context, identity string) (*models.IdentityRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identity_records WHERE identity = ?`, identity)
	r, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore FindIdentityRecord failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to get identity record %s: %w", identity, err)
	}
	return r, nil
}

func (s *SQLiteStore) CreateIdentityRecord(ctx context.Context, r *models.IdentityRecord) error {
	snapshot, err := encodeSnapshot(r.FaqSnapshot)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO identity_records (`+identityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Identity, r.DisplayName, r.CredentialHash, r.ContactEmail, r.Verified, nilIfEmpty(r.PendingCode),
		nullableTime(r.CodeIssuedAt), nullableTime(r.LastResendRequestedAt), string(r.Phase), string(r.Step),
		r.Subscribed, snapshot, r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore CreateIdentityRecord failed", "error", err, "identity", r.Identity)
		return fmt.Errorf("failed to insert identity record %s: %w", r.Identity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected check failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("identity %s: %w", r.Identity, models.ErrConflict)
	}
	slog.Debug("SQLiteStore CreateIdentityRecord succeeded", "identity", r.Identity)
	return nil
}

func (s *SQLiteStore) SaveIdentityRecord(ctx context.Context, r *models.IdentityRecord) error {
	snapshot, err := encodeSnapshot(r.FaqSnapshot)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE identity_records SET
		display_name = ?, credential_hash = ?, contact_email = ?, verified = ?, pending_code = ?,
		code_issued_at = ?, last_resend_requested_at = ?, phase = ?, conversation_step = ?,
		subscribed = ?, faq_snapshot = ?, updated_at = ?
		WHERE identity = ?`,
		r.DisplayName, r.CredentialHash, r.ContactEmail, r.Verified, nilIfEmpty(r.PendingCode),
		nullableTime(r.CodeIssuedAt), nullableTime(r.LastResendRequestedAt), string(r.Phase), string(r.Step),
		r.Subscribed, snapshot, r.UpdatedAt.UTC(), r.Identity)
	if err != nil {
		slog.Error("SQLiteStore SaveIdentityRecord failed", "error", err, "identity", r.Identity)
		return fmt.Errorf("failed to update identity record %s: %w", r.Identity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected check failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("identity %s: %w", r.Identity, models.ErrNotFound)
	}
	slog.Debug("SQLiteStore SaveIdentityRecord succeeded", "identity", r.Identity, "phase", r.Phase)
	return nil
}

func (s *SQLiteStore) DeleteIdentityRecord(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM identity_records WHERE identity = ?`, identity); err != nil {
		slog.Error("SQLiteStore DeleteIdentityRecord failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to delete identity record %s: %w", identity, err)
	}
	slog.Debug("SQLiteStore DeleteIdentityRecord succeeded", "identity", identity)
	return nil
}

func (s *SQLiteStore) ListSubscribedIdentities(ctx context.Context) ([]*models.IdentityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+identityColumns+` FROM identity_records
		WHERE subscribed = 1 AND verified = 1 ORDER BY identity`)
	if err != nil {
		slog.Error("SQLiteStore ListSubscribedIdentities query failed", "error", err)
		return nil, fmt.Errorf("failed to query subscribed identities: %w", err)
	}
	defer rows.Close()

	var out []*models.IdentityRecord
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity record row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate identity record rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListFAQs(ctx context.Context) ([]models.FAQEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, question, answer FROM faq_entries ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListFAQs query failed", "error", err)
		return nil, fmt.Errorf("failed to query FAQs: %w", err)
	}
	defer rows.Close()

	var entries []models.FAQEntry
	for rows.Next() {
		var e models.FAQEntry
		if err := rows.Scan(&e.ID, &e.Question, &e.Answer); err != nil {
			return nil, fmt.Errorf("failed to scan FAQ row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) SeedFAQs(ctx context.Context, entries []models.FAQEntry) (int, error) {
	added := 0
	for _, e := range entries {
		res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO faq_entries (question, answer) VALUES (?, ?)`, e.Question, e.Answer)
		if err != nil {
			return added, fmt.Errorf("failed to seed FAQ %q: %w", e.Question, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	slog.Debug("SQLiteStore SeedFAQs completed", "added", added)
	return added, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
