// Package store provides storage backends for the chatbot.
//
// This file implements a PostgreSQL-backed store for identity records and FAQs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/lib/pq"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func scanPostgresRecord(row rowScanner) (*models.IdentityRecord, error) {
	var (
		r                  models.IdentityRecord
		pendingCode        sql.NullString
		issuedAt, resendAt sql.NullTime
		snapshot           pq.Int64Array
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
	if len(snapshot) > 0 {
		r.FaqSnapshot = []int64(snapshot)
	}
	return &r, nil
}

// snapshotArray maps an empty snapshot to NULL.
func snapshotArray(ids []int64) interface{} {
	if len(ids) == 0 {
		return nil
	}
	return pq.Array(ids)
}

func (s *PostgresStore) FindIdentityRecord(ctx context.Context, identity string) (*models.IdentityRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identity_records WHERE identity = $1`, identity)
	r, err := scanPostgresRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore FindIdentityRecord failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to get identity record %s: %w", identity, err)
	}
	return r, nil
}

func (s *PostgresStore) CreateIdentityRecord(ctx context.Context, r *models.IdentityRecord) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO identity_records (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (identity) DO NOTHING`,
		r.Identity, r.DisplayName, r.CredentialHash, r.ContactEmail, r.Verified, nilIfEmpty(r.PendingCode),
		nullableTime(r.CodeIssuedAt), nullableTime(r.LastResendRequestedAt), string(r.Phase), string(r.Step),
		r.Subscribed, snapshotArray(r.FaqSnapshot), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateIdentityRecord failed", "error", err, "identity", r.Identity)
		return fmt.Errorf("failed to insert identity record %s: %w", r.Identity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected check failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("identity %s: %w", r.Identity, models.ErrConflict)
	}
	slog.Debug("PostgresStore CreateIdentityRecord succeeded", "identity", r.Identity)
	return nil
}

func (s *PostgresStore) SaveIdentityRecord(ctx context.Context, r *models.IdentityRecord) error {
	res, err := s.db.ExecContext(ctx, `UPDATE identity_records SET
		display_name = $1, credential_hash = $2, contact_email = $3, verified = $4, pending_code = $5,
		code_issued_at = $6, last_resend_requested_at = $7, phase = $8, conversation_step = $9,
		subscribed = $10, faq_snapshot = $11, updated_at = $12
		WHERE identity = $13`,
		r.DisplayName, r.CredentialHash, r.ContactEmail, r.Verified, nilIfEmpty(r.PendingCode),
		nullableTime(r.CodeIssuedAt), nullableTime(r.LastResendRequestedAt), string(r.Phase), string(r.Step),
		r.Subscribed, snapshotArray(r.FaqSnapshot), r.UpdatedAt, r.Identity)
	if err != nil {
		slog.Error("PostgresStore SaveIdentityRecord failed", "error", err, "identity", r.Identity)
		return fmt.Errorf("failed to update identity record %s: %w", r.Identity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected check failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("identity %s: %w", r.Identity, models.ErrNotFound)
	}
	slog.Debug("PostgresStore SaveIdentityRecord succeeded", "identity", r.Identity, "phase", r.Phase)
	return nil
}

func (s *PostgresStore) DeleteIdentityRecord(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM identity_records WHERE identity = $1`, identity); err != nil {
		slog.Error("PostgresStore DeleteIdentityRecord failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to delete identity record %s: %w", identity, err)
	}
	slog.Debug("PostgresStore DeleteIdentityRecord succeeded", "identity", identity)
	return nil
}

func (s *PostgresStore) ListSubscribedIdentities(ctx context.Context) ([]*models.IdentityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+identityColumns+` FROM identity_records
		WHERE subscribed AND verified ORDER BY identity`)
	if err != nil {
		slog.Error("PostgresStore ListSubscribedIdentities query failed", "error", err)
		return nil, fmt.Errorf("failed to query subscribed identities: %w", err)
	}
	defer rows.Close()

	var out []*models.IdentityRecord
	for rows.Next() {
		r, err := scanPostgresRecord(rows)
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

func (s *PostgresStore) ListFAQs(ctx context.Context) ([]models.FAQEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, question, answer FROM faq_entries ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListFAQs query failed", "error", err)
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

func (s *PostgresStore) SeedFAQs(ctx context.Context, entries []models.FAQEntry) (int, error) {
	added := 0
	for _, e := range entries {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO faq_entries (question, answer) VALUES ($1, $2) ON CONFLICT (question) DO NOTHING`,
			e.Question, e.Answer)
		if err != nil {
			return added, fmt.Errorf("failed to seed FAQ %q: %w", e.Question, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	slog.Debug("PostgresStore SeedFAQs completed", "added", added)
	return added, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
