// Package store provides storage backends for the chatbot.
//
// It holds the identity records, the FAQ catalog, and the inbound message dedup log.
// Backends: an in-memory store for tests and the log transport, SQLite for single-node
// deployments, and PostgreSQL.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
)

// IdentityRecordStore is keyed storage of one record per identity.
type IdentityRecordStore interface {
	// FindIdentityRecord returns (nil, nil) when the identity has no record.
	FindIdentityRecord(ctx context.Context, identity string) (*models.IdentityRecord, error)
	// CreateIdentityRecord fails with models.ErrConflict if the identity exists.
	CreateIdentityRecord(ctx context.Context, record *models.IdentityRecord) error
	// SaveIdentityRecord fully replaces an existing record; models.ErrNotFound if absent.
	SaveIdentityRecord(ctx context.Context, record *models.IdentityRecord) error
	// DeleteIdentityRecord removes the record. Deleting an absent identity is a no-op.
	DeleteIdentityRecord(ctx context.Context, identity string) error
	// ListSubscribedIdentities returns verified, subscribed records ordered by identity.
	ListSubscribedIdentities(ctx context.Context) ([]*models.IdentityRecord, error)
}

// FAQCatalog is the ordered FAQ list.
type FAQCatalog interface {
	ListFAQs(ctx context.Context) ([]models.FAQEntry, error)
	// SeedFAQs inserts entries whose question is not present and returns how many were added.
	SeedFAQs(ctx context.Context, entries []models.FAQEntry) (int, error)
}

// DedupRepo defines the interface for inbound message deduplication.
type DedupRepo interface {
	// IsProcessed reports whether a turn already completed for messageID.
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded.
	RecordInbound(ctx context.Context, messageID, identity string) (bool, error)
	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error
}

// Store is the full persistence surface used by the chatbot.
type Store interface {
	IdentityRecordStore
	FAQCatalog
	DedupRepo
	Close() error
}

// Driver names returned by DetectDSNType.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN    string
	Driver string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN selects SQLite at the given file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverSQLite
	}
}

// WithPostgresDSN selects PostgreSQL with the given connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverPostgres
	}
}

// DetectDSNType reports whether dsn addresses PostgreSQL or an SQLite file.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DriverPostgres
	}
	// libpq keyword/value form, e.g. "host=localhost dbname=chatbot".
	for _, kw := range []string{"host=", "dbname=", "user="} {
		if strings.Contains(dsn, kw) && !strings.Contains(dsn, "?") {
			return DriverPostgres
		}
	}
	return DriverSQLite
}

// Open builds the backend selected by opts, falling back to memory without a DSN.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Info("Store.Open: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	case cfg.Driver == DriverPostgres:
		return NewPostgresStore(opts...)
	case cfg.Driver == DriverSQLite:
		return NewSQLiteStore(opts...)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// DefaultFAQs is the catalog seeded at startup.
func DefaultFAQs() []models.FAQEntry {
	return []models.FAQEntry{
		{Question: "What are your business hours?", Answer: "We are open Monday to Friday, 9 AM to 6 PM."},
		{Question: "How can I track my order?", Answer: "Choose option 1 from the menu to check your order status."},
		{Question: "What is your return policy?", Answer: "Items can be returned within 30 days of delivery."},
		{Question: "How do I contact support?", Answer: "Reply to this chat or email support@example.com."},
	}
}

// InMemoryStore is a mutex-guarded Store. Records are copied on the way in and out.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.IdentityRecord
	faqs    []models.FAQEntry
	nextFAQ int64
	dedup   map[string]*dedupRecord
}

type dedupRecord struct {
	identity    string
	receivedAt  time.Time
	processedAt *time.Time
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*models.IdentityRecord),
		dedup:   make(map[string]*dedupRecord),
	}
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) FindIdentityRecord(ctx context.Context, identity string) (*models.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[identity].Clone(), nil
}

func (s *InMemoryStore) CreateIdentityRecord(ctx context.Context, record *models.IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.Identity]; ok {
		return fmt.Errorf("identity %s: %w", record.Identity, models.ErrConflict)
	}
	s.records[record.Identity] = record.Clone()
	return nil
}

func (s *InMemoryStore) SaveIdentityRecord(ctx context.Context, record *models.IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.Identity]; !ok {
		return fmt.Errorf("identity %s: %w", record.Identity, models.ErrNotFound)
	}
	s.records[record.Identity] = record.Clone()
	return nil
}

func (s *InMemoryStore) DeleteIdentityRecord(ctx context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, identity)
	return nil
}

func (s *InMemoryStore) ListSubscribedIdentities(ctx context.Context) ([]*models.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.IdentityRecord
	for _, r := range s.records {
		if r.Subscribed && r.Verified {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (s *InMemoryStore) ListFAQs(ctx context.Context) ([]models.FAQEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.FAQEntry(nil), s.faqs...), nil
}

func (s *InMemoryStore) SeedFAQs(ctx context.Context, entries []models.FAQEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, e := range entries {
		exists := false
		for _, f := range s.faqs {
			if f.Question == e.Question {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		s.nextFAQ++
		s.faqs = append(s.faqs, models.FAQEntry{ID: s.nextFAQ, Question: e.Question, Answer: e.Answer})
		added++
	}
	return added, nil
}

func (s *InMemoryStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dedup[messageID]
	return ok && d.processedAt != nil, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, identity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &dedupRecord{identity: identity, receivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dedup[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	now := time.Now()
	d.processedAt = &now
	return nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}
