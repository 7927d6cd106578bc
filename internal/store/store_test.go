package store

import (
	"context"
	"errors"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
)

func sampleRecord(identity string) *models.IdentityRecord {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.NewIdentityRecord(identity, now)
}

// runStoreSuite exercises the Store contract against any backend.
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("FindMissing", func(t *testing.T) {
		r, err := s.FindIdentityRecord(ctx, "+10000000000")
		if err != nil || r != nil {
			t.Fatalf("Find missing = (%v, %v), want (nil, nil)", r, err)
		}
	})

	t.Run("CreateFindSave", func(t *testing.T) {
		r := sampleRecord("+15550000001")
		if err := s.CreateIdentityRecord(ctx, r); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := s.CreateIdentityRecord(ctx, r); !errors.Is(err, models.ErrConflict) {
			t.Fatalf("duplicate Create err = %v, want ErrConflict", err)
		}

		issued := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)
		r.DisplayName = "Alice"
		r.CredentialHash = "hash"
		r.ContactEmail = "alice@example.com"
		r.PendingCode = "1234"
		r.CodeIssuedAt = &issued
		r.Phase = models.PhaseAwaitingCode
		r.UpdatedAt = issued
		if err := s.SaveIdentityRecord(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}

		got, err := s.FindIdentityRecord(ctx, r.Identity)
		if err != nil || got == nil {
			t.Fatalf("Find: (%v, %v)", got, err)
		}
		if got.DisplayName != "Alice" || got.ContactEmail != "alice@example.com" || got.CredentialHash != "hash" {
			t.Errorf("fields not round-tripped: %+v", got)
		}
		if got.PendingCode != "1234" || got.CodeIssuedAt == nil || !got.CodeIssuedAt.Equal(issued) {
			t.Errorf("code not round-tripped: %q %v", got.PendingCode, got.CodeIssuedAt)
		}
		if got.Phase != models.PhaseAwaitingCode || got.Step != models.StepMenu {
			t.Errorf("phase/step = %s/%s", got.Phase, got.Step)
		}
		if got.LastResendRequestedAt != nil {
			t.Errorf("last resend = %v, want nil", got.LastResendRequestedAt)
		}
	})

	t.Run("SaveClearsNullableFields", func(t *testing.T) {
		r, _ := s.FindIdentityRecord(ctx, "+15550000001")
		if r == nil {
			t.Skip("depends on CreateFindSave")
		}
		r.Verified = true
		r.PendingCode = ""
		r.CodeIssuedAt = nil
		r.Phase = models.PhaseVerified
		r.Step = models.StepFaqSelection
		r.FaqSnapshot = []int64{3, 1, 2}
		if err := s.SaveIdentityRecord(ctx, r); err != nil {
			t.Fatal(err)
		}
		got, _ := s.FindIdentityRecord(ctx, r.Identity)
		if !got.Verified || got.PendingCode != "" || got.CodeIssuedAt != nil {
			t.Errorf("verification not persisted: %+v", got)
		}
		if len(got.FaqSnapshot) != 3 || got.FaqSnapshot[0] != 3 {
			t.Errorf("snapshot = %v", got.FaqSnapshot)
		}
	})

	t.Run("SaveMissing", func(t *testing.T) {
		if err := s.SaveIdentityRecord(ctx, sampleRecord("+19999999999")); !errors.Is(err, models.ErrNotFound) {
			t.Fatalf("Save missing err = %v, want ErrNotFound", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		r := sampleRecord("+15550000002")
		if err := s.CreateIdentityRecord(ctx, r); err != nil {
			t.Fatal(err)
		}
		if err := s.DeleteIdentityRecord(ctx, r.Identity); err != nil {
			t.Fatal(err)
		}
		if got, _ := s.FindIdentityRecord(ctx, r.Identity); got != nil {
			t.Error("record still present after delete")
		}
		if err := s.DeleteIdentityRecord(ctx, r.Identity); err != nil {
			t.Errorf("second delete should be a no-op, got %v", err)
		}
		// The identity can register again from scratch.
		if err := s.CreateIdentityRecord(ctx, r); err != nil {
			t.Errorf("recreate after delete: %v", err)
		}
	})

	t.Run("ListSubscribed", func(t *testing.T) {
		sub := sampleRecord("+15550000003")
		sub.Verified = true
		sub.Phase = models.PhaseVerified
		sub.Subscribed = true
		unverified := sampleRecord("+15550000004")
		unverified.Subscribed = true
		for _, r := range []*models.IdentityRecord{sub, unverified} {
			if err := s.CreateIdentityRecord(ctx, r); err != nil {
				t.Fatal(err)
			}
		}
		list, err := s.ListSubscribedIdentities(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 1 || list[0].Identity != sub.Identity {
			t.Errorf("subscribed = %v", list)
		}
	})

	t.Run("SeedFAQsIdempotent", func(t *testing.T) {
		added, err := s.SeedFAQs(ctx, DefaultFAQs())
		if err != nil || added != 4 {
			t.Fatalf("first seed = (%d, %v), want 4", added, err)
		}
		added, err = s.SeedFAQs(ctx, DefaultFAQs())
		if err != nil || added != 0 {
			t.Fatalf("second seed = (%d, %v), want 0", added, err)
		}
		faqs, err := s.ListFAQs(ctx)
		if err != nil || len(faqs) != 4 {
			t.Fatalf("ListFAQs = (%d, %v)", len(faqs), err)
		}
		if faqs[0].Question != DefaultFAQs()[0].Question || faqs[0].ID == 0 {
			t.Errorf("first FAQ = %+v", faqs[0])
		}
		for i := 1; i < len(faqs); i++ {
			if faqs[i].ID <= faqs[i-1].ID {
				t.Errorf("FAQs not ordered by id: %v", faqs)
			}
		}
	})

	t.Run("Dedup", func(t *testing.T) {
		processed, err := s.IsProcessed(ctx, "SM1")
		if err != nil || processed {
			t.Fatalf("IsProcessed unseen = (%v, %v)", processed, err)
		}
		first, err := s.RecordInbound(ctx, "SM1", "+1")
		if err != nil || !first {
			t.Fatalf("RecordInbound first = (%v, %v)", first, err)
		}
		again, err := s.RecordInbound(ctx, "SM1", "+1")
		if err != nil || again {
			t.Fatalf("RecordInbound again = (%v, %v)", again, err)
		}
		if processed, _ := s.IsProcessed(ctx, "SM1"); processed {
			t.Error("recorded but unprocessed message reported as processed")
		}
		if err := s.MarkProcessed(ctx, "SM1"); err != nil {
			t.Fatal(err)
		}
		if processed, _ := s.IsProcessed(ctx, "SM1"); !processed {
			t.Error("message not marked processed")
		}
		if err := s.MarkProcessed(ctx, "SM-unknown"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("MarkProcessed unknown err = %v", err)
		}
	})
}

func TestInMemoryStore(t *testing.T) {
	runStoreSuite(t, NewInMemoryStore())
}

func TestInMemoryStoreCopiesRecords(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	r := sampleRecord("+1")
	if err := s.CreateIdentityRecord(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.DisplayName = "mutated"
	got, _ := s.FindIdentityRecord(ctx, "+1")
	if got.DisplayName != "" {
		t.Error("store aliased caller's record")
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "nested", "chatbot.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	runStoreSuite(t, s)
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatbot.db")
	s1, err := NewSQLiteStore(WithSQLiteDSN(path))
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.CreateIdentityRecord(context.Background(), sampleRecord("+1")); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := NewSQLiteStore(WithSQLiteDSN(path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if got, _ := s2.FindIdentityRecord(context.Background(), "+1"); got == nil {
		t.Error("record lost across reopen")
	}
}

func TestPostgresStore(t *testing.T) {
	// This test requires a running PostgreSQL instance.
	// Set the DATABASE_URL environment variable for connection string.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pgStore, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pgStore.Close()
	for _, table := range []string{"identity_records", "faq_entries", "inbound_dedup"} {
		if _, err := pgStore.db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("clean %s: %v", table, err)
		}
	}
	runStoreSuite(t, pgStore)
}

func TestDetectDSNType(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost/db": DriverPostgres,
		"postgresql://localhost/db":   DriverPostgres,
		"host=localhost user=chatbot": DriverPostgres,
		"/var/lib/chatbot/chatbot.db": DriverSQLite,
		"file:test.db?cache=shared":   DriverSQLite,
	}
	for dsn, want := range tests {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %s, want %s", dsn, got, want)
		}
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Errorf("Open() without DSN = %T, want *InMemoryStore", s)
	}

	s, err = Open(WithSQLiteDSN(filepath.Join(t.TempDir(), "x.db")))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("Open(sqlite) = %T", s)
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
