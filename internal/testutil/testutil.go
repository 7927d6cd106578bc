// Package testutil provides common test utilities and helpers for chatbot tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
)

// FakeClock is a manually advanced time source. Safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SequenceSource returns queued values in order, repeating the last one when drained.
// It satisfies otp.Source.
type SequenceSource struct {
	mu     sync.Mutex
	values []int
}

// NewSequenceSource creates a source yielding values in order.
func NewSequenceSource(values ...int) *SequenceSource {
	return &SequenceSource{values: values}
}

// IntN returns the next queued value, clamped to [0, n).
func (s *SequenceSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[0]
	if len(s.values) > 1 {
		s.values = s.values[1:]
	}
	if v >= n {
		v = n - 1
	}
	return v
}

// PlainHasher is a reversible hasher for tests that avoids bcrypt cost.
type PlainHasher struct{}

// Hash prefixes the password so tests can tell it was hashed.
func (PlainHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

// StaticFAQs is an in-memory FAQ catalog.
type StaticFAQs struct {
	Entries []models.FAQEntry
	Err     error
}

// ListFAQs returns the configured entries or error.
func (s *StaticFAQs) ListFAQs(ctx context.Context) ([]models.FAQEntry, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]models.FAQEntry(nil), s.Entries...), nil
}

// SampleFAQs returns four numbered catalog entries.
func SampleFAQs() []models.FAQEntry {
	return []models.FAQEntry{
		{ID: 1, Question: "What are your business hours?", Answer: "We are open from 9 AM to 9 PM."},
		{ID: 2, Question: "How do I track my order?", Answer: "Choose Check Order Status from the menu."},
		{ID: 3, Question: "Do you ship internationally?", Answer: "Yes, to most countries."},
		{ID: 4, Question: "How do I unsubscribe?", Answer: "Contact support to stop daily updates."},
	}
}

// AssertEqual fails the test when got != want.
func AssertEqual[T comparable](t *testing.T, got, want T, context string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %v, want %v", context, got, want)
	}
}
