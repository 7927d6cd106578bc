package otp

import (
	"strconv"
	"testing"
	"time"
)

type fixedSource struct{ v int }

func (f fixedSource) IntN(n int) int {
	if f.v >= n {
		return n - 1
	}
	return f.v
}

func TestNewCodeBounds(t *testing.T) {
	low := NewPolicy(WithSource(fixedSource{0}))
	if got := low.NewCode(); got != "1000" {
		t.Errorf("expected lowest code 1000, got %s", got)
	}
	high := NewPolicy(WithSource(fixedSource{1 << 30}))
	if got := high.NewCode(); got != "9999" {
		t.Errorf("expected highest code 9999, got %s", got)
	}
}

func TestNewCodeDefaultSourceInDomain(t *testing.T) {
	p := NewPolicy()
	for i := 0; i < 200; i++ {
		code := p.NewCode()
		n, err := strconv.Atoi(code)
		if err != nil {
			t.Fatalf("code %q is not numeric: %v", code, err)
		}
		if n < MinCode || n > MaxCode || len(code) != 4 {
			t.Fatalf("code %q outside domain", code)
		}
	}
}

func TestCooldownBoundary(t *testing.T) {
	p := NewPolicy()
	issued := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	if p.CooldownElapsed(&issued, issued.Add(59*time.Second)) {
		t.Error("expected cooldown to hold at +59s")
	}
	if !p.CooldownElapsed(&issued, issued.Add(60*time.Second)) {
		t.Error("expected cooldown to elapse at +60s")
	}
	if !p.CooldownElapsed(&issued, issued.Add(5*time.Minute)) {
		t.Error("expected cooldown to elapse well after window")
	}
	if got := p.Remaining(&issued, issued.Add(45*time.Second)); got != 15*time.Second {
		t.Errorf("expected 15s remaining, got %v", got)
	}
	if !p.CooldownElapsed(nil, issued) {
		t.Error("nil reference should not impose a cooldown")
	}
}

func TestWithCooldown(t *testing.T) {
	p := NewPolicy(WithCooldown(10 * time.Second))
	issued := time.Now()
	if !p.CooldownElapsed(&issued, issued.Add(10*time.Second)) {
		t.Error("expected custom cooldown to elapse at 10s")
	}
	if p.Cooldown() != 10*time.Second {
		t.Errorf("unexpected cooldown %v", p.Cooldown())
	}
}

func TestResendReference(t *testing.T) {
	issued := time.Now()
	resent := issued.Add(time.Minute)
	if ResendReference(nil, &issued) != &issued {
		t.Error("expected fallback to issue time")
	}
	if ResendReference(&resent, &issued) != &resent {
		t.Error("expected last resend time to win")
	}
	if ResendReference(&resent, nil) != &resent {
		t.Error("expected last resend time without an issue time")
	}
	if ResendReference(nil, nil) != nil {
		t.Error("expected nil without timestamps")
	}

	// A code auto-issued after the explicit resend moves the reference forward.
	reissued := resent.Add(61 * time.Second)
	if ResendReference(&resent, &reissued) != &reissued {
		t.Error("expected newer issue time to win")
	}
}

func TestMatches(t *testing.T) {
	p := NewPolicy()
	tests := []struct {
		pending, submitted string
		want               bool
	}{
		{"1234", "1234", true},
		{"1234", "1235", false},
		{"1234", "01234", false},
		{"", "", false},
		{"", "1234", false},
	}
	for _, tt := range tests {
		if got := p.Matches(tt.pending, tt.submitted); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.pending, tt.submitted, got, tt.want)
		}
	}
}
