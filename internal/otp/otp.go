// Package otp implements the one-time code policy used during registration.
//
// It decides how codes are drawn, when a new code may be issued, and whether a
// submitted code matches the one outstanding. It performs no I/O.
package otp

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"
)

// Code domain and default timing.
const (
	// MinCode is the smallest code that can be issued.
	MinCode = 1000
	// MaxCode is the largest code that can be issued.
	MaxCode = 9999
	// DefaultCooldown is the minimum elapsed time before a new code may be issued.
	DefaultCooldown = 60 * time.Second
)

// Source draws a uniform integer in [0, n).
type Source interface {
	IntN(n int) int
}

// cryptoSource draws from crypto/rand.
type cryptoSource struct{}

func (cryptoSource) IntN(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand.Reader does not fail on supported platforms.
		panic("otp: crypto/rand failed: " + err.Error())
	}
	return int(v.Int64())
}

// Opts holds configuration options for a Policy.
type Opts struct {
	Cooldown time.Duration
	Source   Source
}

// Option defines a configuration option for a Policy.
type Option func(*Opts)

// WithCooldown overrides the cooldown window.
func WithCooldown(d time.Duration) Option {
	return func(o *Opts) { o.Cooldown = d }
}

// WithSource injects the randomness used to draw codes.
func WithSource(s Source) Option {
	return func(o *Opts) { o.Source = s }
}

// Policy issues and checks one-time codes.
type Policy struct {
	cooldown time.Duration
	source   Source
}

// NewPolicy creates a Policy. Defaults: 60s cooldown, crypto/rand source.
func NewPolicy(opts ...Option) *Policy {
	cfg := Opts{Cooldown: DefaultCooldown, Source: cryptoSource{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.Source == nil {
		cfg.Source = cryptoSource{}
	}
	return &Policy{cooldown: cfg.Cooldown, source: cfg.Source}
}

// Cooldown returns the configured cooldown window.
func (p *Policy) Cooldown() time.Duration {
	return p.cooldown
}

// NewCode draws a fresh 4-digit code uniformly from [MinCode, MaxCode].
func (p *Policy) NewCode() string {
	return strconv.Itoa(MinCode + p.source.IntN(MaxCode-MinCode+1))
}

// CooldownElapsed reports whether at least the cooldown window has passed since the
// reference time. A nil reference has no cooldown to honour.
func (p *Policy) CooldownElapsed(since *time.Time, now time.Time) bool {
	return p.Remaining(since, now) == 0
}

// Remaining returns how much of the cooldown window is left, or zero once elapsed.
func (p *Policy) Remaining(since *time.Time, now time.Time) time.Duration {
	if since == nil {
		return 0
	}
	left := p.cooldown - now.Sub(*since)
	if left < 0 {
		return 0
	}
	return left
}

// ResendReference picks the timestamp an explicit resend is measured from: the later
// of the last explicit resend request and the current code's issue time. A code issued
// by a wrong-guess auto-resend therefore restarts the cooldown.
func ResendReference(lastResendRequestedAt, codeIssuedAt *time.Time) *time.Time {
	switch {
	case lastResendRequestedAt == nil:
		return codeIssuedAt
	case codeIssuedAt == nil:
		return lastResendRequestedAt
	case codeIssuedAt.After(*lastResendRequestedAt):
		return codeIssuedAt
	default:
		return lastResendRequestedAt
	}
}

// Matches compares a submitted code to the pending one as strings. An absent pending
// code never matches.
func (p *Policy) Matches(pending, submitted string) bool {
	if pending == "" {
		return false
	}
	return pending == submitted
}
