// Package turn serializes conversation turns per identity.
//
// A Coordinator holds an in-process FIFO lock for the identity and, when configured,
// a Redis lock shared with other instances. Both are released on every exit path.
package turn

import (
	"context"
	"fmt"
	"log/slog"
)

// Locker grants exclusive access to a key. The returned func releases it and is
// safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// LeaseLocker is a Locker whose hold can lapse. The context it returns is cancelled
// when the lease is lost, so the turn stops before another holder takes over.
type LeaseLocker interface {
	Locker
	LockLease(ctx context.Context, key string) (context.Context, func(), error)
}

// Opts holds configuration options for the Coordinator.
type Opts struct {
	Remote Locker
}

// Option defines a configuration option for the Coordinator.
type Option func(*Opts)

// WithRemoteLocker adds a cross-process lock acquired after the local one.
func WithRemoteLocker(l Locker) Option {
	return func(o *Opts) { o.Remote = l }
}

// Coordinator runs at most one turn per identity at a time.
type Coordinator struct {
	local  *LocalLocker
	remote Locker
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Coordinator{local: NewLocalLocker(), remote: cfg.Remote}
}

// Do runs fn while holding the identity's turn. Turns for other identities are not
// blocked. The error is fn's, or the lock acquisition error.
func (c *Coordinator) Do(ctx context.Context, identity string, fn func(ctx context.Context) error) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}

	release, err := c.local.Lock(ctx, identity)
	if err != nil {
		return fmt.Errorf("wait for turn of %s: %w", identity, err)
	}
	defer release()

	if c.remote != nil {
		turnCtx, releaseRemote, err := c.lockRemote(ctx, identity)
		if err != nil {
			slog.Error("Coordinator.Do: remote lock failed", "identity", identity, "error", err)
			return fmt.Errorf("acquire remote turn of %s: %w", identity, err)
		}
		defer releaseRemote()
		ctx = turnCtx
	}

	return fn(ctx)
}

func (c *Coordinator) lockRemote(ctx context.Context, identity string) (context.Context, func(), error) {
	if ll, ok := c.remote.(LeaseLocker); ok {
		return ll.LockLease(ctx, identity)
	}
	release, err := c.remote.Lock(ctx, identity)
	return ctx, release, err
}
