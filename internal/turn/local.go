package turn

import (
	"context"
	"sync"
)

// LocalLocker is an in-process per-key mutex granting the lock in arrival order.
// Keys with no holder and no waiters take no memory.
type LocalLocker struct {
	mu     sync.Mutex
	queues map[string]*waitQueue
}

type waitQueue struct {
	waiters []chan struct{}
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{queues: make(map[string]*waitQueue)}
}

// Lock blocks until key is held by the caller or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	q, held := l.queues[key]
	if !held {
		l.queues[key] = &waitQueue{}
		l.mu.Unlock()
		return l.releaser(key), nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return l.releaser(key), nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range q.waiters {
			if w == ch {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				l.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		l.mu.Unlock()
		// The lock was handed to us while ctx expired; pass it on.
		l.release(key)
		return nil, ctx.Err()
	}
}

// Waiting returns the number of callers queued behind the holder of key.
func (l *LocalLocker) Waiting(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if q, ok := l.queues[key]; ok {
		return len(q.waiters)
	}
	return 0
}

func (l *LocalLocker) releaser(key string) func() {
	var once sync.Once
	return func() { once.Do(func() { l.release(key) }) }
}

func (l *LocalLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q, ok := l.queues[key]
	if !ok {
		return
	}
	if len(q.waiters) == 0 {
		delete(l.queues, key)
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	close(next)
}
