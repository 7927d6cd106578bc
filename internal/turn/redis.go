package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLockTTL bounds how long a crashed holder can block an identity.
	DefaultLockTTL = 30 * time.Second
	// DefaultRetryInterval is the poll interval while another node holds the lock.
	DefaultRetryInterval = 25 * time.Millisecond
	// DefaultKeyPrefix namespaces turn locks in Redis.
	DefaultKeyPrefix = "chatbot:turn:"

	releaseTimeout = 5 * time.Second
)

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the expiry only while the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// NewRedisClient configures a Redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// RedisOpts holds configuration options for the RedisLocker.
type RedisOpts struct {
	TTL           time.Duration
	RetryInterval time.Duration
	RenewInterval time.Duration
	KeyPrefix     string
}

// RedisOption defines a configuration option for the RedisLocker.
type RedisOption func(*RedisOpts)

// WithTTL sets the lock expiry.
func WithTTL(d time.Duration) RedisOption {
	return func(o *RedisOpts) { o.TTL = d }
}

// WithRetryInterval sets the acquisition poll interval.
func WithRetryInterval(d time.Duration) RedisOption {
	return func(o *RedisOpts) { o.RetryInterval = d }
}

// WithRenewInterval sets how often a held lock's expiry is extended. Defaults to a
// third of the TTL.
func WithRenewInterval(d time.Duration) RedisOption {
	return func(o *RedisOpts) { o.RenewInterval = d }
}

// WithKeyPrefix sets the Redis key namespace.
func WithKeyPrefix(p string) RedisOption {
	return func(o *RedisOpts) { o.KeyPrefix = p }
}

// RedisLocker is a cross-process per-key lock built on SET NX with expiry. While held,
// the expiry is renewed so a slow turn keeps its lease.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	renew  time.Duration
	prefix string
}

// NewRedisLocker creates a RedisLocker on client.
func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	cfg := RedisOpts{TTL: DefaultLockTTL, RetryInterval: DefaultRetryInterval, KeyPrefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = cfg.TTL / 3
	}
	return &RedisLocker{
		client: client,
		ttl:    cfg.TTL,
		retry:  cfg.RetryInterval,
		renew:  cfg.RenewInterval,
		prefix: cfg.KeyPrefix,
	}
}

// Lock polls until key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	_, release, err := l.LockLease(ctx, key)
	return release, err
}

// LockLease acquires key like Lock and also returns a context derived from ctx that
// is cancelled if the lease is lost before release.
func (l *RedisLocker) LockLease(ctx context.Context, key string) (context.Context, func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	if err := l.acquire(ctx, redisKey, token); err != nil {
		return nil, nil, fmt.Errorf("acquire turn lock %s: %w", key, err)
	}

	leaseCtx, lost := context.WithCancel(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(redisKey, token, lost, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			lost()
			l.unlock(redisKey, token)
		})
	}
	return leaseCtx, release, nil
}

func (l *RedisLocker) acquire(ctx context.Context, redisKey, token string) error {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// keepAlive extends the lease every renew interval until stop is closed. When the key
// no longer holds token the lease is gone and lost is called.
func (l *RedisLocker) keepAlive(redisKey, token string, lost context.CancelFunc, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.renew)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.renew)
		renewed, err := renewScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			slog.Warn("RedisLocker.keepAlive: renew failed", "key", redisKey, "error", err)
			continue
		}
		if renewed == 0 {
			slog.Error("RedisLocker.keepAlive: lease lost, cancelling turn", "key", redisKey)
			lost()
			return
		}
	}
}

func (l *RedisLocker) unlock(redisKey, token string) {
	// The turn context may already be cancelled; release on a fresh one.
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := unlockScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
		slog.Error("RedisLocker.release: unlock failed", "key", redisKey, "error", err)
	}
}
