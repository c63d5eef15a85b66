package cron

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 5 * time.Minute

// ErrLockLost is returned by Release when the lock expired and another
// worker took it before this cycle finished. The cycle's work is still
// committed; only the exclusivity guarantee was broken.
var ErrLockLost = errors.New("cron lock expired before release")

type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// RedisLock is a single-key lease: SET NX with a TTL to take it, an
// owner-checked delete to give it back.
type RedisLock struct {
	client redisStore
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

func NewRedisLock(client redisStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case client == nil:
		return nil, errors.New("cron lock: redis client required")
	case key == "":
		return nil, errors.New("cron lock: key required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}, nil
}

// Acquire reports whether this worker now holds the lease. The stored value
// names the host so a stuck lock can be traced from redis-cli.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := leaseToken()
	won, err := l.client.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("take lease %s: %w", l.key, err)
	}
	if won {
		l.mu.Lock()
		l.token = token
		l.mu.Unlock()
	}
	return won, nil
}

// Release is a no-op when this worker does not hold the lease.
func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()
	if token == "" {
		return nil
	}

	deleted, err := l.client.CompareAndDelete(ctx, l.key, token)
	if err != nil {
		return fmt.Errorf("give back lease %s: %w", l.key, err)
	}
	if !deleted {
		return ErrLockLost
	}
	return nil
}

func leaseToken() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return host + "/" + uuid.NewString()
}
