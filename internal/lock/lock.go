// Package lock guards imports so that only one runs per month at a time.
// A second caller is rejected immediately, never queued.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

var ErrBusy = errors.New("import already in progress")

type ReleaseFunc func(ctx context.Context) error

type Latch interface {
	TryAcquire(ctx context.Context, key string) (ReleaseFunc, error)
}

type LocalLatch struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLatch() *LocalLatch {
	return &LocalLatch{held: map[string]bool{}}
}

func (l *LocalLatch) TryAcquire(_ context.Context, key string) (ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, ErrBusy
	}
	l.held[key] = true

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}

// RedisLatch shares the guard across processes. The lock expires after ttl
// if its holder dies without releasing it.
type RedisLatch struct {
	locker *redislock.Client
	ttl    time.Duration
	prefix string
}

func NewRedisLatch(client *redis.Client, ttl time.Duration) *RedisLatch {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLatch{
		locker: redislock.New(client),
		ttl:    ttl,
		prefix: "storeledger:lock:",
	}
}

func (l *RedisLatch) TryAcquire(ctx context.Context, key string) (ReleaseFunc, error) {
	held, err := l.locker.Obtain(ctx, l.prefix+key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("obtain import lock: %w", err)
	}
	return func(ctx context.Context) error {
		err := held.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}
