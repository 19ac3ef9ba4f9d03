// Package coordination provides a Redis lock so scheduled tasks never run
// concurrently across replicas.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLockTTL is the default lock time-to-live.
	DefaultLockTTL = 2 * time.Minute

	keyPrefix = "catalog-sync:lock:"
)

var (
	// ErrLockNotAcquired is returned when another holder owns the lock.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrLockNotHeld is returned when releasing or extending a lock this
	// instance no longer owns.
	ErrLockNotHeld = errors.New("lock not held")
)

var (
	unlockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// DistributedLock is a single-holder Redis lock identified by a random token.
type DistributedLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewDistributedLock creates a lock for task.
func NewDistributedLock(client *redis.Client, task string, ttl time.Duration) *DistributedLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &DistributedLock{
		client: client,
		key:    keyPrefix + task,
		token:  uuid.New().String(),
		ttl:    ttl,
	}
}

// TryLock attempts to acquire the lock without blocking.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Unlock releases the lock if this instance still holds it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	result, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend resets the lock TTL if this instance still holds it.
func (l *DistributedLock) Extend(ctx context.Context) error {
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Key returns the Redis key.
func (l *DistributedLock) Key() string {
	return l.key
}

// Locker hands out task locks. A nil *Locker runs every task unlocked,
// which is how the service behaves without Redis.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLocker creates a locker. client may be nil.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client, ttl: ttl}
}

// Run executes fn only if the lock for task is free, keeping the lock alive
// while fn runs. It returns ErrLockNotAcquired when another holder has it.
func (l *Locker) Run(ctx context.Context, task string, fn func(context.Context) error) error {
	if l == nil {
		return fn(ctx)
	}

	lock := NewDistributedLock(l.client, task, l.ttl)
	acquired, err := lock.TryLock(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrLockNotAcquired
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(lock.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if extendErr := lock.Extend(ctx); extendErr != nil {
					return
				}
			}
		}
	}()

	runErr := fn(ctx)

	close(stop)
	<-done

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if unlockErr := lock.Unlock(releaseCtx); unlockErr != nil && runErr == nil {
		return unlockErr
	}
	return runErr
}
