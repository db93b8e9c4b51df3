package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Locker hands out exclusive, expiring leases on a job name so only one
// worker in the environment runs a job at a time.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
	LockKey(job string) string
}

// RedisLocker implements Locker with SETNX and a TTL so a crashed holder
// cannot wedge a job forever.
type RedisLocker struct {
	store lockStore
}

func NewRedisLocker(store lockStore) (*RedisLocker, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	return &RedisLocker{store: store}, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	if name == "" {
		return nil, false, errors.New("lock name is required")
	}
	if ttl <= 0 {
		return nil, false, errors.New("lock ttl must be positive")
	}
	key := l.store.LockKey(name)
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, owner, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("setnx %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{store: l.store, key: key, owner: owner}, true, nil
}

type redisLease struct {
	store lockStore
	key   string
	owner string
}

// Release deletes the key only while this lease still owns it; an expired
// lease that was taken over is left alone.
func (l *redisLease) Release(ctx context.Context) error {
	if _, err := l.store.DeleteIfValue(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}
