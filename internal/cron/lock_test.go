package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) DeleteIfValue(_ context.Context, key, value string) (bool, error) {
	if m.data[key] != value {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func (m *memoryStore) LockKey(job string) string { return "mfg:lock:" + job }

func TestRedisLockerExclusive(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	locker, err := NewRedisLocker(store)
	require.NoError(t, err)

	lease, ok, err := locker.TryLock(ctx, "ledger-reconcile", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Minute, store.ttls["mfg:lock:ledger-reconcile"])

	_, ok, err = locker.TryLock(ctx, "ledger-reconcile", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	other, ok, err := locker.TryLock(ctx, "production-retry", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	_, ok, err = locker.TryLock(ctx, "ledger-reconcile", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLeaseLeavesForeignOwner(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	locker, err := NewRedisLocker(store)
	require.NoError(t, err)

	lease, ok, err := locker.TryLock(ctx, "ledger-reconcile", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// the lease expired and another worker took the job over
	store.data["mfg:lock:ledger-reconcile"] = "someone-else"
	require.NoError(t, lease.Release(ctx))
	assert.Equal(t, "someone-else", store.data["mfg:lock:ledger-reconcile"])

	delete(store.data, "mfg:lock:ledger-reconcile")
	require.NoError(t, lease.Release(ctx))
}

func TestRedisLockerValidates(t *testing.T) {
	_, err := NewRedisLocker(nil)
	assert.Error(t, err)

	locker, err := NewRedisLocker(newMemoryStore())
	require.NoError(t, err)
	_, _, err = locker.TryLock(context.Background(), "", time.Minute)
	assert.Error(t, err)
	_, _, err = locker.TryLock(context.Background(), "job", 0)
	assert.Error(t, err)
}
