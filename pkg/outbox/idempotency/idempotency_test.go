package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/redis"
)

type memoryStore struct {
	data map[string]any
	ttls map[string]time.Duration
	err  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]any{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return redis.Key("idempotency", scope, id)
}

func TestClaimOnce(t *testing.T) {
	store := newMemoryStore()
	manager, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)
	manager.now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }

	eventID := uuid.New()
	claimed, err := manager.Claim(context.Background(), "production-consumer", eventID)
	require.NoError(t, err)
	assert.True(t, claimed)

	key := "mfg:idempotency:consumer:production-consumer:" + eventID.String()
	assert.Equal(t, "2026-03-02T08:00:00Z", store.data[key])
	assert.Equal(t, 24*time.Hour, store.ttls[key])

	claimed, err = manager.Claim(context.Background(), "production-consumer", eventID)
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = manager.Claim(context.Background(), "audit-consumer", eventID)
	require.NoError(t, err)
	assert.True(t, claimed, "claims are per consumer")
}

func TestReleaseAllowsRetry(t *testing.T) {
	manager, err := NewManager(newMemoryStore(), time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	_, err = manager.Claim(context.Background(), "production-consumer", eventID)
	require.NoError(t, err)
	require.NoError(t, manager.Release(context.Background(), "production-consumer", eventID))

	claimed, err := manager.Claim(context.Background(), "production-consumer", eventID)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimErrors(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("redis down")
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	_, err = manager.Claim(context.Background(), "production-consumer", uuid.New())
	assert.Error(t, err)
	_, err = manager.Claim(context.Background(), "", uuid.New())
	assert.Error(t, err)
	_, err = manager.Claim(context.Background(), "production-consumer", uuid.Nil)
	assert.Error(t, err)
}

func TestNewManagerValidates(t *testing.T) {
	_, err := NewManager(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewManager(newMemoryStore(), 0)
	assert.Error(t, err)
}
