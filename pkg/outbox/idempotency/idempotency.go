// Package idempotency guards Pub/Sub consumers against redelivery.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Manager records which outbox events a consumer has taken, keyed
// mfg:idempotency:consumer:<name>:<event_id>. Claims expire after ttl;
// the ledger's own unique constraints cover anything older.
type Manager struct {
	store store
	ttl   time.Duration
	now   func() time.Time
}

func NewManager(s store, ttl time.Duration) (*Manager, error) {
	if s == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("idempotency ttl must be positive")
	}
	return &Manager{store: s, ttl: ttl, now: time.Now}, nil
}

// Claim reports true when this call is the first to take eventID for consumer.
func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	return m.store.SetNX(ctx, key, m.now().UTC().Format(time.RFC3339), m.ttl)
}

// Release drops a claim so a redelivery can try again.
func (m *Manager) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	switch {
	case consumer == "":
		return "", errors.New("consumer name is required")
	case eventID == uuid.Nil:
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("consumer:"+consumer, eventID.String()), nil
}
