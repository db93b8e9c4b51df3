package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox"
)

// DecodeFunc turns envelope data into a typed payload.
type DecodeFunc func(data json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// PayloadDecoders resolves consumer-side payloads by event type and envelope
// version, so a consumer keeps reading old messages after a payload change.
type PayloadDecoders struct {
	mu    sync.RWMutex
	byKey map[decoderKey]DecodeFunc
}

func NewPayloadDecoders() *PayloadDecoders {
	return &PayloadDecoders{byKey: make(map[decoderKey]DecodeFunc)}
}

// Register installs fn for eventType at version, replacing any earlier one.
func (d *PayloadDecoders) Register(eventType enums.OutboxEventType, version int, fn DecodeFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byKey[decoderKey{eventType: eventType, version: version}] = fn
}

// Decode runs the decoder for env.Version. A missing decoder is non-retryable.
func (d *PayloadDecoders) Decode(eventType enums.OutboxEventType, env outbox.PayloadEnvelope) (any, error) {
	d.mu.RLock()
	fn, ok := d.byKey[decoderKey{eventType: eventType, version: env.Version}]
	d.mu.RUnlock()
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("no decoder for %s@v%d", eventType, env.Version))
	}
	return fn(env.Data)
}

// JSON decodes into a fresh *T.
func JSON[T any]() DecodeFunc {
	return func(data json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(data, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}
