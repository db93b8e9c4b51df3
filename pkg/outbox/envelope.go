package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is the envelope version new rows are written with.
const CurrentVersion = 1

// ErrEmptyData is returned when an envelope carries no payload.
var ErrEmptyData = errors.New("envelope data is empty")

// ActorRef names who caused a ledger change. Source separates operator
// requests ("api") from background work ("worker", "cron").
type ActorRef struct {
	ActorID uuid.UUID `json:"actorId"`
	Source  string    `json:"source,omitempty"`
}

// Actor builds an ActorRef, returning nil for the zero id so system events
// serialise without an actor block.
func Actor(id uuid.UUID, source string) *ActorRef {
	if id == uuid.Nil {
		return nil
	}
	return &ActorRef{ActorID: id, Source: source}
}

// PayloadEnvelope wraps every outbox payload and is also the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses raw and rejects envelopes without data.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	trimmed := bytes.TrimSpace(env.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return PayloadEnvelope{}, ErrEmptyData
	}
	if env.Version == 0 {
		env.Version = CurrentVersion
	}
	return env, nil
}
