package registry

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox/payloads"
)

func TestPayloadDecodersByVersion(t *testing.T) {
	decoders := NewPayloadDecoders()
	decoders.Register(enums.EventProductionRecorded, 1, JSON[payloads.ProductionRecordedEvent]())

	eventID := uuid.New()
	env := outbox.PayloadEnvelope{
		Version: 1,
		Data:    json.RawMessage(`{"production_event_id":"` + eventID.String() + `","quantity_produced":"10"}`),
	}
	out, err := decoders.Decode(enums.EventProductionRecorded, env)
	require.NoError(t, err)
	recorded, ok := out.(*payloads.ProductionRecordedEvent)
	require.True(t, ok)
	assert.Equal(t, eventID, recorded.ProductionEventID)
	assert.Equal(t, "10", recorded.QuantityProduced.String())

	env.Version = 2
	_, err = decoders.Decode(enums.EventProductionRecorded, env)
	var nonRetryable NonRetryableError
	assert.True(t, errors.As(err, &nonRetryable))
}

func TestPayloadDecodersRejectsMalformedData(t *testing.T) {
	decoders := NewPayloadDecoders()
	decoders.Register(enums.EventReservationReleased, 1, JSON[payloads.ReservationReleasedEvent]())

	_, err := decoders.Decode(enums.EventReservationReleased, outbox.PayloadEnvelope{Version: 1, Data: json.RawMessage(`[1,2]`)})
	assert.Error(t, err)
}
