package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/musicx/musicx-backend/pkg/enums"
)

const currentEnvelopeVersion = 1

var errEmptyData = errors.New("envelope has no data")

// ActorRef is the shopper or admin behind an order change. Cron and gateway
// driven events carry none.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope is what outbox_events.payload holds and what subscribers
// receive as the message body. EventID is stable across redeliveries.
type PayloadEnvelope struct {
	Version     int                   `json:"version"`
	EventID     string                `json:"eventId"`
	EventType   enums.OutboxEventType `json:"eventType,omitempty"`
	AggregateID uuid.UUID             `json:"aggregateId,omitzero"`
	OccurredAt  time.Time             `json:"occurredAt"`
	Actor       *ActorRef             `json:"actor,omitempty"`
	Data        json.RawMessage       `json:"data"`
}

// DecodeEnvelope parses a stored payload and rejects one without data.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, errEmptyData
	}
	return env, nil
}
