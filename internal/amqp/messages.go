package amqp

import (
	"encoding/json"
	"time"
)

// EventMessage carries one outbox event to consumers. The routing key is
// the event type.
type EventMessage struct {
	ID           int64           `json:"id"`
	Type         string          `json:"type"`
	Family       string          `json:"family"`
	AggregateKey string          `json:"aggregate_key"`
	Payload      json.RawMessage `json:"payload"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// NewEventMessage creates a message for an outbox event
func NewEventMessage(id int64, eventType, family, aggregateKey string, payload []byte, occurredAt time.Time) *EventMessage {
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return &EventMessage{
		ID:           id,
		Type:         eventType,
		Family:       family,
		AggregateKey: aggregateKey,
		Payload:      payload,
		OccurredAt:   occurredAt,
	}
}

// ToJSON converts the message to JSON bytes
func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EventMessageFromJSON creates a message from JSON bytes
func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
