package models

import "time"

// EventEnvelope is the canonical wrapper around every event on the bus.
// EventID is globally unique per logical occurrence and is the sole
// idempotency key; the envelope is immutable once published.
type EventEnvelope struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	OccurredAt    time.Time              `json:"occurred_at"`
	Producer      string                 `json:"producer"`
	Version       int                    `json:"version"`
	TraceID       string                 `json:"trace_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
}

// Header keys carried alongside the serialized envelope on the transport.
const (
	HeaderEventType = "event-type"
	HeaderEventID   = "event-id"
	HeaderTraceID   = "trace-id"
)

type EventEnvelopeBuilder struct {
	envelope *EventEnvelope
}

func NewEventEnvelopeBuilder() *EventEnvelopeBuilder {
	return &EventEnvelopeBuilder{
		envelope: &EventEnvelope{
			Version: 1,
			Payload: make(map[string]interface{}),
		},
	}
}

func (b *EventEnvelopeBuilder) WithEventID(id string) *EventEnvelopeBuilder {
	b.envelope.EventID = id
	return b
}

func (b *EventEnvelopeBuilder) WithEventType(eventType string) *EventEnvelopeBuilder {
	b.envelope.EventType = eventType
	return b
}

func (b *EventEnvelopeBuilder) WithProducer(producer string) *EventEnvelopeBuilder {
	b.envelope.Producer = producer
	return b
}

func (b *EventEnvelopeBuilder) WithVersion(version int) *EventEnvelopeBuilder {
	b.envelope.Version = version
	return b
}

func (b *EventEnvelopeBuilder) WithTraceID(traceID string) *EventEnvelopeBuilder {
	b.envelope.TraceID = traceID
	return b
}

func (b *EventEnvelopeBuilder) WithCorrelationID(correlationID string) *EventEnvelopeBuilder {
	b.envelope.CorrelationID = correlationID
	return b
}

func (b *EventEnvelopeBuilder) WithOccurredAt(t time.Time) *EventEnvelopeBuilder {
	b.envelope.OccurredAt = t
	return b
}

func (b *EventEnvelopeBuilder) WithPayload(payload map[string]interface{}) *EventEnvelopeBuilder {
	b.envelope.Payload = payload
	return b
}

func (b *EventEnvelopeBuilder) Build() *EventEnvelope {
	if b.envelope.OccurredAt.IsZero() {
		b.envelope.OccurredAt = time.Now()
	}
	return b.envelope
}
