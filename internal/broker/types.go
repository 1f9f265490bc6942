package broker

import (
	"context"

	"propstack/pkg/models"
)

// PublishOptions carries per-event publish parameters. Key selects the
// partition (entity id, so events for one entity stay ordered); EventID and
// TraceID are generated when absent.
type PublishOptions struct {
	Key           string
	EventID       string
	TraceID       string
	CorrelationID string
	Version       int
}

// PublishResult reports where an event landed. Partition and Offset are -1
// when the transport's batching writer does not report placement.
type PublishResult struct {
	EventID   string
	Topic     string
	Partition int
	Offset    int64
}

// OutboundEvent is one entry of a batch publish.
type OutboundEvent struct {
	EventType string
	Payload   map[string]interface{}
	Opts      PublishOptions
}

type Producer interface {
	// Publish wraps payload in an envelope, resolves the topic from the
	// registry and sends it. Transport errors surface to the caller; the
	// producer never retries on its own.
	Publish(ctx context.Context, eventType string, payload map[string]interface{}, opts PublishOptions) (*PublishResult, error)

	// PublishBatch sends all events in a single write call. Delivery is only
	// as atomic as the transport makes it.
	PublishBatch(ctx context.Context, events []OutboundEvent) ([]PublishResult, error)

	// PublishEnvelope sends an already-built envelope to an explicit topic.
	// Used for dead-lettering, where the original envelope must be preserved.
	PublishEnvelope(ctx context.Context, topic string, envelope models.EventEnvelope) error

	Close() error
}

type SubscribeOptions struct {
	FromBeginning bool
}

// HandlerFunc receives every decoded envelope from a subscribed topic.
// The consumer commits the offset only after the handler returns.
type HandlerFunc func(ctx context.Context, envelope models.EventEnvelope) error

type Consumer interface {
	Subscribe(topics []string, opts SubscribeOptions)
	Run(ctx context.Context, handler HandlerFunc) error
	Pause(topics ...string)
	Resume(topics ...string)
	SetServiceName(name string)
	Close() error
}
