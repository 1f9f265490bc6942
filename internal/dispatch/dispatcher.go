package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"propstack/internal/config"
	"propstack/internal/constants"
	"propstack/internal/logger"
	"propstack/pkg/metrics"
	"propstack/pkg/models"
	"propstack/pkg/tracing"
)

// Handler processes one decoded envelope. Handlers for the same partition
// never run concurrently; the consumer awaits the full chain before
// committing the offset.
type Handler func(ctx context.Context, envelope models.EventEnvelope) error

// Dispatcher turns at-least-once delivery into at-most-once handler
// execution per event id. Handler registration happens at startup; the
// table is frozen once Start is called so lookups need no locking.
type Dispatcher struct {
	serviceName  string
	store        IdempotencyStore
	onStoreError string
	logger       logger.Logger

	mu       sync.Mutex
	started  bool
	handlers map[string][]Handler
	wildcard []Handler
}

func NewDispatcher(serviceName string, store IdempotencyStore, cfg config.DispatchConfig, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		serviceName:  serviceName,
		store:        store,
		onStoreError: cfg.OnStoreError,
		logger:       log,
		handlers:     make(map[string][]Handler),
	}
}

// On registers a handler for one event type. Panics after Start: the
// dispatch table is static by design, resolved before the consumer runs.
func (d *Dispatcher) On(eventType string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		panic("dispatch: handler registered after Start")
	}
	if !models.KnownEventType(eventType) {
		panic(fmt.Sprintf("dispatch: unknown event type %q", eventType))
	}
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// OnAll registers a wildcard handler invoked for every event type, after the
// type-specific handlers.
func (d *Dispatcher) OnAll(handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		panic("dispatch: handler registered after Start")
	}
	d.wildcard = append(d.wildcard, handler)
}

// Start freezes the handler table. Call before the consumer runs.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
}

// Dispatch is the broker-facing entry point. An error return means the
// delivery should be retried (and eventually dead-lettered) by the consumer;
// the event id is only marked processed after every handler succeeded, so a
// retried chain re-runs from the top.
func (d *Dispatcher) Dispatch(ctx context.Context, envelope models.EventEnvelope) error {
	ctx, span := tracing.GetTracer(d.serviceName).Start(ctx, "dispatch.dispatch")
	defer span.End()

	if envelope.EventID == "" {
		d.logger.WarnwCtx(ctx, "Envelope without event id, skipping",
			"event_type", envelope.EventType,
		)
		metrics.EventsDispatchedTotal.WithLabelValues(d.serviceName, envelope.EventType, "invalid").Inc()
		return nil
	}

	seen, err := d.store.Seen(ctx, envelope.EventID)
	if err != nil {
		if d.onStoreError == constants.FallbackDeny {
			metrics.FallbackUsageTotal.WithLabelValues("dispatch", "deny_on_error", "store_error").Inc()
			return fmt.Errorf("idempotency check failed for event %s: %w", envelope.EventID, err)
		}
		metrics.FallbackUsageTotal.WithLabelValues("dispatch", "allow_on_error", "store_error").Inc()
		d.logger.WarnwCtx(ctx, "Idempotency store error, processing without dedup (fallback: allow)",
			"error", err,
		)
		seen = false
	}

	if seen {
		metrics.DedupSkippedTotal.WithLabelValues(d.serviceName).Inc()
		metrics.EventsDispatchedTotal.WithLabelValues(d.serviceName, envelope.EventType, "duplicate").Inc()
		d.logger.InfowCtx(ctx, "Skipping already processed event",
			"event_type", envelope.EventType,
		)
		return nil
	}

	chain := d.handlerChain(envelope.EventType)
	if len(chain) == 0 {
		// Not an error: this consumer simply has no interest in the type.
		metrics.EventsDispatchedTotal.WithLabelValues(d.serviceName, envelope.EventType, "unhandled").Inc()
		d.logger.WarnwCtx(ctx, "No handlers registered for event type, acknowledging",
			"event_type", envelope.EventType,
		)
		return nil
	}

	start := time.Now()
	for _, handler := range chain {
		if err := handler(ctx, envelope); err != nil {
			metrics.EventsDispatchedTotal.WithLabelValues(d.serviceName, envelope.EventType, "error").Inc()
			return fmt.Errorf("handler failed for event %s (%s): %w", envelope.EventID, envelope.EventType, err)
		}
	}
	metrics.ObserveHandlerDuration(d.serviceName, envelope.EventType, time.Since(start))

	if err := d.store.Mark(ctx, envelope.EventID); err != nil {
		// The handlers already ran; a mark failure only weakens dedup for
		// this id, it must not fail the delivery.
		d.logger.WarnwCtx(ctx, "Failed to record processed event id",
			"error", err,
		)
	}

	metrics.EventsDispatchedTotal.WithLabelValues(d.serviceName, envelope.EventType, "processed").Inc()
	return nil
}

func (d *Dispatcher) handlerChain(eventType string) []Handler {
	typed := d.handlers[eventType]
	if len(d.wildcard) == 0 {
		return typed
	}
	chain := make([]Handler, 0, len(typed)+len(d.wildcard))
	chain = append(chain, typed...)
	chain = append(chain, d.wildcard...)
	return chain
}
