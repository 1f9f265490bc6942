package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"propstack/internal/config"
	"propstack/internal/constants"
	"propstack/internal/logger"
	"propstack/pkg/errors"
	"propstack/pkg/logging"
	"propstack/pkg/metrics"
	"propstack/pkg/models"
	"propstack/pkg/retry"
	"propstack/pkg/tracing"
)

type KafkaProducer struct {
	writer       *kafka.Writer
	producerName string
	logger       logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, producerName string, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr: kafka.TCP(cfg.Brokers...),
		// Hash balancer keeps all events with the same key (entity id) on
		// one partition, which is what gives per-entity ordering.
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaProducer{writer: w, producerName: producerName, logger: log}
}

func (p *KafkaProducer) Publish(ctx context.Context, eventType string, payload map[string]interface{}, opts PublishOptions) (*PublishResult, error) {
	envelope, topic, err := p.buildEnvelope(ctx, eventType, payload, opts)
	if err != nil {
		return nil, err
	}

	msg, err := p.buildMessage(ctx, topic, opts.Key, *envelope)
	if err != nil {
		return nil, err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.EventsPublishedTotal.WithLabelValues(p.producerName, eventType).Inc()

	return &PublishResult{
		EventID:   envelope.EventID,
		Topic:     topic,
		Partition: -1,
		Offset:    -1,
	}, nil
}

func (p *KafkaProducer) PublishBatch(ctx context.Context, events []OutboundEvent) ([]PublishResult, error) {
	if len(events) == 0 {
		return nil, nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	results := make([]PublishResult, 0, len(events))

	for _, ev := range events {
		envelope, topic, err := p.buildEnvelope(ctx, ev.EventType, ev.Payload, ev.Opts)
		if err != nil {
			return nil, err
		}

		msg, err := p.buildMessage(ctx, topic, ev.Opts.Key, *envelope)
		if err != nil {
			return nil, err
		}

		msgs = append(msgs, msg)
		results = append(results, PublishResult{
			EventID:   envelope.EventID,
			Topic:     topic,
			Partition: -1,
			Offset:    -1,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return nil, fmt.Errorf("failed to write kafka batch: %w", err)
	}

	for _, ev := range events {
		metrics.EventsPublishedTotal.WithLabelValues(p.producerName, ev.EventType).Inc()
	}

	return results, nil
}

func (p *KafkaProducer) PublishEnvelope(ctx context.Context, topic string, envelope models.EventEnvelope) error {
	msg, err := p.buildMessage(ctx, topic, envelope.EventID, envelope)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

func (p *KafkaProducer) buildEnvelope(ctx context.Context, eventType string, payload map[string]interface{}, opts PublishOptions) (*models.EventEnvelope, string, error) {
	topic, err := models.TopicFor(eventType)
	if err != nil {
		return nil, "", err
	}

	eventID := opts.EventID
	if eventID == "" {
		eventID = uuid.New().String()
	}

	traceID := opts.TraceID
	if traceID == "" {
		traceID = logging.GetTraceID(ctx)
	}
	if traceID == "" {
		traceID = uuid.New().String()
	}

	version := opts.Version
	if version <= 0 {
		version = 1
	}

	envelope := models.NewEventEnvelopeBuilder().
		WithEventID(eventID).
		WithEventType(eventType).
		WithProducer(p.producerName).
		WithVersion(version).
		WithTraceID(traceID).
		WithCorrelationID(opts.CorrelationID).
		WithPayload(payload).
		Build()

	return envelope, topic, nil
}

func (p *KafkaProducer) buildMessage(ctx context.Context, topic, key string, envelope models.EventEnvelope) (kafka.Message, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	headers := []kafka.Header{
		{Key: models.HeaderEventType, Value: []byte(envelope.EventType)},
		{Key: models.HeaderEventID, Value: []byte(envelope.EventID)},
		{Key: models.HeaderTraceID, Value: []byte(envelope.TraceID)},
	}
	headers = tracing.InjectTraceContext(ctx, headers)

	if key == "" {
		key = envelope.EventID
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   body,
		Headers: headers,
		Time:    time.Now(),
	}, nil
}

type subscription struct {
	topic string
	gate  *pauseGate
}

type KafkaConsumer struct {
	cfg           config.KafkaConfig
	wg            sync.WaitGroup
	mu            sync.Mutex
	subscriptions map[string]*subscription
	fromBeginning bool
	readers       []*kafka.Reader
	dlqProducer   Producer
	serviceName   string
	logger        logger.Logger
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	consumer := &KafkaConsumer{
		cfg:           cfg,
		subscriptions: make(map[string]*subscription),
		serviceName:   "unknown",
		logger:        log,
	}

	if cfg.DLQTopic != "" {
		consumer.dlqProducer = NewKafkaProducer(cfg, "dlq", log)
	}

	return consumer
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

func (c *KafkaConsumer) Subscribe(topics []string, opts SubscribeOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fromBeginning = opts.FromBeginning
	for _, topic := range topics {
		if _, ok := c.subscriptions[topic]; ok {
			continue
		}
		c.subscriptions[topic] = &subscription{
			topic: topic,
			gate:  newPauseGate(),
		}
	}
}

// Pause stops delivery for the named topics without disconnecting. In-flight
// messages finish; the fetch loop blocks until Resume.
func (c *KafkaConsumer) Pause(topics ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, topic := range topics {
		if sub, ok := c.subscriptions[topic]; ok {
			sub.gate.pause()
		}
	}
}

func (c *KafkaConsumer) Resume(topics ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, topic := range topics {
		if sub, ok := c.subscriptions[topic]; ok {
			sub.gate.resume()
		}
	}
}

func (c *KafkaConsumer) Run(ctx context.Context, handler HandlerFunc) error {
	c.mu.Lock()
	if len(c.subscriptions) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("no topics subscribed")
	}

	startOffset := kafka.LastOffset
	if c.fromBeginning {
		startOffset = kafka.FirstOffset
	}

	for _, sub := range c.subscriptions {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			GroupID:     c.cfg.GroupID,
			Topic:       sub.topic,
			MinBytes:    10e3,
			MaxBytes:    10e6,
			StartOffset: startOffset,
		})
		c.readers = append(c.readers, reader)

		c.wg.Add(1)
		go c.consumeLoop(ctx, reader, sub, handler)
	}
	c.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) consumeLoop(ctx context.Context, reader *kafka.Reader, sub *subscription, handler HandlerFunc) {
	defer c.wg.Done()

	loopCtx := logging.WithServiceName(ctx, c.serviceName)
	c.logger.InfowCtx(loopCtx, "Started consuming",
		"topic", sub.topic,
		"group_id", c.cfg.GroupID,
	)

	for {
		if err := sub.gate.wait(ctx); err != nil {
			c.logger.InfowCtx(loopCtx, "Stopped consuming", "topic", sub.topic, "reason", "context canceled")
			return
		}

		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(loopCtx, "Stopped consuming", "topic", sub.topic, "reason", "context canceled")
				return
			}
			c.logger.ErrorwCtx(loopCtx, "Error fetching kafka message",
				"error", err,
				"topic", sub.topic,
			)
			time.Sleep(time.Second)
			continue
		}

		c.handleMessage(ctx, reader, sub.topic, m, handler)
	}
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, reader *kafka.Reader, topic string, m kafka.Message, handler HandlerFunc) {
	var envelope models.EventEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to unmarshal envelope, skipping message",
			"error", err,
			"topic", topic,
		)
		_ = reader.CommitMessages(ctx, m)
		return
	}

	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "bus.consume", m.Headers)
	defer span.End()

	if envelope.TraceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, envelope.TraceID)
	}
	msgCtx = logging.WithEventID(msgCtx, envelope.EventID)
	msgCtx = logging.WithServiceName(msgCtx, c.serviceName)

	metrics.EventsConsumedTotal.WithLabelValues(c.serviceName, envelope.EventType).Inc()

	if err := c.processWithRetry(msgCtx, envelope, handler, topic); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to process event after retries",
			"error", err,
			"topic", topic,
			"event_type", envelope.EventType,
		)
		if c.dlqProducer != nil && c.cfg.DLQTopic != "" {
			if dlqErr := c.sendToDLQ(msgCtx, envelope, err, topic); dlqErr != nil {
				c.logger.ErrorwCtx(msgCtx, "Failed to dead-letter event",
					"error", dlqErr,
					"topic", topic,
				)
			}
		} else {
			c.logger.WarnwCtx(msgCtx, "No DLQ configured, dropping event effect",
				"topic", topic,
				"event_type", envelope.EventType,
			)
		}
	}

	// The offset commits regardless of handler outcome: a permanently failing
	// handler must not wedge its partition.
	if err := reader.CommitMessages(ctx, m); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to commit offset",
			"error", err,
			"topic", topic,
		)
	}
}

func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	readers := c.readers
	c.mu.Unlock()

	var err error
	for _, reader := range readers {
		if closeErr := reader.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.wg.Wait()
	return err
}

func (c *KafkaConsumer) processWithRetry(ctx context.Context, envelope models.EventEnvelope, handler HandlerFunc, topic string) error {
	policy := retry.DefaultPolicy()

	if c.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.cfg.Retry.MaxAttempts
	}
	if c.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.cfg.Retry.InitialInterval
	}
	if c.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = c.cfg.Retry.MaxInterval
	}
	if c.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = c.cfg.Retry.Multiplier
	}
	if c.cfg.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = c.cfg.Retry.MaxElapsedTime
	}

	return retry.RetryWithCallback(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during event processing",
					"error", err,
					"topic", topic,
				)
			}
		}()
		return handler(ctx, envelope)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying event processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
}

func (c *KafkaConsumer) sendToDLQ(ctx context.Context, envelope models.EventEnvelope, originalErr error, sourceTopic string) error {
	if envelope.Payload == nil {
		envelope.Payload = make(map[string]interface{})
	}
	envelope.Payload["_dlq"] = map[string]interface{}{
		"reason":       originalErr.Error(),
		"source_topic": sourceTopic,
		"failed_at":    time.Now(),
	}

	if err := c.dlqProducer.PublishEnvelope(ctx, c.cfg.DLQTopic, envelope); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.DLQEventsTotal.WithLabelValues(c.serviceName, sourceTopic, "max_retries_exceeded").Inc()
	c.logger.InfowCtx(ctx, "Event sent to DLQ",
		"source_topic", sourceTopic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", originalErr.Error(),
	)

	return nil
}

// pauseGate blocks a fetch loop while its topic is paused.
type pauseGate struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

func newPauseGate() *pauseGate {
	return &pauseGate{resumed: make(chan struct{})}
}

func (g *pauseGate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.resumed = make(chan struct{})
	}
}

func (g *pauseGate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.resumed)
	}
}

func (g *pauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	ch := g.resumed
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
