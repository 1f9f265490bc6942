package property

import (
	"context"
	"fmt"

	"propstack/internal/logger"
	apperrors "propstack/pkg/errors"
	"propstack/pkg/models"
)

// DecisionConsumer applies moderation outcomes to properties. All calls go
// through the regular lifecycle operations with the system actor, so the
// transition table stays the single authority on what is legal.
type DecisionConsumer struct {
	service *Service
	logger  logger.Logger
}

func NewDecisionConsumer(service *Service, log logger.Logger) *DecisionConsumer {
	return &DecisionConsumer{service: service, logger: log}
}

func (c *DecisionConsumer) HandleAutoApproved(ctx context.Context, envelope models.EventEnvelope) error {
	propertyID, err := payloadString(envelope.Payload, "property_id")
	if err != nil {
		return err
	}
	_, err = c.service.Approve(ctx, propertyID, "", payloadScore(envelope.Payload), SystemActor)
	return c.swallowStale(ctx, propertyID, envelope.EventType, err)
}

func (c *DecisionConsumer) HandleAutoRejected(ctx context.Context, envelope models.EventEnvelope) error {
	propertyID, err := payloadString(envelope.Payload, "property_id")
	if err != nil {
		return err
	}
	reason, _ := envelope.Payload["reason"].(string)
	_, err = c.service.Reject(ctx, propertyID, reason, "", payloadScore(envelope.Payload), SystemActor)
	return c.swallowStale(ctx, propertyID, envelope.EventType, err)
}

func (c *DecisionConsumer) HandleTaskDecided(ctx context.Context, envelope models.EventEnvelope) error {
	entityType, _ := envelope.Payload["entity_type"].(string)
	if entityType != "PROPERTY" {
		return nil
	}
	propertyID, err := payloadString(envelope.Payload, "entity_id")
	if err != nil {
		return err
	}
	decision, err := payloadString(envelope.Payload, "decision")
	if err != nil {
		return err
	}
	reviewerID, _ := envelope.Payload["reviewer_id"].(string)
	notes, _ := envelope.Payload["notes"].(string)

	switch decision {
	case "APPROVE":
		_, err = c.service.Approve(ctx, propertyID, reviewerID, nil, SystemActor)
	case "REJECT":
		_, err = c.service.Reject(ctx, propertyID, notes, reviewerID, nil, SystemActor)
	case "REQUEST_CHANGES":
		_, err = c.service.RequestChanges(ctx, propertyID, notes, reviewerID, SystemActor)
	default:
		return apperrors.ErrValidation.AsFatal().WithDetail("message",
			fmt.Sprintf("unknown moderation decision %q", decision))
	}
	return c.swallowStale(ctx, propertyID, envelope.EventType, err)
}

// swallowStale drops transition errors caused by out-of-order or redelivered
// decisions (the property already moved on). Anything else propagates so the
// broker can retry.
func (c *DecisionConsumer) swallowStale(ctx context.Context, propertyID, eventType string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsInvalidTransition(err) || apperrors.IsNotFound(err) {
		c.logger.WarnwCtx(ctx, "Moderation decision no longer applicable",
			"property_id", propertyID, "event_type", eventType, "error", err)
		return nil
	}
	return err
}

func payloadScore(payload map[string]interface{}) *int {
	raw, ok := payload["auto_score"].(float64)
	if !ok {
		return nil
	}
	score := int(raw)
	return &score
}
