package property

import (
	"context"
	"fmt"
	"time"

	"propstack/internal/logger"
	apperrors "propstack/pkg/errors"
	"propstack/pkg/metrics"
	"propstack/pkg/models"
)

// Reconciler keeps property premium tiers consistent with billing state.
// Both handlers are idempotent on their own (re-applying a premium is a
// no-op in SQL), so redelivered subscription events are harmless even when
// the dedup cache has evicted them.
type Reconciler struct {
	repo   Repository
	logger logger.Logger
}

func NewReconciler(repo Repository, log logger.Logger) *Reconciler {
	return &Reconciler{repo: repo, logger: log}
}

func (r *Reconciler) HandleSubscriptionActivated(ctx context.Context, envelope models.EventEnvelope) error {
	userID, err := payloadString(envelope.Payload, "user_id")
	if err != nil {
		return err
	}
	subscriptionID, err := payloadString(envelope.Payload, "subscription_id")
	if err != nil {
		return err
	}

	tier := TierNone
	if pkg, ok := envelope.Payload["package"].(map[string]interface{}); ok {
		if raw, ok := pkg["boost_tier"].(string); ok {
			parsed, valid := ParsePremiumTier(raw)
			if !valid {
				return apperrors.ErrValidation.AsFatal().WithDetail("message",
					fmt.Sprintf("unknown boost tier %q", raw))
			}
			tier = parsed
		}
	}
	if tier == TierNone {
		r.logger.DebugwCtx(ctx, "Subscription carries no boost tier, nothing to reconcile",
			"subscription_id", subscriptionID)
		return nil
	}

	now := time.Now()
	updated, err := r.repo.SetPremiumForOwner(ctx, userID, Premium{
		Tier:           tier,
		SubscriptionID: subscriptionID,
		ActivatedAt:    &now,
	})
	if err != nil {
		return err
	}

	metrics.ReconciledPropertiesTotal.WithLabelValues("activate").Add(float64(updated))
	r.logger.InfowCtx(ctx, "Premium tier applied",
		"user_id", userID, "subscription_id", subscriptionID,
		"tier", tier, "properties", updated)
	return nil
}

func (r *Reconciler) HandleSubscriptionEnded(ctx context.Context, envelope models.EventEnvelope) error {
	subscriptionID, err := payloadString(envelope.Payload, "subscription_id")
	if err != nil {
		return err
	}

	updated, err := r.repo.ClearPremiumBySubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	metrics.ReconciledPropertiesTotal.WithLabelValues("clear").Add(float64(updated))
	r.logger.InfowCtx(ctx, "Premium tier cleared",
		"subscription_id", subscriptionID, "reason", envelope.EventType,
		"properties", updated)
	return nil
}

// payloadString pulls a required string field out of an event payload.
// Missing fields are fatal: retrying a malformed event cannot fix it.
func payloadString(payload map[string]interface{}, key string) (string, error) {
	value, ok := payload[key].(string)
	if !ok || value == "" {
		return "", apperrors.ErrValidation.AsFatal().WithDetail("message",
			fmt.Sprintf("payload field %q is missing or not a string", key))
	}
	return value, nil
}
