package models

import "fmt"

// Topic names are stable and versioned. Producers and consumers reference
// this registry instead of literal strings, so adding an event type is a
// single-point change.
const (
	TopicProperty     = "property.events.v1"
	TopicMedia        = "media.events.v1"
	TopicLead         = "lead.events.v1"
	TopicBilling      = "billing.events.v1"
	TopicUser         = "user.events.v1"
	TopicModeration   = "moderation.events.v1"
	TopicNotification = "notification.events.v1"
	TopicAnalytics    = "analytics.events.v1"
)

// Event types, grouped by owning topic.
const (
	EventPropertySubmitted   = "property.submitted"
	EventPropertyPublished   = "property.published"
	EventPropertyUnpublished = "property.unpublished"
	EventPropertyExpired     = "property.expired"
	EventPropertyArchived    = "property.archived"
	EventPropertySold        = "property.sold"
	EventPropertyRented      = "property.rented"
	EventPropertyRejected    = "property.rejected"

	EventModerationTaskCreated   = "moderation.task.created"
	EventModerationTaskClaimed   = "moderation.task.claimed"
	EventModerationTaskReleased  = "moderation.task.released"
	EventModerationTaskDecided   = "moderation.task.decided"
	EventModerationAutoApproved  = "moderation.auto.approved"
	EventModerationAutoRejected  = "moderation.auto.rejected"
	EventModerationConfigUpdated = "moderation.config.updated"

	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionExpired   = "subscription.expired"
)

// eventTopics maps every known event type to exactly one topic.
var eventTopics = map[string]string{
	EventPropertySubmitted:   TopicProperty,
	EventPropertyPublished:   TopicProperty,
	EventPropertyUnpublished: TopicProperty,
	EventPropertyExpired:     TopicProperty,
	EventPropertyArchived:    TopicProperty,
	EventPropertySold:        TopicProperty,
	EventPropertyRented:      TopicProperty,
	EventPropertyRejected:    TopicProperty,

	EventModerationTaskCreated:   TopicModeration,
	EventModerationTaskClaimed:   TopicModeration,
	EventModerationTaskReleased:  TopicModeration,
	EventModerationTaskDecided:   TopicModeration,
	EventModerationAutoApproved:  TopicModeration,
	EventModerationAutoRejected:  TopicModeration,
	EventModerationConfigUpdated: TopicModeration,

	EventSubscriptionActivated: TopicBilling,
	EventSubscriptionCancelled: TopicBilling,
	EventSubscriptionExpired:   TopicBilling,
}

// TopicFor resolves the owning topic for an event type. Unknown event types
// are a programming error and fail at publish time rather than on the wire.
func TopicFor(eventType string) (string, error) {
	topic, ok := eventTopics[eventType]
	if !ok {
		return "", fmt.Errorf("unknown event type: %q", eventType)
	}
	return topic, nil
}

// KnownEventType reports whether eventType is part of the closed vocabulary.
func KnownEventType(eventType string) bool {
	_, ok := eventTopics[eventType]
	return ok
}
