package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	// Idempotency cache bound per consumer process. FIFO-style eviction is a
	// soft guarantee: ids older than the capacity become eligible for
	// redelivery without detection.
	DefaultDedupCapacity = 10000

	CacheKeyPrefixEventSeen = "event-seen:"
	DefaultDedupTTLSeconds  = 86400
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	DefaultAutoApproveThreshold = 80
	DefaultAutoRejectThreshold  = 30
)

const (
	DefaultPublishTTLDays        = 90
	DefaultClaimTimeoutMinutes   = 120
	DefaultReaperIntervalSeconds = 60
	DefaultExpirySweepSeconds    = 3600
	DefaultExpirySweepBatch      = 100
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

const (
	DefaultMongoDBName        = "propstack"
	BlacklistCollection       = "blacklist_entries"
	DefaultRejectionReason    = "Listing does not meet marketplace quality standards"
	DefaultRequestChangesNote = "Changes requested by moderation"
)

const (
	ServiceProperty   = "property-service"
	ServiceModeration = "moderation-service"
)
