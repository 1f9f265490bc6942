package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_published_total",
			Help: "Total number of events published to the bus (count)",
		},
		[]string{"producer", "event_type"},
	)

	EventsConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_consumed_total",
			Help: "Total number of events fetched from the bus (count)",
		},
		[]string{"service", "event_type"},
	)

	EventsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_events_total",
			Help: "Dispatch outcomes per event type (count)",
		},
		[]string{"service", "event_type", "status"},
	)

	DedupSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_duplicates_skipped_total",
			Help: "Total number of redelivered events skipped by the idempotency store (count)",
		},
		[]string{"service"},
	)

	DedupStoreSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_dedup_store_size",
			Help: "Approximate number of event ids held by the idempotency store (count)",
		},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_handler_duration_ms",
			Help:    "Handler chain execution duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "event_type"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_events_total",
			Help: "Total number of events sent to the dead-letter topic (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	LifecycleTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "property_lifecycle_transitions_total",
			Help: "Property state transitions by operation and outcome (count)",
		},
		[]string{"operation", "status"},
	)

	ModerationDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_decisions_total",
			Help: "Auto-moderation outcomes (count)",
		},
		[]string{"outcome"},
	)

	ModerationScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moderation_auto_score",
			Help:    "Distribution of auto-moderation scores (0-100)",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	ModerationTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_tasks_total",
			Help: "Moderation task operations by outcome (count)",
		},
		[]string{"operation", "status"},
	)

	ModerationQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moderation_queue_depth",
			Help: "Number of tasks per queue status (count)",
		},
		[]string{"status"},
	)

	ClaimConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moderation_claim_conflicts_total",
			Help: "Claim attempts lost to another reviewer (count)",
		},
	)

	FlagRuleMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_flag_rule_matches_total",
			Help: "Flag rule matches forcing manual review (count)",
		},
		[]string{"rule_id", "rule_name"},
	)

	FlagRulesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moderation_flag_rules_active",
			Help: "Number of active flag rules (count)",
		},
	)

	ReconciledPropertiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_reconciled_properties_total",
			Help: "Properties whose premium tier was reconciled (count)",
		},
		[]string{"action"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)
)

func RegisterBrokerMetrics() {
	prometheus.MustRegister(
		EventsPublishedTotal,
		EventsConsumedTotal,
		RetryAttemptsTotal,
		DLQEventsTotal,
	)
}

func RegisterDispatchMetrics() {
	prometheus.MustRegister(
		EventsDispatchedTotal,
		DedupSkippedTotal,
		DedupStoreSize,
		HandlerDuration,
		FallbackUsageTotal,
	)
}

func RegisterLifecycleMetrics() {
	prometheus.MustRegister(
		LifecycleTransitionsTotal,
		ReconciledPropertiesTotal,
	)
}

func RegisterModerationMetrics() {
	prometheus.MustRegister(
		ModerationDecisionsTotal,
		ModerationScores,
		ModerationTasksTotal,
		ModerationQueueDepth,
		ClaimConflictsTotal,
		FlagRuleMatchesTotal,
		FlagRulesActive,
		RateLimitRequestsTotal,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
	)
}

func ObserveHandlerDuration(service, eventType string, duration time.Duration) {
	HandlerDuration.WithLabelValues(service, eventType).Observe(float64(duration.Milliseconds()))
}

func SetDedupStoreSize(size int) {
	DedupStoreSize.Set(float64(size))
}

func SetFlagRulesActive(count int) {
	FlagRulesActive.Set(float64(count))
}

func SetModerationQueueDepth(status string, depth int) {
	ModerationQueueDepth.WithLabelValues(status).Set(float64(depth))
}
