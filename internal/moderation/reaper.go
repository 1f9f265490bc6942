package moderation

import (
	"context"
	"time"

	"propstack/internal/broker"
	"propstack/internal/config"
	"propstack/internal/constants"
	"propstack/internal/logger"
	"propstack/pkg/metrics"
	"propstack/pkg/models"
)

// Reaper returns claims held longer than the configured timeout to the
// queue. Claim and release themselves never expire anything; this loop is
// the only place a claim ends without reviewer action.
type Reaper struct {
	repo         TaskRepository
	producer     broker.Producer
	logger       logger.Logger
	claimTimeout time.Duration
	interval     time.Duration
}

func NewReaper(repo TaskRepository, producer broker.Producer, cfg config.ModerationConfig, log logger.Logger) *Reaper {
	timeoutMinutes := cfg.ClaimTimeoutMinutes
	if timeoutMinutes <= 0 {
		timeoutMinutes = constants.DefaultClaimTimeoutMinutes
	}
	intervalSeconds := cfg.Reaper.IntervalSeconds
	if intervalSeconds <= 0 {
		intervalSeconds = constants.DefaultReaperIntervalSeconds
	}

	return &Reaper{
		repo:         repo,
		producer:     producer,
		logger:       log,
		claimTimeout: time.Duration(timeoutMinutes) * time.Minute,
		interval:     time.Duration(intervalSeconds) * time.Second,
	}
}

// Run sweeps on an interval until ctx ends.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.ErrorwCtx(ctx, "Stale claim sweep failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Sweep releases every claim older than the timeout and emits a release
// event per task so the audit trail shows the reviewer lost the claim.
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.claimTimeout)

	released, err := r.repo.ReleaseStaleClaims(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(released) == 0 {
		return nil
	}

	metrics.ModerationTasksTotal.WithLabelValues("reap", "ok").Add(float64(len(released)))
	r.logger.InfowCtx(ctx, "Released stale claims", "tasks", len(released))

	for i := range released {
		task := &released[i]
		_, err := r.producer.Publish(ctx, models.EventModerationTaskReleased, map[string]interface{}{
			"task_id":     task.ID,
			"entity_type": task.EntityType,
			"entity_id":   task.EntityID,
			"reviewer_id": "",
			"reaped":      true,
		}, broker.PublishOptions{Key: task.ID})
		if err != nil {
			r.logger.ErrorwCtx(ctx, "Failed to publish reap release",
				"task_id", task.ID, "error", err)
		}
	}
	return nil
}
