package moderation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"propstack/internal/broker"
	"propstack/internal/config"
	"propstack/internal/constants"
	"propstack/internal/logger"
	apperrors "propstack/pkg/errors"
	"propstack/pkg/metrics"
	"propstack/pkg/models"
	"propstack/pkg/tracing"
)

// FlagEvaluator is what the pipeline needs from the flag-rule engine.
type FlagEvaluator interface {
	Evaluate(ctx context.Context, snapshot ListingSnapshot, score int) ([]string, error)
}

// Service runs the auto-moderation pipeline and the review task queue.
// Thresholds are guarded by a mutex so a config event can retune them while
// consumers are running.
type Service struct {
	repo      Repository
	blacklist BlacklistChecker
	flagRules FlagEvaluator
	producer  broker.Producer
	logger    logger.Logger

	mu                   sync.RWMutex
	autoApproveThreshold int
	autoRejectThreshold  int
}

func NewService(repo Repository, blacklist BlacklistChecker, flagRules FlagEvaluator, producer broker.Producer, cfg config.ModerationConfig, log logger.Logger) *Service {
	approve := cfg.AutoApproveThreshold
	if approve <= 0 {
		approve = constants.DefaultAutoApproveThreshold
	}
	reject := cfg.AutoRejectThreshold
	if reject <= 0 {
		reject = constants.DefaultAutoRejectThreshold
	}

	return &Service{
		repo:                 repo,
		blacklist:            blacklist,
		flagRules:            flagRules,
		producer:             producer,
		logger:               log,
		autoApproveThreshold: approve,
		autoRejectThreshold:  reject,
	}
}

// Thresholds returns the current auto-approve and auto-reject cutoffs.
func (s *Service) Thresholds() (approve, reject int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoApproveThreshold, s.autoRejectThreshold
}

// ProcessSubmission scores a property.submitted event and routes it:
// blacklist hit or flag-rule match forces manual review; otherwise the score
// decides between auto approval, auto rejection and a review task.
func (s *Service) ProcessSubmission(ctx context.Context, envelope models.EventEnvelope) error {
	ctx, span := tracing.GetTracer("moderation-service").Start(ctx, "moderation.process_submission")
	defer span.End()

	snapshot, err := ParseSnapshot(envelope.Payload)
	if err != nil {
		return err
	}

	score := Score(snapshot)
	metrics.ModerationScores.Observe(float64(score))

	violations, err := s.blacklist.Check(ctx, snapshot)
	if err != nil {
		return fmt.Errorf("blacklist check failed: %w", err)
	}

	var flags []string
	for _, v := range violations {
		flags = append(flags, fmt.Sprintf("blacklist:%s", v.Type))
	}

	if s.flagRules != nil {
		matched, err := s.flagRules.Evaluate(ctx, snapshot, score)
		if err != nil {
			return fmt.Errorf("flag rule evaluation failed: %w", err)
		}
		for _, name := range matched {
			flags = append(flags, fmt.Sprintf("rule:%s", name))
		}
	}

	approve, reject := s.Thresholds()

	switch {
	case len(flags) > 0:
		s.logger.InfowCtx(ctx, "Submission flagged for manual review",
			"property_id", snapshot.PropertyID, "score", score, "flags", flags)
		return s.createReviewTask(ctx, snapshot, score, flags)

	case score >= approve:
		metrics.ModerationDecisionsTotal.WithLabelValues("auto_approved").Inc()
		s.logger.InfowCtx(ctx, "Submission auto-approved",
			"property_id", snapshot.PropertyID, "score", score)
		return s.publish(ctx, models.EventModerationAutoApproved, snapshot.PropertyID, map[string]interface{}{
			"property_id": snapshot.PropertyID,
			"auto_score":  score,
		})

	case score <= reject:
		metrics.ModerationDecisionsTotal.WithLabelValues("auto_rejected").Inc()
		s.logger.InfowCtx(ctx, "Submission auto-rejected",
			"property_id", snapshot.PropertyID, "score", score)
		return s.publish(ctx, models.EventModerationAutoRejected, snapshot.PropertyID, map[string]interface{}{
			"property_id": snapshot.PropertyID,
			"auto_score":  score,
			"reason":      constants.DefaultRejectionReason,
		})

	default:
		return s.createReviewTask(ctx, snapshot, score, nil)
	}
}

func (s *Service) createReviewTask(ctx context.Context, snapshot ListingSnapshot, score int, flags []string) error {
	priority := PriorityForScore(score)
	for _, flag := range flags {
		if strings.HasPrefix(flag, "blacklist:") {
			priority = PriorityUrgent
			break
		}
	}

	task := &ModerationTask{
		EntityType: EntityTypeProperty,
		EntityID:   snapshot.PropertyID,
		TaskType:   TaskTypeReview,
		Status:     TaskPending,
		Priority:   priority,
		AutoScore:  &score,
		Flags:      flags,
	}

	if err := s.repo.CreateTask(ctx, task); err != nil {
		// A pending task for this entity already exists; the redelivered
		// submission changes nothing.
		if apperrors.IsConflict(err) {
			s.logger.WarnwCtx(ctx, "Review task already pending",
				"property_id", snapshot.PropertyID)
			return nil
		}
		return err
	}

	metrics.ModerationDecisionsTotal.WithLabelValues("manual_review").Inc()
	metrics.ModerationTasksTotal.WithLabelValues("create", "ok").Inc()

	return s.publish(ctx, models.EventModerationTaskCreated, task.ID, map[string]interface{}{
		"task_id":     task.ID,
		"entity_type": task.EntityType,
		"entity_id":   task.EntityID,
		"task_type":   task.TaskType,
		"priority":    string(task.Priority),
		"auto_score":  score,
		"flags":       flags,
	})
}

// Claim assigns the task exclusively to one reviewer.
func (s *Service) Claim(ctx context.Context, taskID, reviewerID string) (*ModerationTask, error) {
	if reviewerID == "" {
		return nil, apperrors.ErrValidation.WithDetail("message", "reviewer id is required")
	}

	task, err := s.repo.ClaimTask(ctx, taskID, reviewerID)
	if err != nil {
		if apperrors.IsInvalidTransition(err) {
			metrics.ClaimConflictsTotal.Inc()
			metrics.ModerationTasksTotal.WithLabelValues("claim", "conflict").Inc()
		}
		return nil, err
	}
	metrics.ModerationTasksTotal.WithLabelValues("claim", "ok").Inc()

	s.logger.InfowCtx(ctx, "Task claimed", "task_id", taskID, "reviewer_id", reviewerID)

	err = s.publish(ctx, models.EventModerationTaskClaimed, task.ID, map[string]interface{}{
		"task_id":     task.ID,
		"entity_type": task.EntityType,
		"entity_id":   task.EntityID,
		"reviewer_id": reviewerID,
	})
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Claim committed but event publish failed",
			"task_id", taskID, "error", err)
	}
	return task, nil
}

// Release returns a claimed task to the queue. Only the claim holder may
// release.
func (s *Service) Release(ctx context.Context, taskID, reviewerID string) (*ModerationTask, error) {
	if reviewerID == "" {
		return nil, apperrors.ErrValidation.WithDetail("message", "reviewer id is required")
	}

	task, err := s.repo.ReleaseTask(ctx, taskID, reviewerID)
	if err != nil {
		if apperrors.IsInvalidTransition(err) {
			metrics.ModerationTasksTotal.WithLabelValues("release", "conflict").Inc()
		}
		return nil, err
	}
	metrics.ModerationTasksTotal.WithLabelValues("release", "ok").Inc()

	s.logger.InfowCtx(ctx, "Task released", "task_id", taskID, "reviewer_id", reviewerID)

	err = s.publish(ctx, models.EventModerationTaskReleased, task.ID, map[string]interface{}{
		"task_id":     task.ID,
		"entity_type": task.EntityType,
		"entity_id":   task.EntityID,
		"reviewer_id": reviewerID,
	})
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Release committed but event publish failed",
			"task_id", taskID, "error", err)
	}
	return task, nil
}

// Decide completes the task and announces the verdict. The property service
// consumes moderation.task.decided and applies the transition.
func (s *Service) Decide(ctx context.Context, taskID, reviewerID, rawDecision, notes string) (*ModerationTask, error) {
	if reviewerID == "" {
		return nil, apperrors.ErrValidation.WithDetail("message", "reviewer id is required")
	}
	decision, ok := ParseDecision(rawDecision)
	if !ok {
		return nil, apperrors.ErrValidation.WithDetail("message",
			fmt.Sprintf("unknown decision %q", rawDecision))
	}

	task, err := s.repo.CompleteTask(ctx, taskID, reviewerID, decision, notes)
	if err != nil {
		if apperrors.IsInvalidTransition(err) {
			metrics.ModerationTasksTotal.WithLabelValues("decide", "conflict").Inc()
		}
		return nil, err
	}
	metrics.ModerationTasksTotal.WithLabelValues("decide", "ok").Inc()

	s.logger.InfowCtx(ctx, "Task decided",
		"task_id", taskID, "reviewer_id", reviewerID, "decision", decision)

	err = s.publish(ctx, models.EventModerationTaskDecided, task.EntityID, map[string]interface{}{
		"task_id":     task.ID,
		"entity_type": task.EntityType,
		"entity_id":   task.EntityID,
		"decision":    string(decision),
		"reviewer_id": reviewerID,
		"notes":       notes,
	})
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Decision committed but event publish failed",
			"task_id", taskID, "error", err)
	}
	return task, nil
}

func (s *Service) GetTask(ctx context.Context, taskID string) (*ModerationTask, error) {
	return s.repo.GetTask(ctx, taskID)
}

// List pages through tasks in fairness order.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]ModerationTask, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = constants.DefaultPageLimit
	}
	if filter.Limit > constants.MaxPageLimit {
		filter.Limit = constants.MaxPageLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListTasks(ctx, filter)
}

// HandlePropertyArchived cancels pending review work for a listing the
// owner has already withdrawn.
func (s *Service) HandlePropertyArchived(ctx context.Context, envelope models.EventEnvelope) error {
	propertyID, ok := envelope.Payload["property_id"].(string)
	if !ok || propertyID == "" {
		return apperrors.ErrValidation.AsFatal().WithDetail("message",
			"payload has no property_id")
	}

	cancelled, err := s.repo.CancelPendingByEntity(ctx, EntityTypeProperty, propertyID)
	if err != nil {
		return err
	}
	if cancelled > 0 {
		metrics.ModerationTasksTotal.WithLabelValues("cancel", "ok").Add(float64(cancelled))
		s.logger.InfowCtx(ctx, "Cancelled pending review tasks",
			"property_id", propertyID, "tasks", cancelled)
	}
	return nil
}

// HandleConfigUpdated retunes the thresholds from a moderation.config.updated
// event without a restart. Invalid values are rejected and logged.
func (s *Service) HandleConfigUpdated(ctx context.Context, envelope models.EventEnvelope) error {
	approve, hasApprove := numberField(envelope.Payload, "auto_approve_threshold")
	reject, hasReject := numberField(envelope.Payload, "auto_reject_threshold")
	if !hasApprove && !hasReject {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	newApprove := s.autoApproveThreshold
	newReject := s.autoRejectThreshold
	if hasApprove {
		newApprove = approve
	}
	if hasReject {
		newReject = reject
	}

	if newApprove < 0 || newApprove > 100 || newReject < 0 || newReject > 100 || newReject >= newApprove {
		s.logger.WarnwCtx(ctx, "Ignoring invalid moderation thresholds",
			"auto_approve_threshold", newApprove, "auto_reject_threshold", newReject)
		return nil
	}

	s.autoApproveThreshold = newApprove
	s.autoRejectThreshold = newReject
	s.logger.InfowCtx(ctx, "Moderation thresholds updated",
		"auto_approve_threshold", newApprove, "auto_reject_threshold", newReject)
	return nil
}

// RefreshQueueMetrics exports per-status queue depth.
func (s *Service) RefreshQueueMetrics(ctx context.Context) error {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return err
	}
	for _, status := range []TaskStatus{TaskPending, TaskClaimed, TaskCompleted, TaskCancelled} {
		metrics.SetModerationQueueDepth(string(status), counts[status])
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType, key string, payload map[string]interface{}) error {
	_, err := s.producer.Publish(ctx, eventType, payload, broker.PublishOptions{Key: key})
	return err
}

func numberField(payload map[string]interface{}, key string) (int, bool) {
	value, ok := payload[key].(float64)
	if !ok {
		return 0, false
	}
	return int(value), true
}
