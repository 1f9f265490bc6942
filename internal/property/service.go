package property

import (
	"context"
	"time"

	"propstack/internal/broker"
	"propstack/internal/constants"
	"propstack/internal/logger"
	apperrors "propstack/pkg/errors"
	"propstack/pkg/metrics"
	"propstack/pkg/models"
)

// operationEvents maps each lifecycle operation to the event it emits once
// the repository write commits. Operations absent here (restore) are silent.
var operationEvents = map[Operation]string{
	OpSubmit:     models.EventPropertySubmitted,
	OpPublish:    models.EventPropertyPublished,
	OpUnpublish:  models.EventPropertyUnpublished,
	OpExpire:     models.EventPropertyExpired,
	OpMarkSold:   models.EventPropertySold,
	OpMarkRented: models.EventPropertyRented,
	OpArchive:    models.EventPropertyArchived,
	OpReject:     models.EventPropertyRejected,
}

type Service struct {
	repo       Repository
	producer   broker.Producer
	logger     logger.Logger
	publishTTL time.Duration
}

func NewService(repo Repository, producer broker.Producer, publishTTLDays int, log logger.Logger) *Service {
	if publishTTLDays <= 0 {
		publishTTLDays = constants.DefaultPublishTTLDays
	}
	return &Service{
		repo:       repo,
		producer:   producer,
		logger:     log,
		publishTTL: time.Duration(publishTTLDays) * 24 * time.Hour,
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Property, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Create(ctx context.Context, p *Property) (*Property, error) {
	if p.Owner.UserID == "" {
		return nil, apperrors.ErrValidation.WithDetail("message", "owner user id is required")
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.InfowCtx(ctx, "Property created", "property_id", p.ID, "owner", p.Owner.UserID)
	return p, nil
}

func (s *Service) Submit(ctx context.Context, id string, actor Actor) (*Property, error) {
	return s.transition(ctx, id, actor, OpSubmit, func(p *Property) {
		p.Moderation.ManualReviewRequired = true
		p.Moderation.RejectionReason = ""
		p.Moderation.ReviewerID = ""
		p.Moderation.AutoScore = nil
	})
}

func (s *Service) Publish(ctx context.Context, id string, actor Actor) (*Property, error) {
	return s.transition(ctx, id, actor, OpPublish, func(p *Property) {
		now := time.Now()
		expires := now.Add(s.publishTTL)
		p.PublishedAt = &now
		p.ExpiresAt = &expires
	})
}

func (s *Service) Unpublish(ctx context.Context, id string, actor Actor) (*Property, error) {
	return s.transition(ctx, id, actor, OpUnpublish, func(p *Property) {
		p.PublishedAt = nil
		p.ExpiresAt = nil
	})
}

func (s *Service) Expire(ctx context.Context, id string, actor Actor) (*Property, error) {
	return s.transition(ctx, id, actor, OpExpire, nil)
}

func (s *Service) MarkSold(ctx context.Context, id string, actor Actor) (*Property, error) {
	return s.transition(ctx, id, actor, OpMarkSold, func(p *Property) {
		now := time.Now()
		p.SoldAt = &now
	})
}

func (s *Service) MarkRented(ctx context.Context, id string, actor Actor) (*Property, error) {
	return s.transition(ctx, id, actor, OpMarkRented, func(p *Property) {
		now := time.Now()
		p.RentedAt = &now
	})
}

func (s *Service) Archive(ctx context.Context, id string, actor Actor) (*Property, error) {
	return s.transition(ctx, id, actor, OpArchive, nil)
}

func (s *Service) Restore(ctx context.Context, id string, actor Actor) (*Property, error) {
	return s.transition(ctx, id, actor, OpRestore, nil)
}

// Approve moves a submission into admin review. Called with the system actor
// when the auto-moderation pipeline or a reviewer decision approves.
func (s *Service) Approve(ctx context.Context, id string, reviewerID string, autoScore *int, actor Actor) (*Property, error) {
	return s.transition(ctx, id, actor, OpApprove, func(p *Property) {
		p.Moderation.ManualReviewRequired = false
		p.Moderation.ReviewerID = reviewerID
		if autoScore != nil {
			p.Moderation.AutoScore = autoScore
		}
	})
}

func (s *Service) Reject(ctx context.Context, id string, reason string, reviewerID string, autoScore *int, actor Actor) (*Property, error) {
	if reason == "" {
		reason = constants.DefaultRejectionReason
	}
	return s.transition(ctx, id, actor, OpReject, func(p *Property) {
		p.Moderation.ManualReviewRequired = false
		p.Moderation.RejectionReason = reason
		p.Moderation.ReviewerID = reviewerID
		if autoScore != nil {
			p.Moderation.AutoScore = autoScore
		}
	})
}

func (s *Service) RequestChanges(ctx context.Context, id string, note string, reviewerID string, actor Actor) (*Property, error) {
	if note == "" {
		note = constants.DefaultRequestChangesNote
	}
	return s.transition(ctx, id, actor, OpRequestChanges, func(p *Property) {
		p.Moderation.ManualReviewRequired = false
		p.Moderation.RejectionReason = note
		p.Moderation.ReviewerID = reviewerID
	})
}

// ExpireOverdue sweeps PUBLISHED properties past their expiry. Each one goes
// through the regular expire transition so the event and version bump happen
// like any other mutation.
func (s *Service) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	overdue, err := s.repo.ListExpiredPublished(ctx, time.Now(), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range overdue {
		if _, err := s.Expire(ctx, overdue[i].ID, SystemActor); err != nil {
			// Conflict means another replica got there first, which is fine.
			if apperrors.IsConflict(err) || apperrors.IsInvalidTransition(err) {
				continue
			}
			s.logger.ErrorwCtx(ctx, "Failed to expire property",
				"property_id", overdue[i].ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Service) transition(ctx context.Context, id string, actor Actor, op Operation, mutate func(*Property)) (*Property, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Ownership precedes the table check so an outsider cannot probe states.
	if !actor.System && !p.OwnedBy(actor) {
		metrics.LifecycleTransitionsTotal.WithLabelValues(string(op), "forbidden").Inc()
		return nil, apperrors.ErrForbidden.WithDetail("message",
			"property does not belong to the caller")
	}

	next, err := NextStatus(p.Status, op)
	if err != nil {
		metrics.LifecycleTransitionsTotal.WithLabelValues(string(op), "illegal").Inc()
		return nil, err
	}

	from := p.Status
	p.Status = next
	if mutate != nil {
		mutate(p)
	}

	if err := s.repo.Update(ctx, p, p.Version); err != nil {
		metrics.LifecycleTransitionsTotal.WithLabelValues(string(op), "conflict").Inc()
		return nil, err
	}
	metrics.LifecycleTransitionsTotal.WithLabelValues(string(op), "ok").Inc()

	s.logger.InfowCtx(ctx, "Property transitioned",
		"property_id", p.ID, "operation", op, "from", from, "to", p.Status)

	s.emit(ctx, op, p)
	return p, nil
}

// emit publishes the operation's event after the write has committed. A
// publish failure leaves the state change in place; the gap is logged so it
// can be replayed.
func (s *Service) emit(ctx context.Context, op Operation, p *Property) {
	eventType, ok := operationEvents[op]
	if !ok {
		return
	}

	payload := p.Snapshot()
	if op == OpReject && p.Moderation.RejectionReason != "" {
		payload["rejection_reason"] = p.Moderation.RejectionReason
	}

	_, err := s.producer.Publish(ctx, eventType, payload, broker.PublishOptions{Key: p.ID})
	if err != nil {
		s.logger.ErrorwCtx(ctx, "State committed but event publish failed",
			"property_id", p.ID, "event_type", eventType, "error", err)
	}
}
