package property

import (
	"context"
	"fmt"
	"sync"
	"time"

	"propstack/internal/broker"
	apperrors "propstack/pkg/errors"
	"propstack/pkg/models"
)

type fakeRepository struct {
	mu         sync.Mutex
	properties map[string]*Property
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{properties: make(map[string]*Property)}
}

func (r *fakeRepository) put(p *Property) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *p
	r.properties[p.ID] = &clone
}

func (r *fakeRepository) Create(ctx context.Context, p *Property) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.properties[p.ID]; exists {
		return apperrors.ErrConflict
	}
	if p.Version == 0 {
		p.Version = 1
	}
	if p.Status == "" {
		p.Status = StatusDraft
	}
	clone := *p
	r.properties[p.ID] = &clone
	return nil
}

func (r *fakeRepository) GetByID(ctx context.Context, id string) (*Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.properties[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithDetail("message",
			fmt.Sprintf("property %s not found", id))
	}
	clone := *p
	return &clone, nil
}

func (r *fakeRepository) Update(ctx context.Context, p *Property, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.properties[p.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if current.Version != expectedVersion {
		return apperrors.ErrConflict
	}
	p.Version = expectedVersion + 1
	p.UpdatedAt = time.Now()
	clone := *p
	r.properties[p.ID] = &clone
	return nil
}

func (r *fakeRepository) SetPremiumForOwner(ctx context.Context, ownerUserID string, premium Premium) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var updated int64
	for _, p := range r.properties {
		if p.Owner.UserID != ownerUserID || p.Status != StatusPublished {
			continue
		}
		if p.Premium.Tier == premium.Tier && p.Premium.SubscriptionID == premium.SubscriptionID {
			continue
		}
		p.Premium = premium
		p.Version++
		updated++
	}
	return updated, nil
}

func (r *fakeRepository) ClearPremiumBySubscription(ctx context.Context, subscriptionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var updated int64
	for _, p := range r.properties {
		if p.Premium.SubscriptionID != subscriptionID || p.Status != StatusPublished {
			continue
		}
		p.Premium = Premium{Tier: TierNone}
		p.Version++
		updated++
	}
	return updated, nil
}

func (r *fakeRepository) ListExpiredPublished(ctx context.Context, asOf time.Time, limit int) ([]Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Property
	for _, p := range r.properties {
		if p.Status == StatusPublished && p.ExpiresAt != nil && !p.ExpiresAt.After(asOf) {
			out = append(out, *p)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type publishedEvent struct {
	EventType string
	Payload   map[string]interface{}
	Opts      broker.PublishOptions
}

type fakeProducer struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *fakeProducer) Publish(ctx context.Context, eventType string, payload map[string]interface{}, opts broker.PublishOptions) (*broker.PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.events = append(p.events, publishedEvent{EventType: eventType, Payload: payload, Opts: opts})
	return &broker.PublishResult{EventID: "test-event", Partition: -1, Offset: -1}, nil
}

func (p *fakeProducer) PublishBatch(ctx context.Context, events []broker.OutboundEvent) ([]broker.PublishResult, error) {
	results := make([]broker.PublishResult, 0, len(events))
	for _, e := range events {
		res, err := p.Publish(ctx, e.EventType, e.Payload, e.Opts)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, nil
}

func (p *fakeProducer) PublishEnvelope(ctx context.Context, topic string, envelope models.EventEnvelope) error {
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publishedEvent, len(p.events))
	copy(out, p.events)
	return out
}

func (p *fakeProducer) lastEvent() *publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	e := p.events[len(p.events)-1]
	return &e
}
