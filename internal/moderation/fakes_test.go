package moderation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"propstack/internal/broker"
	apperrors "propstack/pkg/errors"
	"propstack/pkg/models"
)

type fakeTaskRepository struct {
	mu    sync.Mutex
	tasks map[string]*ModerationTask
	rules map[string]*FlagRule
}

func newFakeRepository() *fakeTaskRepository {
	return &fakeTaskRepository{
		tasks: make(map[string]*ModerationTask),
		rules: make(map[string]*FlagRule),
	}
}

func (r *fakeTaskRepository) CreateTask(ctx context.Context, task *ModerationTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tasks {
		if existing.EntityType == task.EntityType && existing.EntityID == task.EntityID &&
			existing.Status == TaskPending {
			return apperrors.ErrConflict
		}
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = TaskPending
	}
	task.CreatedAt = time.Now()
	task.UpdatedAt = task.CreatedAt
	clone := *task
	r.tasks[task.ID] = &clone
	return nil
}

func (r *fakeTaskRepository) GetTask(ctx context.Context, id string) (*ModerationTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithDetail("message",
			fmt.Sprintf("task %s not found", id))
	}
	clone := *task
	return &clone, nil
}

func (r *fakeTaskRepository) ClaimTask(ctx context.Context, id, reviewerID string) (*ModerationTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if task.Status != TaskPending {
		return nil, apperrors.ErrInvalidTransition.WithDetail("message",
			fmt.Sprintf("cannot claim task in status %s", task.Status))
	}
	now := time.Now()
	task.Status = TaskClaimed
	task.ClaimedBy = reviewerID
	task.ClaimedAt = &now
	clone := *task
	return &clone, nil
}

func (r *fakeTaskRepository) ReleaseTask(ctx context.Context, id, reviewerID string) (*ModerationTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if task.Status != TaskClaimed || task.ClaimedBy != reviewerID {
		return nil, apperrors.ErrInvalidTransition.WithDetail("message",
			"cannot release a task claimed by another reviewer")
	}
	task.Status = TaskPending
	task.ClaimedBy = ""
	task.ClaimedAt = nil
	clone := *task
	return &clone, nil
}

func (r *fakeTaskRepository) CompleteTask(ctx context.Context, id, reviewerID string, decision Decision, notes string) (*ModerationTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if task.Status != TaskClaimed || task.ClaimedBy != reviewerID {
		return nil, apperrors.ErrInvalidTransition.WithDetail("message",
			"cannot decide a task not claimed by this reviewer")
	}
	now := time.Now()
	task.Status = TaskCompleted
	task.Decision = decision
	task.DecidedBy = reviewerID
	task.DecidedAt = &now
	task.Notes = notes
	clone := *task
	return &clone, nil
}

func (r *fakeTaskRepository) CancelPendingByEntity(ctx context.Context, entityType, entityID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cancelled int64
	for _, task := range r.tasks {
		if task.EntityType == entityType && task.EntityID == entityID && task.Status == TaskPending {
			task.Status = TaskCancelled
			cancelled++
		}
	}
	return cancelled, nil
}

func (r *fakeTaskRepository) ListTasks(ctx context.Context, filter ListFilter) ([]ModerationTask, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ModerationTask
	for _, task := range r.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.TaskType != "" && task.TaskType != filter.TaskType {
			continue
		}
		if filter.Priority != "" && task.Priority != filter.Priority {
			continue
		}
		out = append(out, *task)
	}
	return out, len(out), nil
}

func (r *fakeTaskRepository) ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) ([]ModerationTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var released []ModerationTask
	for _, task := range r.tasks {
		if task.Status == TaskClaimed && task.ClaimedAt != nil && task.ClaimedAt.Before(claimedBefore) {
			task.Status = TaskPending
			task.ClaimedBy = ""
			task.ClaimedAt = nil
			released = append(released, *task)
		}
	}
	return released, nil
}

func (r *fakeTaskRepository) CountByStatus(ctx context.Context) (map[TaskStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[TaskStatus]int)
	for _, task := range r.tasks {
		counts[task.Status]++
	}
	return counts, nil
}

func (r *fakeTaskRepository) CreateFlagRule(ctx context.Context, rule *FlagRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	clone := *rule
	r.rules[rule.ID] = &clone
	return nil
}

func (r *fakeTaskRepository) GetFlagRule(ctx context.Context, id string) (*FlagRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *rule
	return &clone, nil
}

func (r *fakeTaskRepository) ListFlagRules(ctx context.Context) ([]FlagRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []FlagRule
	for _, rule := range r.rules {
		out = append(out, *rule)
	}
	return out, nil
}

func (r *fakeTaskRepository) UpdateFlagRule(ctx context.Context, rule *FlagRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[rule.ID]; !ok {
		return apperrors.ErrNotFound
	}
	clone := *rule
	r.rules[rule.ID] = &clone
	return nil
}

func (r *fakeTaskRepository) DeleteFlagRule(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.rules, id)
	return nil
}

func (r *fakeTaskRepository) GetActiveFlagRules(ctx context.Context) ([]FlagRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []FlagRule
	for _, rule := range r.rules {
		if rule.Enabled {
			out = append(out, *rule)
		}
	}
	return out, nil
}

type fakeBlacklist struct {
	violations []Violation
	err        error
}

func (b *fakeBlacklist) Check(ctx context.Context, snapshot ListingSnapshot) ([]Violation, error) {
	return b.violations, b.err
}

type publishedEvent struct {
	EventType string
	Payload   map[string]interface{}
	Opts      broker.PublishOptions
}

type fakeProducer struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakeProducer) Publish(ctx context.Context, eventType string, payload map[string]interface{}, opts broker.PublishOptions) (*broker.PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
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

func (p *fakeProducer) byType(eventType string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (p *fakeProducer) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publishedEvent, len(p.events))
	copy(out, p.events)
	return out
}
