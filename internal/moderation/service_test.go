package moderation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propstack/internal/config"
	"propstack/internal/logger"
	apperrors "propstack/pkg/errors"
	"propstack/pkg/models"
)

func newTestService(t *testing.T, blacklist BlacklistChecker, flagRules FlagEvaluator) (*Service, *fakeTaskRepository, *fakeProducer) {
	t.Helper()
	if blacklist == nil {
		blacklist = &fakeBlacklist{}
	}
	repo := newFakeRepository()
	producer := &fakeProducer{}
	svc := NewService(repo, blacklist, flagRules, producer, config.ModerationConfig{
		AutoApproveThreshold: 80,
		AutoRejectThreshold:  30,
	}, logger.NopLogger())
	return svc, repo, producer
}

func submissionEnvelope(snapshot ListingSnapshot) models.EventEnvelope {
	payload := map[string]interface{}{
		"property_id":   snapshot.PropertyID,
		"owner_user_id": snapshot.OwnerUserID,
		"title":         snapshot.Title,
		"description":   snapshot.Description,
		"price":         snapshot.Price,
		"city":          snapshot.City,
		"locality":      snapshot.Locality,
		"contact_phone": snapshot.ContactPhone,
	}
	if snapshot.Attributes != nil {
		payload["attributes"] = snapshot.Attributes
	}
	if snapshot.HasGeo {
		payload["latitude"] = 38.75
		payload["longitude"] = -9.14
	}
	images := make([]interface{}, 0, snapshot.ImageCount)
	for i := 0; i < snapshot.ImageCount; i++ {
		images = append(images, map[string]interface{}{
			"url":        "https://img.example/1.jpg",
			"is_primary": i == 0 && snapshot.HasPrimary,
		})
	}
	payload["images"] = images

	return models.EventEnvelope{
		EventID:   "evt-1",
		EventType: models.EventPropertySubmitted,
		Payload:   payload,
	}
}

func TestProcessSubmission_AutoApprove(t *testing.T) {
	svc, repo, producer := newTestService(t, nil, nil)

	snapshot := highQualitySnapshot()
	snapshot.ImageCount = 0
	snapshot.HasPrimary = false // scores 95

	err := svc.ProcessSubmission(context.Background(), submissionEnvelope(snapshot))
	require.NoError(t, err)

	approved := producer.byType(models.EventModerationAutoApproved)
	require.Len(t, approved, 1)
	assert.Equal(t, "prop-1", approved[0].Payload["property_id"])
	assert.Equal(t, 95, approved[0].Payload["auto_score"])

	tasks, _, err := repo.ListTasks(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestProcessSubmission_AutoReject(t *testing.T) {
	svc, repo, producer := newTestService(t, nil, nil)

	snapshot := ListingSnapshot{
		PropertyID:  "prop-1",
		Title:       "Flat",
		Description: "Nice flat.",
		Price:       120000,
		HasGeo:      true, // scores 15
	}

	err := svc.ProcessSubmission(context.Background(), submissionEnvelope(snapshot))
	require.NoError(t, err)

	rejected := producer.byType(models.EventModerationAutoRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, 15, rejected[0].Payload["auto_score"])
	assert.NotEmpty(t, rejected[0].Payload["reason"])

	tasks, _, err := repo.ListTasks(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestProcessSubmission_ManualReview(t *testing.T) {
	svc, repo, producer := newTestService(t, nil, nil)

	snapshot := ListingSnapshot{
		PropertyID:  "prop-1",
		Title:       "Sunny two bedroom apartment",
		Description: "Great flat, call me.",
		Price:       250000,
		City:        "Lisbon",
		Attributes: map[string]interface{}{
			"rooms": 2, "area_sqm": 78, "floor": 3,
		},
		HasGeo:       true,
		ContactPhone: "+351 21 000 0000", // scores 55
	}

	err := svc.ProcessSubmission(context.Background(), submissionEnvelope(snapshot))
	require.NoError(t, err)

	tasks, _, err := repo.ListTasks(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskPending, tasks[0].Status)
	assert.Equal(t, PriorityMedium, tasks[0].Priority)
	assert.Equal(t, "prop-1", tasks[0].EntityID)
	require.NotNil(t, tasks[0].AutoScore)
	assert.Equal(t, 55, *tasks[0].AutoScore)

	created := producer.byType(models.EventModerationTaskCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "MEDIUM", created[0].Payload["priority"])
}

func TestProcessSubmission_BlacklistForcesManualReview(t *testing.T) {
	blacklist := &fakeBlacklist{violations: []Violation{{Type: BlacklistWord, Value: "scam"}}}
	svc, repo, producer := newTestService(t, blacklist, nil)

	// Would auto-approve on score alone.
	err := svc.ProcessSubmission(context.Background(), submissionEnvelope(highQualitySnapshot()))
	require.NoError(t, err)

	assert.Empty(t, producer.byType(models.EventModerationAutoApproved))

	tasks, _, err := repo.ListTasks(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks[0].Flags, "blacklist:WORD")
	// A blacklist hit jumps the queue no matter how well the listing scores.
	assert.Equal(t, PriorityUrgent, tasks[0].Priority)
}

type staticFlagRules struct{ matches []string }

func (s *staticFlagRules) Evaluate(ctx context.Context, snapshot ListingSnapshot, score int) ([]string, error) {
	return s.matches, nil
}

func TestProcessSubmission_FlagRuleForcesManualReview(t *testing.T) {
	svc, repo, _ := newTestService(t, nil, &staticFlagRules{matches: []string{"suspicious_price"}})

	err := svc.ProcessSubmission(context.Background(), submissionEnvelope(highQualitySnapshot()))
	require.NoError(t, err)

	tasks, _, err := repo.ListTasks(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks[0].Flags, "rule:suspicious_price")
}

func TestProcessSubmission_DuplicateTaskIsIgnored(t *testing.T) {
	svc, repo, _ := newTestService(t, nil, nil)

	envelope := submissionEnvelope(ListingSnapshot{
		PropertyID:  "prop-1",
		Title:       "Sunny two bedroom apartment",
		Description: "Great flat, call me.",
		Price:       250000,
		City:        "Lisbon",
		Attributes: map[string]interface{}{
			"rooms": 2, "area_sqm": 78, "floor": 3,
		},
		HasGeo:       true,
		ContactPhone: "+351 21 000 0000", // scores 55, lands in manual review
	})

	require.NoError(t, svc.ProcessSubmission(context.Background(), envelope))
	require.NoError(t, svc.ProcessSubmission(context.Background(), envelope))

	tasks, _, err := repo.ListTasks(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestClaim_Exclusivity(t *testing.T) {
	svc, repo, producer := newTestService(t, nil, nil)

	task := &ModerationTask{EntityType: EntityTypeProperty, EntityID: "prop-1", TaskType: TaskTypeReview}
	require.NoError(t, repo.CreateTask(context.Background(), task))

	claimed, err := svc.Claim(context.Background(), task.ID, "reviewer-a")
	require.NoError(t, err)
	assert.Equal(t, TaskClaimed, claimed.Status)
	assert.Equal(t, "reviewer-a", claimed.ClaimedBy)

	_, err = svc.Claim(context.Background(), task.ID, "reviewer-b")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidTransition(err))

	// After release, B's claim succeeds.
	_, err = svc.Release(context.Background(), task.ID, "reviewer-a")
	require.NoError(t, err)

	claimed, err = svc.Claim(context.Background(), task.ID, "reviewer-b")
	require.NoError(t, err)
	assert.Equal(t, "reviewer-b", claimed.ClaimedBy)

	assert.Len(t, producer.byType(models.EventModerationTaskClaimed), 2)
	assert.Len(t, producer.byType(models.EventModerationTaskReleased), 1)
}

func TestClaim_ConcurrentClaims_ExactlyOneWins(t *testing.T) {
	svc, repo, _ := newTestService(t, nil, nil)

	task := &ModerationTask{EntityType: EntityTypeProperty, EntityID: "prop-1", TaskType: TaskTypeReview}
	require.NoError(t, repo.CreateTask(context.Background(), task))

	const claimers = 8
	var wg sync.WaitGroup
	results := make([]error, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, results[n] = svc.Claim(context.Background(), task.ID, "reviewer-"+string(rune('a'+n)))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.True(t, apperrors.IsInvalidTransition(err))
		}
	}
	assert.Equal(t, 1, wins)
}

func TestRelease_OnlyClaimHolder(t *testing.T) {
	svc, repo, _ := newTestService(t, nil, nil)

	task := &ModerationTask{EntityType: EntityTypeProperty, EntityID: "prop-1", TaskType: TaskTypeReview}
	require.NoError(t, repo.CreateTask(context.Background(), task))
	_, err := svc.Claim(context.Background(), task.ID, "reviewer-a")
	require.NoError(t, err)

	_, err = svc.Release(context.Background(), task.ID, "reviewer-b")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidTransition(err))
}

func TestDecide_PublishesDecision(t *testing.T) {
	svc, repo, producer := newTestService(t, nil, nil)

	task := &ModerationTask{EntityType: EntityTypeProperty, EntityID: "prop-1", TaskType: TaskTypeReview}
	require.NoError(t, repo.CreateTask(context.Background(), task))
	_, err := svc.Claim(context.Background(), task.ID, "reviewer-a")
	require.NoError(t, err)

	decided, err := svc.Decide(context.Background(), task.ID, "reviewer-a", "REJECT", "photos do not match the listing")
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, decided.Status)
	assert.Equal(t, DecisionReject, decided.Decision)

	events := producer.byType(models.EventModerationTaskDecided)
	require.Len(t, events, 1)
	assert.Equal(t, "PROPERTY", events[0].Payload["entity_type"])
	assert.Equal(t, "prop-1", events[0].Payload["entity_id"])
	assert.Equal(t, "REJECT", events[0].Payload["decision"])
	// Keyed by entity so decisions stay ordered with the listing's events.
	assert.Equal(t, "prop-1", events[0].Opts.Key)
}

func TestDecide_InvalidDecision(t *testing.T) {
	svc, repo, _ := newTestService(t, nil, nil)

	task := &ModerationTask{EntityType: EntityTypeProperty, EntityID: "prop-1", TaskType: TaskTypeReview}
	require.NoError(t, repo.CreateTask(context.Background(), task))
	_, err := svc.Claim(context.Background(), task.ID, "reviewer-a")
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), task.ID, "reviewer-a", "MAYBE", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestDecide_RequiresClaim(t *testing.T) {
	svc, repo, _ := newTestService(t, nil, nil)

	task := &ModerationTask{EntityType: EntityTypeProperty, EntityID: "prop-1", TaskType: TaskTypeReview}
	require.NoError(t, repo.CreateTask(context.Background(), task))

	_, err := svc.Decide(context.Background(), task.ID, "reviewer-a", "APPROVE", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidTransition(err))
}

func TestHandleConfigUpdated(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)

	err := svc.HandleConfigUpdated(context.Background(), models.EventEnvelope{
		EventType: models.EventModerationConfigUpdated,
		Payload: map[string]interface{}{
			"auto_approve_threshold": float64(90),
			"auto_reject_threshold":  float64(20),
		},
	})
	require.NoError(t, err)

	approve, reject := svc.Thresholds()
	assert.Equal(t, 90, approve)
	assert.Equal(t, 20, reject)
}

func TestHandleConfigUpdated_RejectsInvalid(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)

	// Reject must stay below approve; the update is ignored.
	err := svc.HandleConfigUpdated(context.Background(), models.EventEnvelope{
		Payload: map[string]interface{}{
			"auto_approve_threshold": float64(30),
			"auto_reject_threshold":  float64(60),
		},
	})
	require.NoError(t, err)

	approve, reject := svc.Thresholds()
	assert.Equal(t, 80, approve)
	assert.Equal(t, 30, reject)
}

func TestHandlePropertyArchived_CancelsPending(t *testing.T) {
	svc, repo, _ := newTestService(t, nil, nil)

	task := &ModerationTask{EntityType: EntityTypeProperty, EntityID: "prop-1", TaskType: TaskTypeReview}
	require.NoError(t, repo.CreateTask(context.Background(), task))

	err := svc.HandlePropertyArchived(context.Background(), models.EventEnvelope{
		EventType: models.EventPropertyArchived,
		Payload:   map[string]interface{}{"property_id": "prop-1"},
	})
	require.NoError(t, err)

	got, err := repo.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskCancelled, got.Status)
}
