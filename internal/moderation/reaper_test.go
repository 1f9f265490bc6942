package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propstack/internal/config"
	"propstack/internal/logger"
	"propstack/pkg/models"
)

func TestReaper_ReleasesOnlyStaleClaims(t *testing.T) {
	repo := newFakeRepository()
	producer := &fakeProducer{}
	reaper := NewReaper(repo, producer, config.ModerationConfig{
		ClaimTimeoutMinutes: 120,
	}, logger.NopLogger())

	stale := &ModerationTask{EntityType: EntityTypeProperty, EntityID: "prop-1", TaskType: TaskTypeReview}
	require.NoError(t, repo.CreateTask(context.Background(), stale))
	_, err := repo.ClaimTask(context.Background(), stale.ID, "reviewer-gone")
	require.NoError(t, err)

	// Backdate the claim past the timeout.
	repo.mu.Lock()
	old := time.Now().Add(-3 * time.Hour)
	repo.tasks[stale.ID].ClaimedAt = &old
	repo.mu.Unlock()

	fresh := &ModerationTask{EntityType: EntityTypeProperty, EntityID: "prop-2", TaskType: TaskTypeReview}
	require.NoError(t, repo.CreateTask(context.Background(), fresh))
	_, err = repo.ClaimTask(context.Background(), fresh.ID, "reviewer-active")
	require.NoError(t, err)

	require.NoError(t, reaper.Sweep(context.Background()))

	got, err := repo.GetTask(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, got.Status)
	assert.Empty(t, got.ClaimedBy)

	got, err = repo.GetTask(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskClaimed, got.Status)

	released := producer.byType(models.EventModerationTaskReleased)
	require.Len(t, released, 1)
	assert.Equal(t, stale.ID, released[0].Opts.Key)
	assert.Equal(t, stale.ID, released[0].Payload["task_id"])
	assert.Equal(t, true, released[0].Payload["reaped"])
}

func TestReaper_NoStaleClaims(t *testing.T) {
	repo := newFakeRepository()
	producer := &fakeProducer{}
	reaper := NewReaper(repo, producer, config.ModerationConfig{}, logger.NopLogger())

	require.NoError(t, reaper.Sweep(context.Background()))
	assert.Empty(t, producer.published())
}
