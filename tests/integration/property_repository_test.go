package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propstack/internal/property"
	apperrors "propstack/pkg/errors"
)

func TestPropertyUpdate_OptimisticVersionGuard(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, true, false)
	repo := property.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	p := createDraftProperty(t, repo, "user-1")
	require.Equal(t, 1, p.Version)

	p.Status = property.StatusSubmitted
	require.NoError(t, repo.Update(ctx, p, 1))
	assert.Equal(t, 2, p.Version)

	// A writer holding the old version loses the race.
	stale := *p
	stale.Status = property.StatusArchived
	err := repo.Update(ctx, &stale, 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	stored, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, property.StatusSubmitted, stored.Status)
	assert.Equal(t, 2, stored.Version)
}

func TestSetPremiumForOwner_IdempotentOnRedelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, true, false)
	repo := property.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	published := createPublishedProperty(t, repo, "user-1", time.Now().Add(30*24*time.Hour))
	createDraftProperty(t, repo, "user-1")
	otherOwner := createPublishedProperty(t, repo, "user-2", time.Now().Add(30*24*time.Hour))

	activatedAt := time.Now()
	premium := property.Premium{
		Tier:           property.TierFeatured,
		SubscriptionID: "sub-1",
		ActivatedAt:    &activatedAt,
	}

	affected, err := repo.SetPremiumForOwner(ctx, "user-1", premium)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected, "only the published listing gets the tier")

	// Redelivered activation is a no-op.
	affected, err = repo.SetPremiumForOwner(ctx, "user-1", premium)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	stored, err := repo.GetByID(ctx, published.ID)
	require.NoError(t, err)
	assert.Equal(t, property.TierFeatured, stored.Premium.Tier)
	assert.Equal(t, "sub-1", stored.Premium.SubscriptionID)
	assert.Equal(t, 2, stored.Version, "version bumps once, not on the redelivery")

	untouched, err := repo.GetByID(ctx, otherOwner.ID)
	require.NoError(t, err)
	assert.Equal(t, property.TierNone, untouched.Premium.Tier)
}

func TestClearPremiumBySubscription(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, true, false)
	repo := property.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	p := createPublishedProperty(t, repo, "user-1", time.Now().Add(30*24*time.Hour))

	activatedAt := time.Now()
	_, err := repo.SetPremiumForOwner(ctx, "user-1", property.Premium{
		Tier:           property.TierPremium,
		SubscriptionID: "sub-9",
		ActivatedAt:    &activatedAt,
	})
	require.NoError(t, err)

	cleared, err := repo.ClearPremiumBySubscription(ctx, "sub-9")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)

	// Another subscription id touches nothing.
	cleared, err = repo.ClearPremiumBySubscription(ctx, "sub-other")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cleared)

	stored, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, property.TierNone, stored.Premium.Tier)
	assert.Empty(t, stored.Premium.SubscriptionID)
	assert.Nil(t, stored.Premium.ActivatedAt)
}

func TestListExpiredPublished(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, true, false)
	repo := property.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	overdue := createPublishedProperty(t, repo, "user-1", time.Now().Add(-time.Hour))
	createPublishedProperty(t, repo, "user-1", time.Now().Add(24*time.Hour))
	createDraftProperty(t, repo, "user-1")

	expired, err := repo.ListExpiredPublished(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, overdue.ID, expired[0].ID)
}
