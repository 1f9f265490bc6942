package integration

import (
	"context"
	"testing"
	"time"

	"propstack/internal/logger"
	"propstack/internal/moderation"
	"propstack/internal/property"
)

const timestampDelay = 10 * time.Millisecond

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createPendingTask(t *testing.T, repo moderation.Repository, entityID string, priority moderation.Priority) *moderation.ModerationTask {
	t.Helper()

	score := 55
	task := &moderation.ModerationTask{
		EntityType: moderation.EntityTypeProperty,
		EntityID:   entityID,
		TaskType:   moderation.TaskTypeReview,
		Priority:   priority,
		AutoScore:  &score,
		Flags:      []string{"rule:test"},
	}
	if err := repo.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	return task
}

func createDraftProperty(t *testing.T, repo property.Repository, ownerUserID string) *property.Property {
	t.Helper()

	p := &property.Property{
		Owner:       property.Owner{UserID: ownerUserID},
		Title:       "Sunny two bedroom apartment",
		Description: "Bright, renovated flat close to the metro with a balcony and storage room.",
		Price:       250000,
		City:        "Lisbon",
		Locality:    "Alvalade",
		Attributes:  map[string]interface{}{"rooms": 2, "area_sqm": 68, "floor": 3},
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("failed to create property: %v", err)
	}
	return p
}

func createPublishedProperty(t *testing.T, repo property.Repository, ownerUserID string, expiresAt time.Time) *property.Property {
	t.Helper()

	publishedAt := time.Now()
	p := &property.Property{
		Status:      property.StatusPublished,
		Owner:       property.Owner{UserID: ownerUserID},
		Title:       "Sunny two bedroom apartment",
		Description: "Bright, renovated flat close to the metro with a balcony and storage room.",
		Price:       250000,
		City:        "Lisbon",
		Locality:    "Alvalade",
		PublishedAt: &publishedAt,
		ExpiresAt:   &expiresAt,
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("failed to create property: %v", err)
	}
	return p
}
