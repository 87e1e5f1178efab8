package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	domain "github.com/yungbote/curriculumgen/internal/domain/generation"
)

func SeedGenerationRun(tb testing.TB, ctx context.Context, tx *gorm.DB, runID uuid.UUID, key string, attempt int, status string) *domain.GenerationRun {
	tb.Helper()
	row := &domain.GenerationRun{
		ID:               uuid.New(),
		RunID:            runID,
		ArtifactKey:      key,
		Task:             "document",
		PromptVersion:    "v1",
		Status:           status,
		Attempt:          attempt,
		MaxAttempts:      10,
		ValidationErrors: datatypes.JSON([]byte("[]")),
		CreatedAt:        time.Now().UTC().Add(time.Duration(attempt) * time.Millisecond),
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		tb.Fatalf("seed generation run: %v", err)
	}
	return row
}

func SeedArtifact(tb testing.TB, ctx context.Context, tx *gorm.DB, key, status, text string) *domain.Artifact {
	tb.Helper()
	now := time.Now().UTC()
	row := &domain.Artifact{
		ID:        uuid.New(),
		Key:       key,
		Status:    status,
		Kind:      "text",
		Text:      text,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		tb.Fatalf("seed artifact: %v", err)
	}
	return row
}
