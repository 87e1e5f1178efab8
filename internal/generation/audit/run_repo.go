package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	repos "github.com/yungbote/curriculumgen/internal/data/repos/generation"
	domain "github.com/yungbote/curriculumgen/internal/domain/generation"
	"github.com/yungbote/curriculumgen/internal/generation/engine"
	"github.com/yungbote/curriculumgen/internal/pkg/dbctx"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

// RunRepoLog persists attempts as generation_run rows.
type RunRepoLog struct {
	repo repos.GenerationRunRepo
	log  *logger.Logger
}

func NewRunRepoLog(repo repos.GenerationRunRepo, log *logger.Logger) *RunRepoLog {
	return &RunRepoLog{repo: repo, log: log.With("service", "RunRepoLog")}
}

func (l *RunRepoLog) Append(ctx context.Context, rec engine.AttemptRecord) error {
	runID, err := uuid.Parse(rec.RunID)
	if err != nil {
		return fmt.Errorf("attempt record run id %q: %w", rec.RunID, err)
	}
	raw, err := json.Marshal(rec.Violations)
	if err != nil {
		return err
	}
	if string(raw) == "null" {
		raw = []byte("[]")
	}
	row := &domain.GenerationRun{
		RunID:            runID,
		ArtifactKey:      rec.Key,
		Task:             rec.Task,
		PromptVersion:    rec.Version,
		Status:           string(rec.Outcome),
		Attempt:          rec.Attempt,
		MaxAttempts:      rec.MaxAttempts,
		Detail:           rec.Detail,
		Provider:         rec.Provider,
		Model:            rec.Model,
		LatencyMS:        rec.LatencyMS,
		TokensIn:         rec.PromptTokens,
		TokensOut:        rec.CompletionTokens,
		ValidationErrors: datatypes.JSON(raw),
		InvalidRef:       rec.InvalidRef,
		CreatedAt:        rec.At,
	}
	_, err = l.repo.Create(dbctx.Context{Ctx: ctx}, []*domain.GenerationRun{row})
	return err
}
