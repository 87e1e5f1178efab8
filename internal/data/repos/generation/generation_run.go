package generation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/yungbote/curriculumgen/internal/domain/generation"
	"github.com/yungbote/curriculumgen/internal/pkg/dbctx"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

type GenerationRunRepo interface {
	Create(dbc dbctx.Context, rows []*domain.GenerationRun) ([]*domain.GenerationRun, error)
	ListByRunID(dbc dbctx.Context, runID uuid.UUID) ([]*domain.GenerationRun, error)
	ListByArtifactKey(dbc dbctx.Context, key string, limit int) ([]*domain.GenerationRun, error)
	ListRecent(dbc dbctx.Context, limit int) ([]*domain.GenerationRun, error)
}

type generationRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationRunRepo(db *gorm.DB, baseLog *logger.Logger) GenerationRunRepo {
	return &generationRunRepo{db: db, log: baseLog.With("repo", "GenerationRunRepo")}
}

func (r *generationRunRepo) Create(dbc dbctx.Context, rows []*domain.GenerationRun) ([]*domain.GenerationRun, error) {
	if len(rows) == 0 {
		return []*domain.GenerationRun{}, nil
	}
	now := time.Now().UTC()
	for _, row := range rows {
		if row == nil {
			continue
		}
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *generationRunRepo) ListByRunID(dbc dbctx.Context, runID uuid.UUID) ([]*domain.GenerationRun, error) {
	var out []*domain.GenerationRun
	if runID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("run_id = ?", runID).
		Order("attempt ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *generationRunRepo) ListByArtifactKey(dbc dbctx.Context, key string, limit int) ([]*domain.GenerationRun, error) {
	var out []*domain.GenerationRun
	q := dbc.DB(r.db).
		Where("artifact_key = ?", key).
		Order("created_at ASC, attempt ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *generationRunRepo) ListRecent(dbc dbctx.Context, limit int) ([]*domain.GenerationRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*domain.GenerationRun
	if err := dbc.DB(r.db).
		Order("created_at DESC, attempt DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
