package generation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/yungbote/curriculumgen/internal/domain/generation"
	"github.com/yungbote/curriculumgen/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/curriculumgen/internal/pkg/errors"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

type ArtifactRepo interface {
	Upsert(dbc dbctx.Context, row *domain.Artifact) error
	GetByKey(dbc dbctx.Context, key string) (*domain.Artifact, error)
	ListKeys(dbc dbctx.Context, prefix string) ([]string, error)
	CountByStatus(dbc dbctx.Context, prefix string) (map[string]int64, error)
}

type artifactRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewArtifactRepo(db *gorm.DB, baseLog *logger.Logger) ArtifactRepo {
	return &artifactRepo{db: db, log: baseLog.With("repo", "ArtifactRepo")}
}

func (r *artifactRepo) Upsert(dbc dbctx.Context, row *domain.Artifact) error {
	if row == nil || row.Key == "" {
		return fmt.Errorf("%w: artifact key required", pkgerrors.ErrInvalidArgument)
	}
	now := time.Now().UTC()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = now
	}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "kind", "text", "data", "attempts", "updated_at"}),
	}).Create(row).Error
}

func (r *artifactRepo) GetByKey(dbc dbctx.Context, key string) (*domain.Artifact, error) {
	var row domain.Artifact
	err := dbc.DB(r.db).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("artifact %s: %w", key, pkgerrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *artifactRepo) ListKeys(dbc dbctx.Context, prefix string) ([]string, error) {
	rows, err := r.keyStatus(dbc, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.Key)
	}
	return keys, nil
}

func (r *artifactRepo) CountByStatus(dbc dbctx.Context, prefix string) (map[string]int64, error) {
	rows, err := r.keyStatus(dbc, prefix)
	if err != nil {
		return nil, err
	}
	out := map[string]int64{}
	for _, row := range rows {
		out[row.Status]++
	}
	return out, nil
}

type keyStatus struct {
	Key    string
	Status string
}

// keyStatus narrows with LIKE and then filters exactly, since '_' and '%' in keys are
// wildcards to LIKE.
func (r *artifactRepo) keyStatus(dbc dbctx.Context, prefix string) ([]keyStatus, error) {
	var rows []keyStatus
	q := dbc.DB(r.db).Model(&domain.Artifact{}).Select("key, status")
	if prefix != "" {
		q = q.Where("key LIKE ?", prefix+"%")
	}
	if err := q.Order("key ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, row := range rows {
		if strings.HasPrefix(row.Key, prefix) {
			out = append(out, row)
		}
	}
	return out, nil
}
