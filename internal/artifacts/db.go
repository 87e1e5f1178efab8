package artifacts

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	repos "github.com/yungbote/curriculumgen/internal/data/repos/generation"
	domain "github.com/yungbote/curriculumgen/internal/domain/generation"
	"github.com/yungbote/curriculumgen/internal/pkg/dbctx"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

// DBStore keeps artifacts in the artifact table.
type DBStore struct {
	repo repos.ArtifactRepo
	log  *logger.Logger
}

func NewDBStore(repo repos.ArtifactRepo, log *logger.Logger) *DBStore {
	return &DBStore{repo: repo, log: log.With("service", "DBArtifactStore")}
}

func (s *DBStore) Write(ctx context.Context, a Artifact) error {
	if err := checkWritable(&a); err != nil {
		return err
	}
	row := &domain.Artifact{
		Key:       a.Key,
		Status:    string(a.Status),
		Kind:      string(a.Kind),
		Attempts:  a.Attempts,
		UpdatedAt: a.UpdatedAt,
	}
	if a.Kind == KindText {
		row.Text = a.Text
	} else {
		b, err := json.Marshal(a.Data)
		if err != nil {
			return fmt.Errorf("encode artifact %s: %w", a.Key, err)
		}
		row.Data = datatypes.JSON(b)
	}
	if err := s.repo.Upsert(dbctx.Context{Ctx: ctx}, row); err != nil {
		return fmt.Errorf("write artifact %s: %w", a.Key, err)
	}
	return nil
}

func (s *DBStore) Read(ctx context.Context, key string) (Artifact, error) {
	k, err := CleanKey(key)
	if err != nil {
		return Artifact{}, err
	}
	row, err := s.repo.GetByKey(dbctx.Context{Ctx: ctx}, k)
	if err != nil {
		return Artifact{}, err
	}
	a := Artifact{
		Key:       row.Key,
		Status:    Status(row.Status),
		Kind:      Kind(row.Kind),
		Text:      row.Text,
		Attempts:  row.Attempts,
		UpdatedAt: row.UpdatedAt,
	}
	if a.Kind == KindStructured && len(row.Data) > 0 {
		var v any
		if err := json.Unmarshal(row.Data, &v); err != nil {
			return Artifact{}, fmt.Errorf("decode artifact %s: %w", k, err)
		}
		a.Data = v
	}
	return a, nil
}

func (s *DBStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.repo.ListKeys(dbctx.Context{Ctx: ctx}, prefix)
}
