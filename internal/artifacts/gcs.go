package artifacts

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/yungbote/curriculumgen/internal/clients/gcp"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

// Object metadata keys carrying the artifact tag.
const (
	metaStatus   = "artifact-status"
	metaKind     = "artifact-kind"
	metaAttempts = "artifact-attempts"
)

// GCSStore keeps artifacts as bucket objects; the status tag rides in object metadata.
type GCSStore struct {
	bucket gcp.BucketService
	log    *logger.Logger
}

func NewGCSStore(bucket gcp.BucketService, log *logger.Logger) *GCSStore {
	return &GCSStore{bucket: bucket, log: log.With("service", "GCSArtifactStore")}
}

func (s *GCSStore) Write(ctx context.Context, a Artifact) error {
	if err := checkWritable(&a); err != nil {
		return err
	}
	body, err := encodeBody(a)
	if err != nil {
		return err
	}
	return s.bucket.Put(ctx, gcp.Object{
		Key:  a.Key,
		Data: body,
		Metadata: map[string]string{
			metaStatus:   string(a.Status),
			metaKind:     string(a.Kind),
			metaAttempts: strconv.Itoa(a.Attempts),
		},
	})
}

func (s *GCSStore) Read(ctx context.Context, key string) (Artifact, error) {
	k, err := CleanKey(key)
	if err != nil {
		return Artifact{}, err
	}
	obj, err := s.bucket.Get(ctx, k)
	if err != nil {
		return Artifact{}, err
	}
	a := Artifact{
		Key:       k,
		Status:    Status(obj.Metadata[metaStatus]),
		Kind:      Kind(obj.Metadata[metaKind]),
		UpdatedAt: obj.Updated,
	}
	if a.Kind == "" {
		a.Kind = KindForKey(k)
	}
	if n, err := strconv.Atoi(obj.Metadata[metaAttempts]); err == nil {
		a.Attempts = n
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	if err := decodeBody(&a, obj.Data); err != nil {
		return Artifact{}, fmt.Errorf("gcs: %w", err)
	}
	return a, nil
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.bucket.ListKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
