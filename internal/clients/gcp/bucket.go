package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	pkgerrors "github.com/yungbote/curriculumgen/internal/pkg/errors"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

type BucketConfig struct {
	Name string `yaml:"name"`
	// Prefix is prepended to every object name, e.g. "curriculum/".
	Prefix string `yaml:"prefix"`
	// CredentialsJSON or a credentials file path; empty uses application default credentials.
	Credentials string `yaml:"credentials"`
}

// Object is a stored blob plus its custom metadata.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
	Metadata    map[string]string
	Updated     time.Time
}

type BucketService interface {
	Put(ctx context.Context, obj Object) error
	Get(ctx context.Context, key string) (Object, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucket        string
	prefix        string
}

func NewBucketService(ctx context.Context, log *logger.Logger, cfg BucketConfig) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("missing GCS bucket name")
	}

	opts := ClientOptions(cfg.Credentials)
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	stClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	prefix := strings.TrimLeft(strings.TrimSpace(cfg.Prefix), "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		bucket:        cfg.Name,
		prefix:        prefix,
	}, nil
}

func (bs *bucketService) objectName(key string) string { return bs.prefix + key }

func (bs *bucketService) Put(ctx context.Context, obj Object) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := bs.storageClient.Bucket(bs.bucket).Object(bs.objectName(obj.Key)).NewWriter(ctx)
	w.ContentType = obj.ContentType
	if w.ContentType == "" {
		w.ContentType = contentTypeForKey(obj.Key)
	}
	w.Metadata = obj.Metadata
	if _, err := io.Copy(w, bytes.NewReader(obj.Data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (bs *bucketService) Get(ctx context.Context, key string) (Object, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	handle := bs.storageClient.Bucket(bs.bucket).Object(bs.objectName(key))
	r, err := handle.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return Object{}, fmt.Errorf("object %s: %w", key, pkgerrors.ErrNotFound)
	}
	if err != nil {
		return Object{}, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return Object{}, fmt.Errorf("failed to read GCS object: %w", err)
	}
	attrs, err := handle.Attrs(ctx)
	if err != nil {
		return Object{}, fmt.Errorf("failed to read GCS attrs: %w", err)
	}
	return Object{
		Key:         key,
		Data:        data,
		ContentType: attrs.ContentType,
		Metadata:    attrs.Metadata,
		Updated:     attrs.Updated,
	}, nil
}

func (bs *bucketService) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := bs.storageClient.Bucket(bs.bucket).Objects(ctx, &storage.Query{Prefix: bs.objectName(prefix)})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, strings.TrimPrefix(attrs.Name, bs.prefix))
	}
	return out, nil
}

func (bs *bucketService) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := bs.storageClient.Bucket(bs.bucket).Object(bs.objectName(key)).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, bs.bucket, err)
	}
	return nil
}

func (bs *bucketService) Close() error { return bs.storageClient.Close() }

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	case strings.HasSuffix(s, ".md"):
		return "text/markdown; charset=utf-8"
	case strings.HasSuffix(s, ".txt"), strings.HasSuffix(s, ".log"):
		return "text/plain; charset=utf-8"
	case strings.HasSuffix(s, ".zip"):
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
