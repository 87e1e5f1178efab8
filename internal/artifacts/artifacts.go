// Package artifacts persists pipeline output under hierarchical keys such as
// "week05/day2/06_document_for_sparky.json".
package artifacts

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	pkgerrors "github.com/yungbote/curriculumgen/internal/pkg/errors"
)

type Status string

const (
	// StatusValidated marks a value that passed its contract.
	StatusValidated Status = "validated"
	// StatusPlaceholder marks a stand-in written after retries were exhausted.
	StatusPlaceholder Status = "placeholder"
)

type Kind string

const (
	KindText       Kind = "text"
	KindStructured Kind = "structured"
)

type Artifact struct {
	Key       string
	Status    Status
	Kind      Kind
	Text      string
	Data      any
	Attempts  int
	UpdatedAt time.Time
}

// Value returns the text or the structured data depending on Kind.
func (a Artifact) Value() any {
	if a.Kind == KindText {
		return a.Text
	}
	return a.Data
}

func (a Artifact) IsPlaceholder() bool { return a.Status == StatusPlaceholder }

type Store interface {
	Write(ctx context.Context, a Artifact) error
	Read(ctx context.Context, key string) (Artifact, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// CleanKey normalizes a key to slash-separated relative form and rejects escapes.
func CleanKey(key string) (string, error) {
	k := strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	k = strings.Trim(k, "/")
	if k == "" {
		return "", fmt.Errorf("%w: empty artifact key", pkgerrors.ErrInvalidArgument)
	}
	cleaned := path.Clean(k)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: artifact key %q escapes the store", pkgerrors.ErrInvalidArgument, key)
	}
	return cleaned, nil
}

// checkWritable enforces that nothing reaches a backend without a status tag.
func checkWritable(a *Artifact) error {
	k, err := CleanKey(a.Key)
	if err != nil {
		return err
	}
	a.Key = k
	switch a.Status {
	case StatusValidated, StatusPlaceholder:
	default:
		return fmt.Errorf("%w: artifact %s has no status", pkgerrors.ErrInvalidArgument, a.Key)
	}
	switch a.Kind {
	case KindText, KindStructured:
	default:
		return fmt.Errorf("%w: artifact %s has unknown kind %q", pkgerrors.ErrInvalidArgument, a.Key, a.Kind)
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// KindForKey infers the artifact kind from its file extension.
func KindForKey(key string) Kind {
	if strings.HasSuffix(strings.ToLower(key), ".json") {
		return KindStructured
	}
	return KindText
}
