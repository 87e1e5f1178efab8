package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	pkgerrors "github.com/yungbote/curriculumgen/internal/pkg/errors"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

// MetaDir holds one sidecar per artifact with its status tag. It sits under the store root
// but is never listed or exported.
const MetaDir = ".artifact-meta"

type fileMeta struct {
	Status    Status    `json:"status"`
	Kind      Kind      `json:"kind"`
	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FSStore keeps artifacts as plain files under Root, laid out by key.
type FSStore struct {
	root   string
	log    *logger.Logger
	rename func(oldpath, newpath string) error
}

func NewFSStore(root string, log *logger.Logger) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: store root required", pkgerrors.ErrInvalidArgument)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FSStore{root: root, log: log.With("service", "FSArtifactStore"), rename: os.Rename}, nil
}

func (s *FSStore) Root() string { return s.root }

// Path returns the file path of key.
func (s *FSStore) Path(key string) (string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(k)), nil
}

func (s *FSStore) metaPath(key string) string {
	return filepath.Join(s.root, MetaDir, filepath.FromSlash(key)+".json")
}

func (s *FSStore) Write(ctx context.Context, a Artifact) error {
	if err := checkWritable(&a); err != nil {
		return err
	}
	body, err := encodeBody(a)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(fileMeta{Status: a.Status, Kind: a.Kind, Attempts: a.Attempts, UpdatedAt: a.UpdatedAt})
	if err != nil {
		return err
	}

	target := filepath.Join(s.root, filepath.FromSlash(a.Key))
	metaPath := s.metaPath(a.Key)
	metaTmp, err := stageTemp(metaPath, meta)
	if err != nil {
		return fmt.Errorf("write artifact meta %s: %w", a.Key, err)
	}
	bodyTmp, err := stageTemp(target, body)
	if err != nil {
		_ = os.Remove(metaTmp)
		return fmt.Errorf("write artifact %s: %w", a.Key, err)
	}
	prevMeta, prevErr := os.ReadFile(metaPath)

	// The tag lands before the content so a placeholder can never be read as validated.
	if err := s.rename(metaTmp, metaPath); err != nil {
		_ = os.Remove(metaTmp)
		_ = os.Remove(bodyTmp)
		return fmt.Errorf("write artifact meta %s: %w", a.Key, err)
	}
	if err := s.rename(bodyTmp, target); err != nil {
		_ = os.Remove(bodyTmp)
		s.restoreMeta(a.Key, prevMeta, prevErr)
		return fmt.Errorf("write artifact %s: %w", a.Key, err)
	}
	s.log.Debug("artifact written", "key", a.Key, "status", a.Status, "bytes", len(body))
	return nil
}

func (s *FSStore) Read(ctx context.Context, key string) (Artifact, error) {
	k, err := CleanKey(key)
	if err != nil {
		return Artifact{}, err
	}
	raw, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(k)))
	if errors.Is(err, fs.ErrNotExist) {
		return Artifact{}, fmt.Errorf("artifact %s: %w", k, pkgerrors.ErrNotFound)
	}
	if err != nil {
		return Artifact{}, err
	}

	a := Artifact{Key: k, Kind: KindForKey(k)}
	if mb, err := os.ReadFile(s.metaPath(k)); err == nil {
		var m fileMeta
		if err := json.Unmarshal(mb, &m); err != nil {
			return Artifact{}, fmt.Errorf("artifact %s meta: %w", k, err)
		}
		a.Status, a.Kind, a.Attempts, a.UpdatedAt = m.Status, m.Kind, m.Attempts, m.UpdatedAt
	}
	if err := decodeBody(&a, raw); err != nil {
		return Artifact{}, err
	}
	return a, nil
}

func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	out := []string{}
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == MetaDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && !strings.Contains(d.Name(), ".tmp-") {
			out = append(out, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// restoreMeta puts back the tag that described the body still on disk after a failed
// body write. Without a previous tag the sidecar is removed and the body reads untagged.
func (s *FSStore) restoreMeta(key string, prev []byte, prevErr error) {
	metaPath := s.metaPath(key)
	var err error
	if prevErr == nil {
		var tmp string
		if tmp, err = stageTemp(metaPath, prev); err == nil {
			if err = s.rename(tmp, metaPath); err != nil {
				_ = os.Remove(tmp)
			}
		}
	} else if rmErr := os.Remove(metaPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		err = rmErr
	}
	if err != nil {
		s.log.Error("restoring artifact meta failed", "key", key, "error", err)
	}
}

// stageTemp writes data to a temp file beside target and returns its name.
func stageTemp(target string, data []byte) (string, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func encodeBody(a Artifact) ([]byte, error) {
	if a.Kind == KindText {
		return []byte(a.Text), nil
	}
	b, err := json.MarshalIndent(a.Data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode artifact %s: %w", a.Key, err)
	}
	return append(b, '\n'), nil
}

func decodeBody(a *Artifact, raw []byte) error {
	if a.Kind == KindText {
		a.Text = string(raw)
		return nil
	}
	var v any
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode artifact %s: %w", a.Key, err)
		}
	}
	a.Data = v
	return nil
}
