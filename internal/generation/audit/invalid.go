package audit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

const maxCollisionSuffix = 1000

// FileInvalidSink writes each rejected response to its own file and never overwrites one.
type FileInvalidSink struct {
	dir string
	now func() time.Time
	log *logger.Logger
}

func NewFileInvalidSink(dir string, log *logger.Logger) (*FileInvalidSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create invalid response dir: %w", err)
	}
	return &FileInvalidSink{dir: dir, now: time.Now, log: log.With("service", "FileInvalidSink")}, nil
}

func (s *FileInvalidSink) Dir() string { return s.dir }

// Save writes raw to <key_slug>_v<attempt>_<YYYYmmdd_HHMMSS>_INVALID.txt and returns its path.
func (s *FileInvalidSink) Save(ctx context.Context, key string, attempt int, raw string) (string, error) {
	stem := fmt.Sprintf("%s_v%d_%s_INVALID", KeySlug(key), attempt, s.now().Format("20060102_150405"))
	for i := 0; i < maxCollisionSuffix; i++ {
		name := stem + ".txt"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.txt", stem, i)
		}
		p := filepath.Join(s.dir, name)
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.WriteString(raw); err != nil {
			_ = f.Close()
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		s.log.Debug("invalid response saved", "key", key, "attempt", attempt, "path", p)
		return p, nil
	}
	return "", fmt.Errorf("invalid response for %s attempt %d: too many name collisions", key, attempt)
}
