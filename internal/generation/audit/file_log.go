package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/curriculumgen/internal/generation/engine"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

// FileAttemptLog appends one line per attempt to <dir>/<key_slug>_retries.log.
type FileAttemptLog struct {
	dir string
	log *logger.Logger
	mu  sync.Mutex
}

func NewFileAttemptLog(dir string, log *logger.Logger) (*FileAttemptLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attempt log dir: %w", err)
	}
	return &FileAttemptLog{dir: dir, log: log.With("service", "FileAttemptLog")}, nil
}

func (l *FileAttemptLog) Path(key string) string {
	return filepath.Join(l.dir, KeySlug(key)+"_retries.log")
}

func (l *FileAttemptLog) Append(ctx context.Context, rec engine.AttemptRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.Path(rec.Key), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(FormatLine(rec)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// FormatLine renders "[<RFC3339>] Attempt i/N <outcome>: <detail>\n". Newlines in the detail
// are folded so each attempt stays on one line.
func FormatLine(rec engine.AttemptRecord) string {
	at := rec.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	detail := strings.Join(strings.Fields(rec.Detail), " ")
	if detail == "" {
		detail = "-"
	}
	return fmt.Sprintf("[%s] Attempt %d/%d %s: %s\n", at.Format(time.RFC3339), rec.Attempt, rec.MaxAttempts, rec.Outcome, detail)
}
