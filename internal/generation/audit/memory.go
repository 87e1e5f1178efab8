package audit

import (
	"context"
	"errors"
	"sync"

	"github.com/yungbote/curriculumgen/internal/generation/engine"
)

// MemoryLog keeps records in process, for tests and end-of-batch summaries.
type MemoryLog struct {
	mu   sync.Mutex
	recs []engine.AttemptRecord
}

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (l *MemoryLog) Append(ctx context.Context, rec engine.AttemptRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, rec)
	return nil
}

func (l *MemoryLog) Records() []engine.AttemptRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]engine.AttemptRecord(nil), l.recs...)
}

// ForKey returns the records of key in append order.
func (l *MemoryLog) ForKey(key string) []engine.AttemptRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []engine.AttemptRecord
	for _, r := range l.recs {
		if r.Key == key {
			out = append(out, r)
		}
	}
	return out
}

type multi []engine.AttemptLog

// Multi fans each record out to every log. All logs are tried; their errors are joined.
func Multi(logs ...engine.AttemptLog) engine.AttemptLog {
	out := make(multi, 0, len(logs))
	for _, l := range logs {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func (m multi) Append(ctx context.Context, rec engine.AttemptRecord) error {
	var errs []error
	for _, l := range m {
		if err := l.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
