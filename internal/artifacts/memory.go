package artifacts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	pkgerrors "github.com/yungbote/curriculumgen/internal/pkg/errors"
)

type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]Artifact
	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]Artifact{}}
}

func (s *MemoryStore) Write(ctx context.Context, a Artifact) error {
	if err := checkWritable(&a); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[a.Key] = a
	s.writes++
	return nil
}

func (s *MemoryStore) Read(ctx context.Context, key string) (Artifact, error) {
	k, err := CleanKey(key)
	if err != nil {
		return Artifact{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[k]
	if !ok {
		return Artifact{}, fmt.Errorf("artifact %s: %w", k, pkgerrors.ErrNotFound)
	}
	return a, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []string{}
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Writes counts successful writes.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
