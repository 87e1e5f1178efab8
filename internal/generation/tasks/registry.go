package tasks

import (
	"fmt"
	"sync"

	pkgerrors "github.com/yungbote/curriculumgen/internal/pkg/errors"
)

// Registry keeps tasks in registration order, which is also their run order within a day.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tasks map[string]Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: map[string]Task{}}
}

func (r *Registry) Register(s Spec) error {
	t, err := MakeTask(s)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidArgument, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.Name]; exists {
		return fmt.Errorf("%w: task %s already registered", pkgerrors.ErrInvalidArgument, t.Name)
	}
	r.tasks[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

func (r *Registry) MustRegister(s Spec) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	if !ok {
		return Task{}, fmt.Errorf("task %s: %w", name, pkgerrors.ErrNotFound)
	}
	return t, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ForDay returns the tasks that run on day, in run order.
func (r *Registry) ForDay(day int) []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Task
	for _, name := range r.order {
		if t := r.tasks[name]; t.RunsOn(day) {
			out = append(out, t)
		}
	}
	return out
}

// ForField finds the task that writes field within scope.
func (r *Registry) ForField(field string, scope Scope) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if t := r.tasks[name]; t.Field == field && t.Scope == scope {
			return t, true
		}
	}
	return Task{}, false
}
