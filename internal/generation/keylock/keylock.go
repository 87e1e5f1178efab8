// Package keylock serializes writers per artifact key. Different keys never contend.
package keylock

import (
	"context"
	"errors"
	"sync"
)

// ErrLockLost is the cause of a held context whose lease expired or was taken over.
var ErrLockLost = errors.New("key lock lost")

// Locker grants exclusive ownership of a key until the returned release func is called.
// The returned context is derived from ctx and ends early if ownership is lost; holders
// must stop writing once it is done.
type Locker interface {
	Lock(ctx context.Context, key string) (held context.Context, release func(), err error)
}

type entry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process Locker. Entries are reference counted and dropped once no
// goroutine holds or waits on them.
type Local struct {
	mu   sync.Mutex
	keys map[string]*entry
}

func NewLocal() *Local {
	return &Local{keys: map[string]*entry{}}
}

// Lock never loses ownership, so the held context is ctx itself.
func (l *Local) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, nil, ctx.Err()
	}

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}, nil
}

func (l *Local) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

// Held reports how many keys currently have holders or waiters.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
