// Package lock provides named mutual exclusion for operations that must
// not overlap, such as two deduplication passes over one workspace.
//
// Local serializes within one process. Redis serializes across every
// process sharing the Redis server and expires abandoned locks after a TTL.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLocked is returned when a lock stays held past the wait time.
var ErrLocked = errors.New("lock already held")

// Locker acquires named locks. The returned release func is safe to call
// more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Local is an in-process Locker.
type Local struct {
	wait time.Duration

	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocal returns a Local that waits up to wait for a busy key. A zero
// wait fails immediately.
func NewLocal(wait time.Duration) *Local {
	return &Local{wait: wait, held: make(map[string]chan struct{})}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	var deadline <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		l.mu.Lock()
		freed, busy := l.held[key]
		if !busy {
			ch := make(chan struct{})
			l.held[key] = ch
			l.mu.Unlock()
			return l.releaser(key, ch), nil
		}
		l.mu.Unlock()

		if deadline == nil {
			return nil, fmt.Errorf("%s: %w", key, ErrLocked)
		}
		select {
		case <-freed:
		case <-deadline:
			return nil, fmt.Errorf("%s: %w", key, ErrLocked)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *Local) releaser(key string, ch chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.held[key] == ch {
				delete(l.held, key)
			}
			l.mu.Unlock()
			close(ch)
		})
	}
}
