// Package lock provides per-record exclusive locks for ledger operations.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLockHeld is returned when a lock could not be obtained before the caller gave up.
var ErrLockHeld = errors.New("lock held by another operation")

// Manager hands out exclusive locks keyed by record address.
type Manager interface {
	// Acquire blocks until the lock for key is held or ctx is done.
	// The returned unlock function is safe to call more than once.
	Acquire(ctx context.Context, key string) (func(), error)
}

// Local is an in-process Manager.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// NewLocal creates an in-process lock manager.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*localEntry)}
}

// Acquire blocks until key is free or ctx is done.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, errors.Join(ErrLockHeld, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(key, e)
		})
	}, nil
}

// release drops a reference and forgets idle keys.
func (l *Local) release(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// AcquireAll takes the locks for keys in order and returns a single unlock.
// Callers pass keys in a fixed order to avoid lock-order inversions.
func AcquireAll(ctx context.Context, m Manager, keys ...string) (func(), error) {
	unlocks := make([]func(), 0, len(keys))
	unlockAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	for _, key := range keys {
		unlock, err := m.Acquire(ctx, key)
		if err != nil {
			unlockAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return unlockAll, nil
}

var _ Manager = (*Local)(nil)
