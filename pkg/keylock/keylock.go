// Package keylock provides per-key mutual exclusion without a global lock.
package keylock

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

type entry struct {
	mu   chan struct{}
	refs int
}

// Locker hands out one mutex per key. Entries are reference counted and
// removed once nobody holds or waits for them.
type Locker struct {
	mu    sync.Mutex
	locks *xsync.Map[string, *entry]
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{locks: xsync.NewMap[string, *entry]()}
}

func (l *Locker) acquireRef(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks.Load(key)
	if !ok {
		e = &entry{mu: make(chan struct{}, 1)}
		l.locks.Store(key, e)
	}
	e.refs++
	return e
}

func (l *Locker) releaseRef(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		l.locks.Delete(key)
	}
}

// Lock blocks until key is held or ctx is done. The returned func unlocks.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	e := l.acquireRef(key)
	select {
	case e.mu <- struct{}{}:
	case <-ctx.Done():
		l.releaseRef(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.mu
			l.releaseRef(key, e)
		})
	}, nil
}

// Len reports how many keys are currently tracked.
func (l *Locker) Len() int {
	return l.locks.Size()
}
