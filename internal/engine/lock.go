package engine

import (
	"context"
	"sync"
)

// userLocks serializes imports per user. A lock is a one-slot channel so
// waiting can be abandoned when the context ends. Entries are dropped once no
// caller holds or waits on them.
type userLocks struct {
	locks map[string]*userLock
	mu    sync.Mutex
}

type userLock struct {
	ch   chan struct{}
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

func (l *userLocks) acquire(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[userID]
	if !ok {
		lock = &userLock{ch: make(chan struct{}, 1)}
		l.locks[userID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lock.ch
				l.unref(userID, lock)
			})
		}, nil
	case <-ctx.Done():
		l.unref(userID, lock)
		return nil, ctx.Err()
	}
}

func (l *userLocks) unref(userID string, lock *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, userID)
	}
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
