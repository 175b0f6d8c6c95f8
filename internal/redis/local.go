package redisclient

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// localLocker is the in-process Locker used when Redis is not configured.
// It only serializes requests within a single api-server instance.
type localLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*doctorLock
}

type doctorLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() Locker {
	return &localLocker{locks: make(map[uuid.UUID]*doctorLock)}
}

func (l *localLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	dl, ok := l.locks[doctorID]
	if !ok {
		dl = &doctorLock{ch: make(chan struct{}, 1)}
		l.locks[doctorID] = dl
	}
	dl.refs++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, doctorID)
		}
		l.mu.Unlock()
	}()

	select {
	case dl.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-dl.ch }()

	return fn(ctx)
}
