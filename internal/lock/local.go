package lock

import (
	"context"
	"sync"
)

// LocalLocker is an in-process Locker keyed by string, used when no Redis is
// configured (standalone deployments, unit tests). It provides the same
// single-holder semantics Locker promises, scoped to this process only.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalLocker constructs an empty locker; per-key mutexes are created
// lazily on first use.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *LocalLocker) keyMutex(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

type localHandle struct{ mu *sync.Mutex }

func (h *localHandle) Release(_ context.Context) error {
	h.mu.Unlock()
	return nil
}

// Acquire blocks on the key's mutex, honoring ctx cancellation while
// waiting.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (Handle, error) {
	m := l.keyMutex(key)

	done := make(chan struct{})
	go func() {
		m.Lock()
		close(done)
	}()

	select {
	case <-done:
		return &localHandle{mu: m}, nil
	case <-ctx.Done():
		// The goroutine above may still acquire the mutex later; release it
		// immediately so we don't leak a permanently-held lock.
		go func() {
			<-done
			m.Unlock()
		}()
		return nil, ctx.Err()
	}
}

// TryAcquire attempts a non-blocking lock via sync.Mutex.TryLock.
func (l *LocalLocker) TryAcquire(_ context.Context, key string) (Handle, bool, error) {
	m := l.keyMutex(key)
	if !m.TryLock() {
		return nil, false, nil
	}
	return &localHandle{mu: m}, true, nil
}
