// Package lock provides the single-holder critical section primitive used
// by the configuration store's cache reload path and the command
// dispatcher's per-node serialization: a Redis-backed distributed lock for
// multi-replica deployments, and an in-process striped-mutex implementation
// for single-replica and standalone deployments.
package lock

import "context"

// Locker acquires and releases a named exclusive section. Implementations
// must make Acquire safe to call from multiple goroutines/processes
// concurrently for the same key: exactly one caller holds the lock at a
// time, and a second Acquire blocks (or fails, per TryAcquire) until it is
// released.
type Locker interface {
	// Acquire blocks until the lock for key is held or ctx is done.
	Acquire(ctx context.Context, key string) (Handle, error)

	// TryAcquire attempts to acquire the lock for key without blocking,
	// reporting false if it is already held.
	TryAcquire(ctx context.Context, key string) (Handle, bool, error)
}

// Handle represents a held lock; Release must be called exactly once.
type Handle interface {
	Release(ctx context.Context) error
}
