// Package cache provides a small key-value cache abstraction: a Redis
// implementation for multi-replica deployments, and an in-process LRU
// implementation for single-replica or standalone deployments. The
// configuration store keeps its config in its own in-process slot and only
// deletes a key from this cache when a config update succeeds.
package cache

import (
	"context"
	"time"
)

// Cache is a generic TTL'd key-value store. Values are opaque byte slices;
// callers own their own serialization.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Error is a sentinel-comparable, code-tagged cache error so callers can
// branch on failure class without string matching.
type Error struct {
	Message string
	Code    string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

var ErrConnectionFailed = &Error{Message: "cache: connection failed", Code: "CONNECTION_ERROR"}
